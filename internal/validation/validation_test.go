package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/schema"
)

func newValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	wv, err := NewWorkflowValidator()
	require.NoError(t, err)
	return wv
}

func linearDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:      "wf-linear",
		Enabled: true,
		Steps: []schema.WorkflowStep{
			{ID: "begin", Type: schema.StepTypeStart, NextStep: "greet"},
			{
				ID:       "greet",
				Type:     schema.StepTypeAgent,
				Config:   json.RawMessage(`{"agent":{"name":"writer"},"prompt":"say hello to ${input.name}","output_variable":"greeting"}`),
				NextStep: "done",
			},
			{ID: "done", Type: schema.StepTypeEnd},
		},
	}
}

func TestValidateLinearWorkflow(t *testing.T) {
	wv := newValidator(t)

	result := wv.Validate(linearDefinition())
	assert.True(t, result.Valid(), "unexpected errors: %+v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateRequiresID(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.ID = ""
	result := wv.Validate(def)
	assert.False(t, result.Valid())
}

func TestValidateRejectsDuplicateStepIDs(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps = append(def.Steps, schema.WorkflowStep{ID: "greet", Type: schema.StepTypeEnd})
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "duplicate step id")
}

func TestValidateRejectsUnknownStepType(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1].Type = "teleport"
	result := wv.Validate(def)
	assert.False(t, result.Valid())
}

func TestValidateRejectsDanglingNextStep(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1].NextStep = "missing"
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "non-existent step")
}

func TestValidateRejectsDanglingOnError(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1].OnError = "missing"
	result := wv.Validate(def)
	assert.False(t, result.Valid())
}

func TestValidateConditionNeedsBranchesOrSwitch(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1] = schema.WorkflowStep{
		ID:     "greet",
		Type:   schema.StepTypeCondition,
		Config: json.RawMessage(`{"default_step":"done"}`),
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "branches or switch_variable")
}

func TestValidateConditionRequiresDefaultStep(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1] = schema.WorkflowStep{
		ID:     "greet",
		Type:   schema.StepTypeCondition,
		Config: json.RawMessage(`{"branches":[{"condition":"x == 1","next_step":"done"}]}`),
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "default_step is required")
}

func TestValidateConditionRejectsUnknownLanguage(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1] = schema.WorkflowStep{
		ID:     "greet",
		Type:   schema.StepTypeCondition,
		Config: json.RawMessage(`{"branches":[{"condition":"x == 1","language":"lua","next_step":"done"}],"default_step":"done"}`),
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "unknown expression language")
}

func TestValidateSwitchCaseTargets(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1] = schema.WorkflowStep{
		ID:     "greet",
		Type:   schema.StepTypeCondition,
		Config: json.RawMessage(`{"switch_variable":"tier","cases":{"gold":"missing"},"default_step":"done"}`),
	}
	result := wv.Validate(def)
	assert.False(t, result.Valid())
}

func TestValidateParallelNeedsBranches(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1] = schema.WorkflowStep{
		ID:       "greet",
		Type:     schema.StepTypeParallel,
		Config:   json.RawMessage(`{"parallel_branches":[]}`),
		NextStep: "done",
	}
	result := wv.Validate(def)
	assert.False(t, result.Valid())
}

func TestValidateParallelRejectsDuplicateBranchIDs(t *testing.T) {
	wv := newValidator(t)

	branch := `{"id":"b1","step":{"id":"sub","type":"agent","config":{"agent":{"name":"a"},"prompt":"p"}}}`
	def := linearDefinition()
	def.Steps[1] = schema.WorkflowStep{
		ID:       "greet",
		Type:     schema.StepTypeParallel,
		Config:   json.RawMessage(`{"parallel_branches":[` + branch + `,` + branch + `]}`),
		NextStep: "done",
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "duplicate branch id")
}

func TestValidateLoopNeedsItemsVariable(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1] = schema.WorkflowStep{
		ID:       "greet",
		Type:     schema.StepTypeLoop,
		Config:   json.RawMessage(`{"loop_type":"for_each","step_config":{"id":"body","type":"agent","config":{"agent":{"name":"a"},"prompt":"p"}}}`),
		NextStep: "done",
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "items_variable")
}

func TestValidateLoopNeedsBody(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1] = schema.WorkflowStep{
		ID:       "greet",
		Type:     schema.StepTypeLoop,
		Config:   json.RawMessage(`{"loop_type":"times","times":3}`),
		NextStep: "done",
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "step_config")
}

func TestValidateHierarchicalNeedsManager(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1] = schema.WorkflowStep{
		ID:       "greet",
		Type:     schema.StepTypeMultiAgent,
		Config:   json.RawMessage(`{"pattern":"hierarchical","agents":[{"name":"a"}],"task":"review"}`),
		NextStep: "done",
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "manager_agent")
}

func TestValidateRejectsUnknownActionType(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1] = schema.WorkflowStep{
		ID:       "greet",
		Type:     schema.StepTypeAction,
		Config:   json.RawMessage(`{"action_type":"fax"}`),
		NextStep: "done",
	}
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "unknown action type")
}

func TestValidateUnreachableStepWarns(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps = append(def.Steps, schema.WorkflowStep{
		ID:     "orphan",
		Type:   schema.StepTypeAgent,
		Config: json.RawMessage(`{"agent":{"name":"a"},"prompt":"p"}`),
	})
	result := wv.Validate(def)
	assert.True(t, result.Valid())
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0].Message, "unreachable")
}

func TestResolveStartStep(t *testing.T) {
	def := linearDefinition()
	assert.Equal(t, "begin", ResolveStartStep(def))

	def.StartStep = "greet"
	assert.Equal(t, "greet", ResolveStartStep(def))

	def.StartStep = ""
	def.Steps[0].Type = schema.StepTypeAgent
	def.Steps[0].Config = json.RawMessage(`{"agent":{"name":"a"},"prompt":"p"}`)
	assert.Equal(t, "begin", ResolveStartStep(def))
}

func TestValidateInput(t *testing.T) {
	wv := newValidator(t)

	inputSchema := []byte(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)

	err := wv.ValidateInput(map[string]any{"name": "ada"}, inputSchema)
	assert.NoError(t, err)

	err = wv.ValidateInput(map[string]any{}, inputSchema)
	require.Error(t, err)
	var engineErr *schema.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, schema.ErrCodeValidation, engineErr.Code)

	// No schema means no validation.
	assert.NoError(t, wv.ValidateInput(map[string]any{}, nil))
}

func TestValidateOutput(t *testing.T) {
	wv := newValidator(t)

	outputSchema := []byte(`{"type":"object","required":["greeting"]}`)
	assert.NoError(t, wv.ValidateOutput(map[string]any{"greeting": "hi"}, outputSchema))
	assert.Error(t, wv.ValidateOutput(map[string]any{}, outputSchema))
}

func TestCompileDecodesConfigs(t *testing.T) {
	wv := newValidator(t)

	compiled, err := wv.Compile(linearDefinition())
	require.NoError(t, err)
	assert.Equal(t, "begin", compiled.Start)
	require.Len(t, compiled.Steps, 3)

	greet := compiled.Step("greet")
	require.NotNil(t, greet)
	require.NotNil(t, greet.Agent)
	assert.Equal(t, "writer", greet.Agent.Agent.Name)
	assert.Equal(t, "greeting", greet.Agent.OutputVariable)
	assert.Nil(t, greet.Condition)

	assert.Nil(t, compiled.Step("missing"))
}

func TestCompileRejectsInvalidDefinition(t *testing.T) {
	wv := newValidator(t)

	def := linearDefinition()
	def.Steps[1].NextStep = "missing"
	_, err := wv.Compile(def)
	require.Error(t, err)
}
