package validation

import (
	"github.com/weftlabs/weft/pkg/schema"
)

// CompiledStep is a workflow step with its type-specific config decoded.
type CompiledStep struct {
	schema.WorkflowStep

	Agent      *schema.AgentStepConfig
	Condition  *schema.ConditionConfig
	Parallel   *schema.ParallelConfig
	Loop       *schema.LoopConfig
	MultiAgent *schema.MultiAgentConfig
	Action     *schema.ActionConfig
	Wait       *schema.WaitConfig
}

// CompiledWorkflow is a validated definition indexed by step ID, ready for
// the interpreter. Immutable after Compile.
type CompiledWorkflow struct {
	Definition *schema.WorkflowDefinition
	Steps      map[string]*CompiledStep
	Start      string
}

// Step returns the compiled step for an ID, or nil.
func (w *CompiledWorkflow) Step(id string) *CompiledStep {
	return w.Steps[id]
}

// Compile validates a definition and decodes every step config into its
// typed form. The returned workflow is the only shape the interpreter
// accepts; raw definitions never reach execution.
func (wv *WorkflowValidator) Compile(def *schema.WorkflowDefinition) (*CompiledWorkflow, error) {
	if err := wv.Validate(def).ToError(); err != nil {
		return nil, err
	}

	compiled := &CompiledWorkflow{
		Definition: def,
		Steps:      make(map[string]*CompiledStep, len(def.Steps)),
		Start:      ResolveStartStep(def),
	}
	for i := range def.Steps {
		cs, err := CompileStep(&def.Steps[i])
		if err != nil {
			return nil, err
		}
		compiled.Steps[cs.ID] = cs
	}
	return compiled, nil
}

// CompileStep decodes one step's config. Also used for nested steps inside
// parallel branches and loop bodies.
func CompileStep(step *schema.WorkflowStep) (*CompiledStep, error) {
	cfg, err := decodeStepConfig(step)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithStep(step.ID)
	}
	return &CompiledStep{
		WorkflowStep: *step,
		Agent:        cfg.Agent,
		Condition:    cfg.Condition,
		Parallel:     cfg.Parallel,
		Loop:         cfg.Loop,
		MultiAgent:   cfg.MultiAgent,
		Action:       cfg.Action,
		Wait:         cfg.Wait,
	}, nil
}
