package validation

import (
	"encoding/json"
	"fmt"

	"github.com/weftlabs/weft/pkg/schema"
)

// stepConfigs holds the decoded type-specific config for one step. Exactly
// one field is set for typed steps; all are nil for start/end.
type stepConfigs struct {
	Agent      *schema.AgentStepConfig
	Condition  *schema.ConditionConfig
	Parallel   *schema.ParallelConfig
	Loop       *schema.LoopConfig
	MultiAgent *schema.MultiAgentConfig
	Action     *schema.ActionConfig
	Wait       *schema.WaitConfig
}

// decodeStepConfig unmarshals a step's config payload into its typed form.
func decodeStepConfig(step *schema.WorkflowStep) (*stepConfigs, error) {
	cfg := &stepConfigs{}
	raw := step.Config
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var err error
	switch step.Type {
	case schema.StepTypeAgent:
		cfg.Agent = &schema.AgentStepConfig{}
		err = json.Unmarshal(raw, cfg.Agent)
	case schema.StepTypeCondition:
		cfg.Condition = &schema.ConditionConfig{}
		err = json.Unmarshal(raw, cfg.Condition)
	case schema.StepTypeParallel:
		cfg.Parallel = &schema.ParallelConfig{}
		err = json.Unmarshal(raw, cfg.Parallel)
	case schema.StepTypeLoop:
		cfg.Loop = &schema.LoopConfig{}
		err = json.Unmarshal(raw, cfg.Loop)
	case schema.StepTypeMultiAgent:
		cfg.MultiAgent = &schema.MultiAgentConfig{}
		err = json.Unmarshal(raw, cfg.MultiAgent)
	case schema.StepTypeAction:
		cfg.Action = &schema.ActionConfig{}
		err = json.Unmarshal(raw, cfg.Action)
	case schema.StepTypeWait:
		cfg.Wait = &schema.WaitConfig{}
		err = json.Unmarshal(raw, cfg.Wait)
	case schema.StepTypeStart, schema.StepTypeEnd:
		// No config.
	default:
		return nil, fmt.Errorf("unknown step type %q", step.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s config: %w", step.Type, err)
	}
	return cfg, nil
}

// validateSemantic checks step pointer targets and type-specific config
// payloads. Control-flow steps embed their requirements here: condition
// steps need an exhaustive default, loops need a body, parallel steps need
// branches with unique ids.
func validateSemantic(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepIDs := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		stepIDs[s.ID] = true
	}

	if def.StartStep != "" && !stepIDs[def.StartStep] {
		result.AddError("start_step", schema.ErrCodeValidation,
			fmt.Sprintf("references non-existent step %q", def.StartStep))
	}

	for i := range def.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		validateStepSemantic(&def.Steps[i], path, stepIDs, result)
	}

	return result
}

func validateStepSemantic(step *schema.WorkflowStep, path string, stepIDs map[string]bool, result *schema.ValidationResult) {
	checkTarget := func(field, target string) {
		if target != "" && !stepIDs[target] {
			result.AddError(path+"."+field, schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent step %q", target))
		}
	}
	checkTarget("next_step", step.NextStep)
	checkTarget("on_error", step.OnError)

	validateStepConfig(step, path, stepIDs, result)
}

func validateStepConfig(step *schema.WorkflowStep, path string, stepIDs map[string]bool, result *schema.ValidationResult) {
	cfg, err := decodeStepConfig(step)
	if err != nil {
		result.AddError(path+".config", schema.ErrCodeValidation, err.Error())
		return
	}

	switch step.Type {
	case schema.StepTypeAgent:
		if cfg.Agent.Agent.Name == "" {
			result.AddError(path+".config.agent.name", schema.ErrCodeValidation, "agent name is required")
		}
		if cfg.Agent.Prompt == "" && cfg.Agent.Agent.Prompt == "" {
			result.AddError(path+".config.prompt", schema.ErrCodeValidation, "prompt is required")
		}

	case schema.StepTypeCondition:
		validateConditionConfig(cfg.Condition, path, stepIDs, result)

	case schema.StepTypeParallel:
		validateParallelConfig(cfg.Parallel, path, stepIDs, result)

	case schema.StepTypeLoop:
		validateLoopConfig(cfg.Loop, path, stepIDs, result)

	case schema.StepTypeMultiAgent:
		validateMultiAgentConfig(cfg.MultiAgent, path, result)

	case schema.StepTypeAction:
		switch cfg.Action.ActionType {
		case schema.ActionHTTP, schema.ActionDB, schema.ActionEmail, schema.ActionWebhook, schema.ActionTransform:
		case "":
			result.AddError(path+".config.action_type", schema.ErrCodeValidation, "action_type is required")
		default:
			result.AddError(path+".config.action_type", schema.ErrCodeValidation,
				fmt.Sprintf("unknown action type %q", cfg.Action.ActionType))
		}

	case schema.StepTypeWait:
		if ot := cfg.Wait.OnTimeout; ot != "" && ot != "continue" && ot != "error" {
			result.AddError(path+".config.on_timeout", schema.ErrCodeValidation,
				fmt.Sprintf("on_timeout must be \"continue\" or \"error\", got %q", ot))
		}
		if step.TimeoutSeconds == 0 {
			result.AddWarning(path+".timeout_seconds", schema.ErrCodeValidation,
				"wait step without timeout_seconds blocks until the signal arrives")
		}
	}

	if step.Retry != nil && step.Retry.MaxRetries > 10 {
		result.AddWarning(path+".retry_policy.max_retries", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", step.Retry.MaxRetries))
	}
}

func validateConditionConfig(cfg *schema.ConditionConfig, path string, stepIDs map[string]bool, result *schema.ValidationResult) {
	branchMode := len(cfg.Branches) > 0
	switchMode := cfg.SwitchVariable != "" || len(cfg.Cases) > 0

	if !branchMode && !switchMode {
		result.AddError(path+".config", schema.ErrCodeValidation,
			"condition step needs branches or switch_variable with cases")
		return
	}
	if branchMode && switchMode {
		result.AddError(path+".config", schema.ErrCodeValidation,
			"condition step cannot mix branches with switch_variable")
		return
	}

	// The default arm keeps routing total: without one, an unmatched input
	// would only surface mid-run.
	if cfg.DefaultStep == "" {
		result.AddError(path+".config.default_step", schema.ErrCodeValidation,
			"default_step is required")
	} else if !stepIDs[cfg.DefaultStep] {
		result.AddError(path+".config.default_step", schema.ErrCodeValidation,
			fmt.Sprintf("references non-existent step %q", cfg.DefaultStep))
	}

	for j, branch := range cfg.Branches {
		bpath := fmt.Sprintf("%s.config.branches[%d]", path, j)
		if branch.Condition == "" {
			result.AddError(bpath+".condition", schema.ErrCodeValidation, "condition is required")
		}
		if lang := branch.Language; lang != "" && lang != "expr" && lang != "cel" {
			result.AddError(bpath+".language", schema.ErrCodeValidation,
				fmt.Sprintf("unknown expression language %q", lang))
		}
		if branch.NextStep == "" {
			result.AddError(bpath+".next_step", schema.ErrCodeValidation, "next_step is required")
		} else if !stepIDs[branch.NextStep] {
			result.AddError(bpath+".next_step", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent step %q", branch.NextStep))
		}
	}

	if switchMode {
		if cfg.SwitchVariable == "" {
			result.AddError(path+".config.switch_variable", schema.ErrCodeValidation, "switch_variable is required")
		}
		for caseValue, target := range cfg.Cases {
			if !stepIDs[target] {
				result.AddError(fmt.Sprintf("%s.config.cases[%s]", path, caseValue),
					schema.ErrCodeValidation,
					fmt.Sprintf("references non-existent step %q", target))
			}
		}
	}
}

func validateParallelConfig(cfg *schema.ParallelConfig, path string, stepIDs map[string]bool, result *schema.ValidationResult) {
	if len(cfg.Branches) == 0 {
		result.AddError(path+".config.parallel_branches", schema.ErrCodeValidation,
			"parallel step needs at least one branch")
		return
	}

	switch cfg.JoinStrategy {
	case "", schema.JoinAll, schema.JoinAny, schema.JoinFirst:
	default:
		result.AddError(path+".config.join_strategy", schema.ErrCodeValidation,
			fmt.Sprintf("unknown join strategy %q", cfg.JoinStrategy))
	}
	if cfg.MaxConcurrent < 0 {
		result.AddError(path+".config.max_concurrent", schema.ErrCodeValidation,
			"max_concurrent cannot be negative")
	}

	seen := make(map[string]bool, len(cfg.Branches))
	for j := range cfg.Branches {
		branch := &cfg.Branches[j]
		bpath := fmt.Sprintf("%s.config.parallel_branches[%d]", path, j)
		if branch.ID == "" {
			result.AddError(bpath+".id", schema.ErrCodeValidation, "branch id is required")
		} else if seen[branch.ID] {
			result.AddError(bpath+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate branch id %q", branch.ID))
		}
		seen[branch.ID] = true
		validateNestedStep(&branch.Step, bpath+".step", stepIDs, result)
	}
}

func validateLoopConfig(cfg *schema.LoopConfig, path string, stepIDs map[string]bool, result *schema.ValidationResult) {
	if cfg.Step == nil {
		result.AddError(path+".config.step_config", schema.ErrCodeValidation,
			"loop step needs a step_config body")
		return
	}
	validateNestedStep(cfg.Step, path+".config.step_config", stepIDs, result)

	switch cfg.LoopType {
	case schema.LoopForEach, schema.LoopMap:
		if cfg.ItemsVariable == "" {
			result.AddError(path+".config.items_variable", schema.ErrCodeValidation,
				fmt.Sprintf("%s loop needs items_variable", cfg.LoopType))
		}
	case schema.LoopWhile, schema.LoopUntil:
		if cfg.Condition == "" {
			result.AddError(path+".config.condition", schema.ErrCodeValidation,
				fmt.Sprintf("%s loop needs a condition", cfg.LoopType))
		}
		if lang := cfg.ConditionLanguage; lang != "" && lang != "expr" && lang != "cel" {
			result.AddError(path+".config.condition_language", schema.ErrCodeValidation,
				fmt.Sprintf("unknown expression language %q", lang))
		}
	case schema.LoopTimes:
		if cfg.Times <= 0 {
			result.AddError(path+".config.times", schema.ErrCodeValidation,
				"times loop needs times >= 1")
		}
	default:
		result.AddError(path+".config.loop_type", schema.ErrCodeValidation,
			fmt.Sprintf("unknown loop type %q", cfg.LoopType))
	}

	if cfg.MaxIterations < 0 {
		result.AddError(path+".config.max_iterations", schema.ErrCodeValidation,
			"max_iterations cannot be negative")
	}
}

func validateMultiAgentConfig(cfg *schema.MultiAgentConfig, path string, result *schema.ValidationResult) {
	switch cfg.Pattern {
	case schema.PatternSequential, schema.PatternHierarchical, schema.PatternCollaborative,
		schema.PatternDebate, schema.PatternRouter, schema.PatternVoting, schema.PatternChain:
	case "":
		result.AddError(path+".config.pattern", schema.ErrCodeValidation, "pattern is required")
	default:
		result.AddError(path+".config.pattern", schema.ErrCodeValidation,
			fmt.Sprintf("unknown orchestration pattern %q", cfg.Pattern))
	}

	if len(cfg.Agents) == 0 {
		result.AddError(path+".config.agents", schema.ErrCodeValidation,
			"multi_agent step needs at least one agent")
	}
	for j, agent := range cfg.Agents {
		if agent.Name == "" {
			result.AddError(fmt.Sprintf("%s.config.agents[%d].name", path, j),
				schema.ErrCodeValidation, "agent name is required")
		}
	}

	if cfg.Task == "" {
		result.AddError(path+".config.task", schema.ErrCodeValidation, "task is required")
	}
	if cfg.Pattern == schema.PatternHierarchical && cfg.ManagerAgent == nil {
		result.AddError(path+".config.manager_agent", schema.ErrCodeValidation,
			"hierarchical pattern needs a manager_agent")
	}
	if cfg.MaxRounds < 0 {
		result.AddError(path+".config.max_rounds", schema.ErrCodeValidation,
			"max_rounds cannot be negative")
	}
}

// validateNestedStep checks a sub-step embedded in a parallel branch or loop
// body. Nested steps run as isolated sub-executions, so next_step/on_error
// pointers are ignored and flagged when present.
func validateNestedStep(step *schema.WorkflowStep, path string, stepIDs map[string]bool, result *schema.ValidationResult) {
	if step.ID == "" {
		result.AddError(path+".id", schema.ErrCodeValidation, "step id is required")
	}
	if step.Type == "" {
		result.AddError(path+".type", schema.ErrCodeValidation, "step type is required")
		return
	}
	if step.Type == schema.StepTypeStart || step.Type == schema.StepTypeEnd {
		result.AddError(path+".type", schema.ErrCodeValidation,
			fmt.Sprintf("%s steps cannot be nested", step.Type))
		return
	}
	if step.NextStep != "" || step.OnError != "" {
		result.AddWarning(path, schema.ErrCodeValidation,
			"next_step/on_error on nested steps are ignored")
	}

	validateStepConfig(step, path, stepIDs, result)
}
