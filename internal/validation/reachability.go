package validation

import (
	"fmt"
	"sort"

	"github.com/weftlabs/weft/pkg/schema"
)

// validateReachability walks the pointer graph (BFS from the start step over
// next_step, on_error and branch targets) and flags steps no path can
// reach. Cycles are legal here: a condition pointing back upstream is how
// graph-level loops are written, and the run-level step cap bounds them.
func validateReachability(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	steps := make(map[string]*schema.WorkflowStep, len(def.Steps))
	for i := range def.Steps {
		steps[def.Steps[i].ID] = &def.Steps[i]
	}

	start := ResolveStartStep(def)
	if start == "" {
		return result // structural stage guarantees at least one step
	}

	visited := make(map[string]bool, len(steps))
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		step, ok := steps[id]
		if !ok {
			continue // dangling refs already caught by semantic
		}
		for _, target := range stepTargets(step) {
			if target != "" && !visited[target] {
				queue = append(queue, target)
			}
		}
	}

	if len(visited) == len(steps) {
		return result
	}

	unreachable := make([]string, 0, len(steps)-len(visited))
	for id := range steps {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	for _, id := range unreachable {
		result.AddWarning("steps", schema.ErrCodeValidation,
			fmt.Sprintf("step %q is unreachable from the start step", id))
	}
	return result
}

// stepTargets collects every step ID a step can transfer control to.
func stepTargets(step *schema.WorkflowStep) []string {
	targets := []string{step.NextStep, step.OnError}

	if step.Type == schema.StepTypeCondition {
		cfg, err := decodeStepConfig(step)
		if err != nil || cfg.Condition == nil {
			return targets
		}
		for _, b := range cfg.Condition.Branches {
			targets = append(targets, b.NextStep)
		}
		for _, target := range cfg.Condition.Cases {
			targets = append(targets, target)
		}
		targets = append(targets, cfg.Condition.DefaultStep)
	}
	return targets
}

// ResolveStartStep returns the entry step ID for a definition: the explicit
// start_step when set, otherwise the first step of type "start", otherwise
// the first step.
func ResolveStartStep(def *schema.WorkflowDefinition) string {
	if def.StartStep != "" {
		return def.StartStep
	}
	for _, s := range def.Steps {
		if s.Type == schema.StepTypeStart {
			return s.ID
		}
	}
	if len(def.Steps) > 0 {
		return def.Steps[0].ID
	}
	return ""
}
