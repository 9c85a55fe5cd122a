package engine

import (
	"github.com/weftlabs/weft/pkg/schema"
)

// runTransitions is the legal run-status state machine.
// pending -> running -> success | failed | cancelled. Terminal states
// have no outgoing edges.
var runTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending: {schema.RunStatusRunning, schema.RunStatusCancelled},
	schema.RunStatusRunning: {schema.RunStatusSuccess, schema.RunStatusFailed, schema.RunStatusCancelled},
}

// stepTransitions mirrors runTransitions for individual steps.
var stepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending: {schema.StepStatusRunning, schema.StepStatusCancelled},
	schema.StepStatusRunning: {schema.StepStatusSuccess, schema.StepStatusFailed, schema.StepStatusCancelled},
}

// CanTransitionRun reports whether a run may move from one status to another.
func CanTransitionRun(from, to schema.RunStatus) bool {
	for _, allowed := range runTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionStep reports whether a step may move from one status to another.
func CanTransitionStep(from, to schema.StepStatus) bool {
	for _, allowed := range stepTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionRun validates and returns the new status, or an
// INVALID_TRANSITION error.
func TransitionRun(from, to schema.RunStatus) (schema.RunStatus, error) {
	if !CanTransitionRun(from, to) {
		return from, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"illegal run transition %s -> %s", from, to)
	}
	return to, nil
}

// TransitionStep mirrors TransitionRun for step statuses.
func TransitionStep(from, to schema.StepStatus) (schema.StepStatus, error) {
	if !CanTransitionStep(from, to) {
		return from, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"illegal step transition %s -> %s", from, to)
	}
	return to, nil
}

// advanceRun moves a run result along the state machine; an illegal move
// leaves the status untouched.
func advanceRun(result *schema.ExecutionResult, to schema.RunStatus) {
	if next, err := TransitionRun(result.Status, to); err == nil {
		result.Status = next
	}
}

// advanceStep mirrors advanceRun for step results.
func advanceStep(result *schema.StepResult, to schema.StepStatus) {
	if next, err := TransitionStep(result.Status, to); err == nil {
		result.Status = next
	}
}

// IsTerminalRun reports whether a run status is final.
func IsTerminalRun(status schema.RunStatus) bool {
	return len(runTransitions[status]) == 0 && status != ""
}
