package schema

import "time"

// RunStatus represents the lifecycle state of one execution.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StepStatus represents the lifecycle state of one step within a run.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSuccess   StepStatus = "success"
	StepStatusFailed    StepStatus = "failed"
	StepStatusCancelled StepStatus = "cancelled"
)

// StepResult records one step's outcome. It is created when the step begins,
// mutated only by the interpreter executing it, and immutable once
// CompletedAt is set.
type StepResult struct {
	StepID      string       `json:"step_id"`
	Status      StepStatus   `json:"status"`
	Output      any          `json:"output,omitempty"`
	Error       *EngineError `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	DurationMs  int64        `json:"duration_ms"`
	RetryCount  int          `json:"retry_count"`
}

// ExecutionResult is the final record of one run. The run controller owns it
// exclusively for the run's lifetime, finalizes it exactly once, then hands
// it to the persistence collaborator.
type ExecutionResult struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Status      RunStatus      `json:"status"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Steps       []*StepResult  `json:"steps"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	Error       *EngineError   `json:"error,omitempty"`
}
