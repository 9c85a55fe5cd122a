package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeBranchNotMatched   = "BRANCH_NOT_MATCHED"
	ErrCodeVariableResolution = "VARIABLE_RESOLUTION"
	ErrCodeStepTimeout        = "STEP_TIMEOUT"
	ErrCodeLoopLimitExceeded  = "LOOP_LIMIT_EXCEEDED"
	ErrCodeStepExecution      = "STEP_EXECUTION"
	ErrCodeRunCancelled       = "RUN_CANCELLED"
	ErrCodeRetryExhausted     = "RETRY_EXHAUSTED"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeInterpolation      = "INTERPOLATION_ERROR"
)

// EngineError is the structured error type for all engine operations.
type EngineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	StepID  string         `json:"step_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the retry governor may re-attempt a step that
// failed with this error. Deterministic errors never retry.
func (e *EngineError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeBranchNotMatched, ErrCodeVariableResolution,
		ErrCodeLoopLimitExceeded, ErrCodeRunCancelled, ErrCodeInvalidTransition,
		ErrCodeNotFound, ErrCodeConflict, ErrCodeInterpolation:
		return false
	}
	return true
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsEngineError returns err as an *EngineError, wrapping untyped errors
// under STEP_EXECUTION.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}
	return NewError(ErrCodeStepExecution, err.Error()).WithCause(err)
}

// WithStep attaches a step ID to the error.
func (e *EngineError) WithStep(stepID string) *EngineError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}
