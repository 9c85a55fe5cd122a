package engine

import (
	"context"

	"github.com/weftlabs/weft/pkg/schema"
)

// Observer receives lifecycle callbacks during a run. Callbacks fire
// synchronously on the run's goroutines, so implementations must return
// quickly and never block on the engine.
type Observer interface {
	RunStarted(ctx context.Context, result *schema.ExecutionResult)
	RunFinished(ctx context.Context, result *schema.ExecutionResult)
	StepFinished(ctx context.Context, executionID string, result *schema.StepResult)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) RunStarted(context.Context, *schema.ExecutionResult)          {}
func (NopObserver) RunFinished(context.Context, *schema.ExecutionResult)         {}
func (NopObserver) StepFinished(context.Context, string, *schema.StepResult)     {}

var _ Observer = NopObserver{}
