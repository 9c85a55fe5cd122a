// Package trigger turns external events into workflow runs. A Payload is
// the normalized shape every trigger kind reduces to; the Scheduler handles
// the schedule kind by polling registered cron entries. Delivery mechanics
// for webhook and event triggers live with the embedding application.
package trigger

import (
	"context"

	"github.com/weftlabs/weft/pkg/schema"
)

// Payload is what a trigger hands the engine: which workflow to run and the
// input map seeding the run's variable store.
type Payload struct {
	WorkflowID string         `json:"workflow_id"`
	Input      map[string]any `json:"input,omitempty"`
}

// Kind enumerates the trigger sources a payload can originate from.
type Kind string

const (
	KindManual   Kind = "manual"
	KindSchedule Kind = "schedule"
	KindWebhook  Kind = "webhook"
	KindEvent    Kind = "event"
)

// Runner starts workflow runs. Satisfied by engine.Runner; declared here to
// avoid an import cycle.
type Runner interface {
	Execute(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any) (*schema.ExecutionResult, error)
}

// DefinitionSource resolves workflow IDs to definitions. Satisfied by the
// persistence store.
type DefinitionSource interface {
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
}

// Fire resolves and runs the workflow a payload names.
func Fire(ctx context.Context, defs DefinitionSource, runner Runner, p Payload) (*schema.ExecutionResult, error) {
	def, err := defs.GetDefinition(ctx, p.WorkflowID)
	if err != nil {
		return nil, err
	}
	return runner.Execute(ctx, def, p.Input)
}
