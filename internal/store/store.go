package store

import (
	"context"

	"github.com/weftlabs/weft/pkg/schema"
)

// Store persists workflow definitions and execution records. Implementations
// must be safe for concurrent use.
type Store interface {
	SaveDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context) ([]*schema.WorkflowDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error

	SaveExecution(ctx context.Context, result *schema.ExecutionResult) error
	GetExecution(ctx context.Context, id string) (*schema.ExecutionResult, error)
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]*schema.ExecutionResult, error)

	Close() error
}

func notFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}
