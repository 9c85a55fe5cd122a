package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/schema"
)

func TestMemoryStoreDefinitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	def := &schema.WorkflowDefinition{
		ID:      "wf-1",
		Name:    "greeter",
		Enabled: true,
		Steps: []schema.WorkflowStep{
			{ID: "begin", Type: schema.StepTypeStart},
		},
	}
	require.NoError(t, s.SaveDefinition(ctx, def))

	got, err := s.GetDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "greeter", got.Name)
	require.Len(t, got.Steps, 1)

	// Stored copy must be isolated from caller mutation.
	def.Name = "mutated"
	got, err = s.GetDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "greeter", got.Name)

	defs, err := s.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	require.NoError(t, s.DeleteDefinition(ctx, "wf-1"))
	_, err = s.GetDefinition(ctx, "wf-1")
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, schema.ErrCodeNotFound, engineErr.Code)
}

func TestMemoryStoreRejectsMissingID(t *testing.T) {
	s := NewMemoryStore()

	err := s.SaveDefinition(context.Background(), &schema.WorkflowDefinition{})
	require.Error(t, err)

	err = s.SaveExecution(context.Background(), &schema.ExecutionResult{})
	require.Error(t, err)
}

func TestMemoryStoreExecutions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"exec-a", "exec-b", "exec-c"} {
		require.NoError(t, s.SaveExecution(ctx, &schema.ExecutionResult{
			ExecutionID: id,
			WorkflowID:  "wf-1",
			Status:      schema.RunStatusSuccess,
			StartedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.SaveExecution(ctx, &schema.ExecutionResult{
		ExecutionID: "exec-other",
		WorkflowID:  "wf-2",
		Status:      schema.RunStatusFailed,
		StartedAt:   base,
	}))

	got, err := s.GetExecution(ctx, "exec-b")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, got.Status)

	// Newest first, filtered by workflow.
	list, err := s.ListExecutions(ctx, "wf-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "exec-c", list[0].ExecutionID)

	list, err = s.ListExecutions(ctx, "wf-1", 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = s.ListExecutions(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestMemoryStoreUpdateExecution(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	result := &schema.ExecutionResult{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Status:      schema.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveExecution(ctx, result))

	result.Status = schema.RunStatusSuccess
	require.NoError(t, s.SaveExecution(ctx, result))

	got, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, got.Status)
}
