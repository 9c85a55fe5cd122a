package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func TestLibSQLSaveAndGetDefinition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := &schema.WorkflowDefinition{
		ID:      "wf-1",
		Name:    "greeter",
		Version: "1.0.0",
		Enabled: true,
		Steps: []schema.WorkflowStep{
			{ID: "begin", Type: schema.StepTypeStart, NextStep: "end"},
			{ID: "end", Type: schema.StepTypeEnd},
		},
	}
	require.NoError(t, s.SaveDefinition(ctx, def))

	got, err := s.GetDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "greeter", got.Name)
	assert.Equal(t, "1.0.0", got.Version)
	assert.True(t, got.Enabled)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "end", got.Steps[0].NextStep)
}

func TestLibSQLSaveDefinitionUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := &schema.WorkflowDefinition{ID: "wf-1", Name: "v1", Enabled: true}
	require.NoError(t, s.SaveDefinition(ctx, def))

	def.Name = "v2"
	def.Enabled = false
	require.NoError(t, s.SaveDefinition(ctx, def))

	got, err := s.GetDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)
	assert.False(t, got.Enabled)

	defs, err := s.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestLibSQLDefinitionNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetDefinition(ctx, "missing")
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, schema.ErrCodeNotFound, engineErr.Code)

	err = s.DeleteDefinition(ctx, "missing")
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, schema.ErrCodeNotFound, engineErr.Code)
}

func TestLibSQLDeleteDefinition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDefinition(ctx, &schema.WorkflowDefinition{ID: "wf-1", Name: "x"}))
	require.NoError(t, s.DeleteDefinition(ctx, "wf-1"))

	_, err := s.GetDefinition(ctx, "wf-1")
	require.Error(t, err)
}

func TestLibSQLRejectsMissingID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.Error(t, s.SaveDefinition(ctx, &schema.WorkflowDefinition{}))
	require.Error(t, s.SaveExecution(ctx, &schema.ExecutionResult{}))
}

func TestLibSQLExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"exec-a", "exec-b", "exec-c"} {
		require.NoError(t, s.SaveExecution(ctx, &schema.ExecutionResult{
			ExecutionID: id,
			WorkflowID:  "wf-1",
			Status:      schema.RunStatusSuccess,
			StartedAt:   base.Add(time.Duration(i) * time.Second),
			Outputs:     map[string]any{"n": float64(i)},
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
	assert.Equal(t, float64(1), got.Outputs["n"])

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

func TestLibSQLUpdateExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	result := &schema.ExecutionResult{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Status:      schema.RunStatusRunning,
		StartedAt:   started,
	}
	require.NoError(t, s.SaveExecution(ctx, result))

	completed := started.Add(2 * time.Second)
	result.Status = schema.RunStatusSuccess
	result.CompletedAt = &completed
	result.DurationMs = 2000
	require.NoError(t, s.SaveExecution(ctx, result))

	got, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, int64(2000), got.DurationMs)
}

func TestLibSQLExecutionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetExecution(context.Background(), "missing")
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, schema.ErrCodeNotFound, engineErr.Code)
}
