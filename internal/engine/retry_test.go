package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/schema"
)

func TestIsRetryableErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"validation error", schema.NewError(schema.ErrCodeValidation, "bad"), false},
		{"branch not matched", schema.NewError(schema.ErrCodeBranchNotMatched, "none"), false},
		{"loop limit", schema.NewError(schema.ErrCodeLoopLimitExceeded, "cap"), false},
		{"step execution", schema.NewError(schema.ErrCodeStepExecution, "boom"), true},
		{"step timeout", schema.NewError(schema.ErrCodeStepTimeout, "slow"), true},
		{"connection refused string", errors.New("dial tcp: connection refused"), true},
		{"service unavailable string", errors.New("503 Service Unavailable"), true},
		{"unknown error defaults retryable", errors.New("something odd"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
		})
	}
}

func TestWaitForBackoffCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForBackoff(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	// Zero delay never blocks.
	assert.NoError(t, WaitForBackoff(ctx, 0))
}

func TestRunAttemptsSucceedsAfterFailures(t *testing.T) {
	policy := &schema.RetryPolicy{MaxRetries: 3, InitialDelayMs: 1, BackoffMultiplier: 2}

	calls := 0
	out, retries, err := runAttempts(context.Background(), policy, 0, func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection reset")
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 2, retries)
	assert.Equal(t, 3, calls)
}

func TestRunAttemptsStopsOnNonRetryable(t *testing.T) {
	policy := &schema.RetryPolicy{MaxRetries: 5, InitialDelayMs: 1}

	calls := 0
	_, retries, err := runAttempts(context.Background(), policy, 0, func(ctx context.Context) (any, error) {
		calls++
		return nil, schema.NewError(schema.ErrCodeValidation, "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, retries)

	var engineErr *schema.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, schema.ErrCodeValidation, engineErr.Code)
}

func TestRunAttemptsExhaustion(t *testing.T) {
	policy := &schema.RetryPolicy{MaxRetries: 2, InitialDelayMs: 1, BackoffMultiplier: 2}

	cause := errors.New("connection refused")
	calls := 0
	_, retries, err := runAttempts(context.Background(), policy, 0, func(ctx context.Context) (any, error) {
		calls++
		return nil, cause
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)

	var engineErr *schema.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, schema.ErrCodeRetryExhausted, engineErr.Code)
	assert.ErrorIs(t, err, cause)
}

func TestRunAttemptsNoPolicyRunsOnce(t *testing.T) {
	calls := 0
	_, retries, err := runAttempts(context.Background(), nil, 0, func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, retries)
}

func TestRunOnceMapsDeadlineToStepTimeout(t *testing.T) {
	_, _, err := runAttempts(context.Background(), nil, 1, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, schema.ErrCodeStepTimeout, engineErr.Code)
	assert.True(t, engineErr.IsRetryable())
}

func TestRunAttemptsTimeoutThenRetry(t *testing.T) {
	policy := &schema.RetryPolicy{MaxRetries: 1, InitialDelayMs: 1}

	calls := 0
	out, retries, err := runAttempts(context.Background(), policy, 1, func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 1, retries)
	assert.Equal(t, 2, calls)
}
