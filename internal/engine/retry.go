package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/weftlabs/weft/pkg/schema"
)

// IsRetryableError classifies whether an error should be retried.
// Retryable by default: network errors, timeouts, context.DeadlineExceeded.
// Non-retryable: validation errors, cancellation, typed EngineErrors with
// non-retryable codes.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// A per-attempt deadline is retryable; the next attempt gets a fresh one.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Context cancelled means the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var engineErr *schema.EngineError
	if errors.As(err, &engineErr) {
		return engineErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common retryable patterns from untyped errors.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable. The retry policy limits attempts.
	return true
}

// WaitForBackoff sleeps for the given delay or returns early when the
// context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runAttempts drives a step body through its retry policy and per-attempt
// timeout. Attempt 1 always runs; a policy with max_retries N allows up to
// N further attempts, each preceded by the policy's backoff delay.
// timeoutSeconds bounds each attempt independently; a blown deadline is
// surfaced as STEP_TIMEOUT and counts like any other retryable failure.
// Returns the body's output, the number of retries consumed, and the final
// error once attempts are exhausted or a non-retryable error appears.
func runAttempts(ctx context.Context, policy *schema.RetryPolicy, timeoutSeconds int, body func(ctx context.Context) (any, error)) (any, int, error) {
	maxRetries := 0
	if policy != nil && policy.MaxRetries > 0 {
		maxRetries = policy.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if attempt > 1 {
			if err := WaitForBackoff(ctx, policy.Delay(attempt-1)); err != nil {
				return nil, attempt - 2, schema.NewError(schema.ErrCodeRunCancelled, "cancelled during backoff").WithCause(err)
			}
		}

		out, err := runOnce(ctx, timeoutSeconds, body)
		if err == nil {
			return out, attempt - 1, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return nil, attempt - 1, err
		}
		if ctx.Err() != nil {
			return nil, attempt - 1, schema.NewError(schema.ErrCodeRunCancelled, "run cancelled").WithCause(ctx.Err())
		}
	}

	if maxRetries > 0 {
		return nil, maxRetries, schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"failed after %d attempts", maxRetries+1).WithCause(lastErr)
	}
	return nil, 0, lastErr
}

// runOnce executes one attempt under an optional per-attempt deadline.
func runOnce(ctx context.Context, timeoutSeconds int, body func(ctx context.Context) (any, error)) (any, error) {
	if timeoutSeconds <= 0 {
		return body(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	out, err := body(attemptCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepTimeout,
			"step exceeded its %ds budget", timeoutSeconds).WithCause(err)
	}
	return out, err
}
