package engine

import (
	"context"
	"time"

	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/internal/vars"
	"github.com/weftlabs/weft/pkg/schema"
)

// branchReport is what one parallel branch hands back to the join loop.
type branchReport struct {
	index  int
	id     string
	output any
	err    error
}

// executeParallel fans the configured branches out over a bounded worker
// pool and joins them per the configured strategy. Every branch runs
// against its own clone of the variable store, so branch writes never leak
// into the parent or each other; the parent only sees the joined output
// map, keyed by branch id.
//
// Join strategies:
//   - all: every branch must succeed; the first failure cancels the rest.
//   - any: the first success wins and cancels the rest; fails only when
//     every branch fails.
//   - first: the first branch to finish decides the outcome, success or not.
func (e *Executor) executeParallel(ctx context.Context, rs *runState, step *validation.CompiledStep, store *vars.Store) (stepOutcome, error) {
	cfg := step.Parallel
	n := len(cfg.Branches)

	compiled := make([]*validation.CompiledStep, n)
	for i := range cfg.Branches {
		cs, err := validation.CompileStep(&cfg.Branches[i].Step)
		if err != nil {
			return stepOutcome{}, err
		}
		compiled[i] = cs
	}

	limit := cfg.MaxConcurrent
	if limit <= 0 || limit > n {
		limit = n
	}
	pool := NewWorkerPool(limit)
	defer pool.Shutdown()

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reports := make(chan branchReport, n)

	// Feed branches through the pool. Submit blocks at capacity, so feeding
	// runs off the join loop; a cancelled context unblocks it.
	go func() {
		for i := range cfg.Branches {
			i := i
			branch := cfg.Branches[i]
			submitErr := pool.Submit(branchCtx, func(ctx context.Context) error {
				local := store.Clone()
				result, _, err := e.ExecuteStep(ctx, rs, compiled[i], local, nestedResultID(step.ID, branch.ID))
				var output any
				if result != nil {
					output = result.Output
				}
				reports <- branchReport{index: i, id: branch.ID, output: output, err: err}
				return err
			})
			if submitErr != nil {
				// Never started: record it as cancelled ourselves.
				now := time.Now().UTC()
				skipped := &schema.StepResult{
					StepID:      nestedResultID(step.ID, branch.ID),
					Status:      schema.StepStatusPending,
					StartedAt:   now,
					CompletedAt: &now,
				}
				advanceStep(skipped, schema.StepStatusCancelled)
				rs.record(skipped)
				reports <- branchReport{index: i, id: branch.ID, err: schema.NewError(schema.ErrCodeRunCancelled, "branch cancelled before start").WithCause(submitErr)}
			}
		}
	}()

	strategy := cfg.JoinStrategy
	if strategy == "" {
		strategy = schema.JoinAll
	}

	outputs := make(map[string]any, n)
	var firstErr error
	var winner *branchReport
	succeeded := 0

	for done := 0; done < n; done++ {
		report := <-reports

		if report.err == nil {
			outputs[report.id] = report.output
			succeeded++
		}

		switch strategy {
		case schema.JoinAll:
			if report.err != nil && firstErr == nil {
				firstErr = report.err
				cancel() // fail fast: stop the remaining branches
			}
		case schema.JoinAny:
			if report.err == nil && winner == nil {
				winner = &report
				cancel()
			}
			if report.err != nil && firstErr == nil {
				firstErr = report.err
			}
		case schema.JoinFirst:
			if winner == nil && !isCancellation(report.err) {
				winner = &report
				cancel()
			}
		}
	}

	switch strategy {
	case schema.JoinAll:
		if firstErr != nil {
			return stepOutcome{}, firstErr
		}
	case schema.JoinAny:
		if winner == nil {
			if firstErr == nil {
				firstErr = schema.NewError(schema.ErrCodeStepExecution, "every parallel branch failed")
			}
			return stepOutcome{}, firstErr
		}
	case schema.JoinFirst:
		if winner == nil {
			return stepOutcome{}, schema.NewError(schema.ErrCodeRunCancelled, "parallel step cancelled")
		}
		if winner.err != nil {
			return stepOutcome{}, winner.err
		}
	}

	var output any = outputs
	if strategy == schema.JoinFirst && winner != nil {
		output = map[string]any{winner.id: winner.output}
	}

	// The joined map always merges back into the parent store under the
	// step id, so downstream steps can address ${<step>.<branch>} whether
	// or not an output_variable alias is configured.
	store.Set(step.ID, output)
	if cfg.OutputVariable != "" {
		store.Set(cfg.OutputVariable, output)
	}
	return stepOutcome{output: output}, nil
}

// isCancellation reports whether an error is the run winding a branch down
// rather than the branch genuinely failing.
func isCancellation(err error) bool {
	if err == nil {
		return false
	}
	engineErr := schema.AsEngineError(err)
	return engineErr.Code == schema.ErrCodeRunCancelled
}
