package engine

import (
	"context"
	"strconv"

	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/internal/vars"
	"github.com/weftlabs/weft/pkg/schema"
)

// executeLoop drives the body step through the configured iteration mode.
// Iterations are strictly sequential and run against the parent store, so
// each iteration sees what the previous one wrote. The item binding is
// refreshed before every iteration; iteration outputs collect into an
// ordered list.
//
// Modes: for_each and map iterate a resolved list (map guarantees one
// output per input element), while re-checks its condition before each
// iteration, until checks after (the body always runs at least once), and
// times runs a fixed count. Every mode is bounded by max_iterations or the
// engine default cap, and blowing the cap fails with LOOP_LIMIT_EXCEEDED.
func (e *Executor) executeLoop(ctx context.Context, rs *runState, step *validation.CompiledStep, store *vars.Store) (stepOutcome, error) {
	cfg := step.Loop

	body, err := validation.CompileStep(cfg.Step)
	if err != nil {
		return stepOutcome{}, err
	}

	itemVar := cfg.ItemVariable
	if itemVar == "" {
		itemVar = "item"
	}

	limit := cfg.MaxIterations
	if limit <= 0 {
		limit = e.loopIterationCap
	}

	// The index and item bindings are loop-scoped; they must not outlive
	// the step into the run's outputs.
	defer func() {
		store.Delete("loop_index")
		if cfg.LoopType == schema.LoopForEach || cfg.LoopType == schema.LoopMap {
			store.Delete(itemVar)
		}
	}()

	runBody := func(i int) (any, error) {
		store.Set("loop_index", i)
		result, _, err := e.ExecuteStep(ctx, rs, body, store, nestedResultID(step.ID, strconv.Itoa(i)))
		if err != nil {
			return nil, err
		}
		return result.Output, nil
	}

	var outputs []any

	switch cfg.LoopType {
	case schema.LoopForEach, schema.LoopMap:
		items, err := resolveItems(store, cfg.ItemsVariable)
		if err != nil {
			return stepOutcome{}, err
		}
		if len(items) > limit {
			return stepOutcome{}, loopCapError(step.ID, limit)
		}
		outputs = make([]any, 0, len(items))
		for i, item := range items {
			store.Set(itemVar, item)
			out, err := runBody(i)
			if err != nil {
				return stepOutcome{}, err
			}
			// A map loop's contract is one output per input element.
			if cfg.LoopType == schema.LoopMap && out == nil {
				return stepOutcome{}, schema.NewErrorf(schema.ErrCodeStepExecution,
					"map iteration %d produced no output", i).WithStep(step.ID)
			}
			outputs = append(outputs, out)
		}

	case schema.LoopWhile:
		for i := 0; ; i++ {
			if i >= limit {
				return stepOutcome{}, loopCapError(step.ID, limit)
			}
			keep, err := e.evalCondition(ctx, cfg.Condition, cfg.ConditionLanguage, store)
			if err != nil {
				return stepOutcome{}, err
			}
			if !keep {
				break
			}
			out, err := runBody(i)
			if err != nil {
				return stepOutcome{}, err
			}
			outputs = append(outputs, out)
		}

	case schema.LoopUntil:
		for i := 0; ; i++ {
			if i >= limit {
				return stepOutcome{}, loopCapError(step.ID, limit)
			}
			out, err := runBody(i)
			if err != nil {
				return stepOutcome{}, err
			}
			outputs = append(outputs, out)

			done, err := e.evalCondition(ctx, cfg.Condition, cfg.ConditionLanguage, store)
			if err != nil {
				return stepOutcome{}, err
			}
			if done {
				break
			}
		}

	case schema.LoopTimes:
		if cfg.Times > limit {
			return stepOutcome{}, loopCapError(step.ID, limit)
		}
		outputs = make([]any, 0, cfg.Times)
		for i := 0; i < cfg.Times; i++ {
			out, err := runBody(i)
			if err != nil {
				return stepOutcome{}, err
			}
			outputs = append(outputs, out)
		}

	default:
		return stepOutcome{}, schema.NewErrorf(schema.ErrCodeValidation, "unknown loop type %q", cfg.LoopType)
	}

	if outputs == nil {
		outputs = []any{}
	}
	if cfg.OutputVariable != "" {
		store.Set(cfg.OutputVariable, outputs)
	}
	return stepOutcome{output: outputs}, nil
}

func resolveItems(store *vars.Store, path string) ([]any, error) {
	value, err := store.Resolve(path)
	if err != nil {
		return nil, err
	}
	items, ok := value.([]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"items_variable %q resolved to %T, want list", path, value)
	}
	return items, nil
}

func loopCapError(stepID string, limit int) error {
	return schema.NewErrorf(schema.ErrCodeLoopLimitExceeded,
		"loop exceeded its %d iteration cap", limit).WithStep(stepID)
}
