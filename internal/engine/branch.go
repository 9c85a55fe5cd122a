package engine

import (
	"context"

	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/internal/vars"
	"github.com/weftlabs/weft/pkg/schema"
)

// executeCondition picks the step's successor. Branch lists evaluate in
// declaration order and the first true condition wins; switch mode matches
// the stringified variable value against the cases map exactly. Both fall
// back to default_step. Validation requires a default on every condition
// step, so the BRANCH_NOT_MATCHED paths below are runtime backstops.
func (e *Executor) executeCondition(ctx context.Context, step *validation.CompiledStep, store *vars.Store) (stepOutcome, error) {
	cfg := step.Condition

	if len(cfg.Branches) > 0 {
		return e.evalBranchList(ctx, cfg, store)
	}
	return e.evalSwitch(cfg, store)
}

func (e *Executor) evalBranchList(ctx context.Context, cfg *schema.ConditionConfig, store *vars.Store) (stepOutcome, error) {
	for i, branch := range cfg.Branches {
		matched, err := e.evalCondition(ctx, branch.Condition, branch.Language, store)
		if err != nil {
			return stepOutcome{}, err
		}
		if matched {
			return stepOutcome{
				output: map[string]any{"matched": branch.Condition, "branch": i, "next": branch.NextStep},
				next:   branch.NextStep,
			}, nil
		}
	}

	if cfg.DefaultStep != "" {
		return stepOutcome{
			output: map[string]any{"matched": nil, "next": cfg.DefaultStep},
			next:   cfg.DefaultStep,
		}, nil
	}
	return stepOutcome{}, schema.NewError(schema.ErrCodeBranchNotMatched,
		"no branch condition matched and no default_step is set")
}

func (e *Executor) evalSwitch(cfg *schema.ConditionConfig, store *vars.Store) (stepOutcome, error) {
	value, err := store.Resolve(cfg.SwitchVariable)
	if err != nil {
		return stepOutcome{}, err
	}

	key := expressions.Stringify(value)
	if target, ok := cfg.Cases[key]; ok {
		return stepOutcome{
			output: map[string]any{"matched": key, "next": target},
			next:   target,
		}, nil
	}

	if cfg.DefaultStep != "" {
		return stepOutcome{
			output: map[string]any{"matched": nil, "next": cfg.DefaultStep},
			next:   cfg.DefaultStep,
		}, nil
	}
	return stepOutcome{}, schema.NewErrorf(schema.ErrCodeBranchNotMatched,
		"switch value %q matched no case and no default_step is set", key)
}
