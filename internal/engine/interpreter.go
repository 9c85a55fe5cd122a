package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weftlabs/weft/internal/connect"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/internal/vars"
	"github.com/weftlabs/weft/pkg/schema"
)

// DefaultStepCap bounds how many step executions one run may perform,
// nested iterations included. Graph-level cycles are legal, so this cap
// is what guarantees termination.
const DefaultStepCap = 10000

// DefaultLoopIterations bounds a single loop step when its config does
// not set max_iterations.
const DefaultLoopIterations = 10000

// Executor runs individual steps against a variable store. It is stateless
// across runs; per-run bookkeeping lives in runState.
type Executor struct {
	logger  *slog.Logger
	expr    *expressions.ExprEngine
	cel     *expressions.CELEngine
	invoker connect.AgentInvoker
	actions *connect.Dispatcher
	signals connect.SignalSource

	loopIterationCap int
}

// NewExecutor wires an Executor from its collaborators. Passing a nil
// dispatcher or signal source disables action and wait steps respectively;
// the step fails with NOT_FOUND when reached.
func NewExecutor(logger *slog.Logger, invoker connect.AgentInvoker, actions *connect.Dispatcher, signals connect.SignalSource) (*Executor, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		logger:           logger,
		expr:             expressions.NewExprEngine(),
		cel:              celEngine,
		invoker:          invoker,
		actions:          actions,
		signals:          signals,
		loopIterationCap: DefaultLoopIterations,
	}, nil
}

// runState is the shared bookkeeping for one run: the global step counter
// and the ordered step result log. Parallel branches append through the
// same state, so results is mutex-guarded.
type runState struct {
	executed atomic.Int64
	cap      int64

	executionID string
	observer    Observer

	mu      sync.Mutex
	results []*schema.StepResult
}

func newRunState(stepCap int, executionID string, observer Observer) *runState {
	if stepCap <= 0 {
		stepCap = DefaultStepCap
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &runState{cap: int64(stepCap), executionID: executionID, observer: observer}
}

func (rs *runState) record(r *schema.StepResult) {
	rs.mu.Lock()
	rs.results = append(rs.results, r)
	rs.mu.Unlock()
	rs.observer.StepFinished(context.Background(), rs.executionID, r)
}

func (rs *runState) steps() []*schema.StepResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]*schema.StepResult, len(rs.results))
	copy(out, rs.results)
	return out
}

// stepOutcome carries a step's output plus, for condition steps, the branch
// target that overrides the static next_step pointer.
type stepOutcome struct {
	output any
	next   string
}

// ExecuteStep runs one step to completion: counts it against the run cap,
// drives it through its retry policy and timeout, records the StepResult,
// and returns the chosen successor for condition steps.
func (e *Executor) ExecuteStep(ctx context.Context, rs *runState, step *validation.CompiledStep, store *vars.Store, resultID string) (*schema.StepResult, string, error) {
	if resultID == "" {
		resultID = step.ID
	}

	if rs.executed.Add(1) > rs.cap {
		err := schema.NewErrorf(schema.ErrCodeLoopLimitExceeded,
			"run exceeded the %d step cap", rs.cap).WithStep(step.ID)
		return nil, "", err
	}

	ctx = logging.WithStepID(ctx, resultID)
	e.logger.DebugContext(ctx, "step started", slog.String("type", string(step.Type)))

	result := &schema.StepResult{
		StepID:    resultID,
		Status:    schema.StepStatusPending,
		StartedAt: time.Now().UTC(),
	}
	advanceStep(result, schema.StepStatusRunning)

	var outcome stepOutcome
	body := func(ctx context.Context) (any, error) {
		oc, err := e.dispatch(ctx, rs, step, store)
		if err != nil {
			return nil, err
		}
		outcome = oc
		return oc.output, nil
	}

	var output any
	var retries int
	var err error
	if step.Type == schema.StepTypeWait {
		// timeout_seconds is the wait budget, not a per-attempt deadline.
		output, retries, err = runAttempts(ctx, nil, 0, body)
	} else {
		output, retries, err = runAttempts(ctx, step.Retry, step.TimeoutSeconds, body)
	}

	now := time.Now().UTC()
	result.CompletedAt = &now
	result.DurationMs = now.Sub(result.StartedAt).Milliseconds()
	result.RetryCount = retries
	result.Output = output

	if err != nil {
		target := schema.StepStatusFailed
		if ctx.Err() != nil {
			target = schema.StepStatusCancelled
		}
		advanceStep(result, target)
		engineErr := schema.AsEngineError(err)
		if engineErr.StepID == "" {
			engineErr = engineErr.WithStep(step.ID)
		}
		result.Error = engineErr
		rs.record(result)
		e.logger.WarnContext(ctx, "step failed",
			slog.String("code", result.Error.Code), slog.String("error", result.Error.Message))
		return result, "", result.Error
	}

	advanceStep(result, schema.StepStatusSuccess)
	rs.record(result)
	e.logger.DebugContext(ctx, "step completed", slog.Int64("duration_ms", result.DurationMs))
	return result, outcome.next, nil
}

// dispatch routes a step to its type-specific executor.
func (e *Executor) dispatch(ctx context.Context, rs *runState, step *validation.CompiledStep, store *vars.Store) (stepOutcome, error) {
	switch step.Type {
	case schema.StepTypeStart, schema.StepTypeEnd:
		return stepOutcome{}, nil
	case schema.StepTypeAgent:
		return e.executeAgent(ctx, step, store)
	case schema.StepTypeCondition:
		return e.executeCondition(ctx, step, store)
	case schema.StepTypeParallel:
		return e.executeParallel(ctx, rs, step, store)
	case schema.StepTypeLoop:
		return e.executeLoop(ctx, rs, step, store)
	case schema.StepTypeMultiAgent:
		return e.executeMultiAgent(ctx, step, store)
	case schema.StepTypeAction:
		return e.executeAction(ctx, step, store)
	case schema.StepTypeWait:
		return e.executeWait(ctx, step, store)
	default:
		return stepOutcome{}, schema.NewErrorf(schema.ErrCodeValidation, "unknown step type %q", step.Type)
	}
}

func (e *Executor) executeAgent(ctx context.Context, step *validation.CompiledStep, store *vars.Store) (stepOutcome, error) {
	if e.invoker == nil {
		return stepOutcome{}, schema.NewError(schema.ErrCodeNotFound, "no agent invoker configured")
	}
	cfg := step.Agent

	prompt := cfg.Prompt
	if prompt == "" {
		prompt = cfg.Agent.Prompt
	}
	resolved, err := expressions.ResolveString(prompt, store)
	if err != nil {
		return stepOutcome{}, err
	}

	resp, err := e.invoker.Invoke(ctx, connect.AgentRequest{Agent: cfg.Agent, Prompt: resolved})
	if err != nil {
		return stepOutcome{}, schema.NewErrorf(schema.ErrCodeStepExecution,
			"agent %q failed", cfg.Agent.Name).WithCause(err)
	}

	if cfg.OutputVariable != "" {
		store.Set(cfg.OutputVariable, resp.Output)
	}
	return stepOutcome{output: resp.Output}, nil
}

func (e *Executor) executeAction(ctx context.Context, step *validation.CompiledStep, store *vars.Store) (stepOutcome, error) {
	if e.actions == nil {
		return stepOutcome{}, schema.NewError(schema.ErrCodeNotFound, "no action dispatcher configured")
	}
	cfg := step.Action

	config, err := resolveMap(cfg.Config, store)
	if err != nil {
		return stepOutcome{}, err
	}
	payload, err := resolveMap(cfg.Payload, store)
	if err != nil {
		return stepOutcome{}, err
	}

	out, err := e.actions.Invoke(ctx, cfg.ActionType, config, payload)
	if err != nil {
		return stepOutcome{}, err
	}

	if cfg.OutputVariable != "" {
		store.Set(cfg.OutputVariable, out)
	}
	return stepOutcome{output: out}, nil
}

func (e *Executor) executeWait(ctx context.Context, step *validation.CompiledStep, store *vars.Store) (stepOutcome, error) {
	if e.signals == nil {
		return stepOutcome{}, schema.NewError(schema.ErrCodeNotFound, "no signal source configured")
	}
	cfg := step.Wait

	name := cfg.Signal
	if name == "" {
		name = step.ID
	}
	timeout := time.Duration(step.TimeoutSeconds) * time.Second

	sig, err := e.signals.Await(ctx, name, timeout)
	if err != nil {
		return stepOutcome{}, schema.NewErrorf(schema.ErrCodeStepExecution,
			"waiting for signal %q failed", name).WithCause(err)
	}

	var output any
	if sig != nil {
		output = map[string]any{"signal": sig.Name, "payload": sig.Payload, "timed_out": false}
	} else {
		// Timeout elapsed without a signal.
		if cfg.OnTimeout == "error" {
			return stepOutcome{}, schema.NewErrorf(schema.ErrCodeStepTimeout,
				"signal %q did not arrive within %ds", name, step.TimeoutSeconds)
		}
		output = map[string]any{"signal": name, "payload": cfg.FallbackValue, "timed_out": true}
	}

	if cfg.OutputVariable != "" {
		store.Set(cfg.OutputVariable, output)
	}
	return stepOutcome{output: output}, nil
}

// evalCondition evaluates a boolean expression against the store snapshot
// in the branch's declared language.
func (e *Executor) evalCondition(ctx context.Context, condition, language string, store *vars.Store) (bool, error) {
	var engine expressions.Engine = e.expr
	if language == "cel" {
		engine = e.cel
	}

	out, err := engine.Evaluate(ctx, condition, store.Snapshot())
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q evaluated to %T, want bool", condition, out)
	}
	return b, nil
}

// resolveMap interpolates every value of a config/payload map against the store.
func resolveMap(m map[string]any, store *vars.Store) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	resolved, err := expressions.ResolveValue(m, store)
	if err != nil {
		return nil, err
	}
	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"resolved to %T, want object", resolved)
	}
	return out, nil
}

// nestedResultID namespaces a sub-step result under its parent.
func nestedResultID(parts ...string) string {
	id := parts[0]
	for _, p := range parts[1:] {
		id = fmt.Sprintf("%s.%s", id, p)
	}
	return id
}
