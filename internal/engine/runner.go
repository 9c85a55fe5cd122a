package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/connect"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/internal/vars"
	"github.com/weftlabs/weft/pkg/schema"
)

// Runner is the run controller: it compiles a definition, walks the step
// graph from the start step, and owns the ExecutionResult for the run's
// lifetime.
type Runner struct {
	logger    *slog.Logger
	validator *validation.WorkflowValidator
	executor  *Executor
	store     store.Store
	observer  Observer
	stepCap   int

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// RunnerConfig wires a Runner's collaborators. Store and Observer are
// optional; Invoker is needed for agent and multi_agent steps, Actions for
// action steps, Signals for wait steps.
type RunnerConfig struct {
	Logger   *slog.Logger
	Invoker  connect.AgentInvoker
	Actions  *connect.Dispatcher
	Signals  connect.SignalSource
	Store    store.Store
	Observer Observer
	StepCap  int
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executor, err := NewExecutor(logger, cfg.Invoker, cfg.Actions, cfg.Signals)
	if err != nil {
		return nil, err
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	return &Runner{
		logger:    logger,
		validator: validator,
		executor:  executor,
		store:     cfg.Store,
		observer:  observer,
		stepCap:   cfg.StepCap,
	}, nil
}

// Validator exposes the runner's validation pipeline, e.g. for a validate
// CLI mode or tool surface.
func (r *Runner) Validator() *validation.WorkflowValidator {
	return r.validator
}

// Execute runs a workflow definition against the given input and blocks
// until the run reaches a terminal status. The returned ExecutionResult is
// always non-nil for runs that started; pre-flight failures (validation,
// disabled workflow, bad input) return only an error.
func (r *Runner) Execute(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any) (*schema.ExecutionResult, error) {
	compiled, err := r.validator.Compile(def)
	if err != nil {
		return nil, err
	}
	if !def.Enabled {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "workflow %q is disabled", def.ID)
	}
	if err := r.validator.ValidateInput(input, def.InputSchema); err != nil {
		return nil, err
	}

	executionID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.active == nil {
		r.active = make(map[string]context.CancelFunc)
	}
	r.active[executionID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, executionID)
		r.mu.Unlock()
	}()

	runCtx = logging.WithExecutionID(runCtx, executionID)
	runCtx = logging.WithWorkflowID(runCtx, def.ID)

	result := &schema.ExecutionResult{
		ExecutionID: executionID,
		WorkflowID:  def.ID,
		Status:      schema.RunStatusPending,
		StartedAt:   time.Now().UTC(),
	}
	advanceRun(result, schema.RunStatusRunning)
	r.persist(result)
	r.observer.RunStarted(runCtx, result)
	r.logger.InfoContext(runCtx, "run started")

	rootStore := vars.New(map[string]any{vars.InputKey: input})
	rs := newRunState(r.stepCap, executionID, r.observer)

	runErr := r.walk(runCtx, rs, compiled, rootStore)

	result.Steps = rs.steps()
	now := time.Now().UTC()
	result.CompletedAt = &now
	result.DurationMs = now.Sub(result.StartedAt).Milliseconds()

	if runErr == nil {
		outputs, err := r.finalOutputs(def, rootStore)
		if err != nil {
			runErr = err
		} else {
			advanceRun(result, schema.RunStatusSuccess)
			result.Outputs = outputs
		}
	}
	if runErr != nil {
		target := schema.RunStatusFailed
		if runCtx.Err() != nil {
			target = schema.RunStatusCancelled
		}
		advanceRun(result, target)
		result.Error = schema.AsEngineError(runErr)
	}

	r.persist(result)
	r.observer.RunFinished(runCtx, result)
	r.logger.InfoContext(runCtx, "run finished",
		slog.String("status", string(result.Status)),
		slog.Int64("duration_ms", result.DurationMs))

	return result, runErr
}

// walk is the interpreter loop: follow next_step pointers from the start
// step until an end step, an absent pointer, or a failure. A failed step
// with an on_error pointer hands control to that step instead of failing
// the run; termination-guard errors are never absorbed this way.
func (r *Runner) walk(ctx context.Context, rs *runState, compiled *validation.CompiledWorkflow, rootStore *vars.Store) error {
	current := compiled.Start
	for current != "" {
		step := compiled.Step(current)
		if step == nil {
			return schema.NewErrorf(schema.ErrCodeNotFound, "step %q not found", current)
		}

		_, next, err := r.executor.ExecuteStep(ctx, rs, step, rootStore, "")
		if err != nil {
			if step.OnError != "" && canAbsorb(err) {
				r.logger.WarnContext(ctx, "step failed, following on_error",
					slog.String("step_id", step.ID), slog.String("on_error", step.OnError))
				current = step.OnError
				continue
			}
			return err
		}

		if step.Type == schema.StepTypeEnd {
			return nil
		}
		if next != "" {
			current = next
		} else {
			current = step.NextStep
		}
	}
	return nil
}

// canAbsorb reports whether an on_error pointer may consume a failure.
// Cancellation and the run-wide step cap terminate the run unconditionally.
func canAbsorb(err error) bool {
	engineErr := schema.AsEngineError(err)
	switch engineErr.Code {
	case schema.ErrCodeRunCancelled, schema.ErrCodeLoopLimitExceeded:
		return false
	}
	return true
}

// finalOutputs derives the run's outputs from the final variable store.
// With an output_schema the outputs are restricted to the schema's declared
// top-level properties and validated against it; without one, the whole
// store minus the reserved input binding is the output.
func (r *Runner) finalOutputs(def *schema.WorkflowDefinition, rootStore *vars.Store) (map[string]any, error) {
	snapshot := rootStore.Snapshot()

	if len(def.OutputSchema) == 0 {
		delete(snapshot, vars.InputKey)
		return snapshot, nil
	}

	outputs := make(map[string]any)
	for _, name := range schemaProperties(def.OutputSchema) {
		if v, ok := snapshot[name]; ok {
			outputs[name] = v
		}
	}
	if err := r.validator.ValidateOutput(outputs, def.OutputSchema); err != nil {
		return nil, err
	}
	return outputs, nil
}

// schemaProperties extracts the top-level property names of a JSON Schema.
func schemaProperties(raw json.RawMessage) []string {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	names := make([]string, 0, len(doc.Properties))
	for name := range doc.Properties {
		names = append(names, name)
	}
	return names
}

// Cancel stops a running execution. The run winds down cooperatively: steps
// observe the cancelled context and the result finalizes as cancelled.
func (r *Runner) Cancel(executionID string) error {
	r.mu.Lock()
	cancel, ok := r.active[executionID]
	r.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no active execution %q", executionID)
	}
	cancel()
	return nil
}

// Status returns the persisted record of an execution.
func (r *Runner) Status(ctx context.Context, executionID string) (*schema.ExecutionResult, error) {
	if r.store == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "no persistence configured")
	}
	return r.store.GetExecution(ctx, executionID)
}

// persist writes the result when persistence is configured. Store failures
// log and do not affect the run.
func (r *Runner) persist(result *schema.ExecutionResult) {
	if r.store == nil {
		return
	}
	ctx, cancelPersist := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPersist()
	if err := r.store.SaveExecution(ctx, result); err != nil {
		r.logger.Warn("persist execution failed",
			slog.String("execution_id", result.ExecutionID), slog.String("error", err.Error()))
	}
}
