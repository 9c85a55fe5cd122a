package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/weftlabs/weft/internal/connect"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/internal/vars"
	"github.com/weftlabs/weft/pkg/schema"
)

// defaultRounds bounds collaborative and debate patterns when max_rounds
// is not set.
const defaultRounds = 3

// executeMultiAgent runs one of the orchestration patterns over the
// configured agents. The pattern works on a clone of the variable store
// with "task" and per-agent "<name>_output" bindings, so intermediate
// chatter stays pattern-local; only the single structured result reaches
// the parent store.
func (e *Executor) executeMultiAgent(ctx context.Context, step *validation.CompiledStep, store *vars.Store) (stepOutcome, error) {
	if e.invoker == nil {
		return stepOutcome{}, schema.NewError(schema.ErrCodeNotFound, "no agent invoker configured")
	}
	cfg := step.MultiAgent

	local := store.Clone()
	task, err := expressions.ResolveString(cfg.Task, local)
	if err != nil {
		return stepOutcome{}, err
	}
	local.Set("task", task)

	var output map[string]any
	switch cfg.Pattern {
	case schema.PatternSequential:
		output, err = e.runSequential(ctx, cfg, task, local)
	case schema.PatternChain:
		output, err = e.runChain(ctx, cfg, task, local)
	case schema.PatternHierarchical:
		output, err = e.runHierarchical(ctx, cfg, task, local)
	case schema.PatternCollaborative:
		output, err = e.runCollaborative(ctx, cfg, task, local)
	case schema.PatternDebate:
		output, err = e.runDebate(ctx, cfg, task, local)
	case schema.PatternRouter:
		output, err = e.runRouter(ctx, cfg, task, local)
	case schema.PatternVoting:
		output, err = e.runVoting(ctx, cfg, task, local)
	default:
		return stepOutcome{}, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown orchestration pattern %q", cfg.Pattern)
	}
	if err != nil {
		return stepOutcome{}, err
	}

	output["pattern"] = string(cfg.Pattern)
	if cfg.OutputVariable != "" {
		store.Set(cfg.OutputVariable, output)
	}
	return stepOutcome{output: output}, nil
}

// invokeAgent resolves the agent's prompt (falling back to the given
// default), invokes it, and binds "<name>_output" in the local store.
func (e *Executor) invokeAgent(ctx context.Context, agent schema.AgentConfig, fallbackPrompt string, local *vars.Store) (any, error) {
	prompt := agent.Prompt
	if prompt == "" {
		prompt = fallbackPrompt
	}
	resolved, err := expressions.ResolveString(prompt, local)
	if err != nil {
		return nil, err
	}

	resp, err := e.invoker.Invoke(ctx, connect.AgentRequest{Agent: agent, Prompt: resolved})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepExecution,
			"agent %q failed", agent.Name).WithCause(err)
	}

	local.Set(agent.Name+"_output", resp.Output)
	return resp.Output, nil
}

// runSequential invokes each agent in declaration order against the shared
// task. Later agents can reference earlier outputs via ${<name>_output}.
func (e *Executor) runSequential(ctx context.Context, cfg *schema.MultiAgentConfig, task string, local *vars.Store) (map[string]any, error) {
	outputs := make(map[string]any, len(cfg.Agents))
	var last any
	for _, agent := range cfg.Agents {
		out, err := e.invokeAgent(ctx, agent, task, local)
		if err != nil {
			return nil, err
		}
		outputs[agent.Name] = out
		last = out
	}
	return map[string]any{"outputs": outputs, "final": last}, nil
}

// runChain pipes each agent's output into the next agent's prompt. The
// first agent receives the task itself.
func (e *Executor) runChain(ctx context.Context, cfg *schema.MultiAgentConfig, task string, local *vars.Store) (map[string]any, error) {
	outputs := make(map[string]any, len(cfg.Agents))
	carry := task
	for _, agent := range cfg.Agents {
		out, err := e.invokeAgent(ctx, agent, carry, local)
		if err != nil {
			return nil, err
		}
		outputs[agent.Name] = out
		carry = expressions.Stringify(out)
	}
	return map[string]any{"outputs": outputs, "final": carry}, nil
}

// runHierarchical has the manager break the task into a plan, fans the plan
// out to the workers concurrently (bounded by max_concurrent), then has the
// manager synthesize worker results.
func (e *Executor) runHierarchical(ctx context.Context, cfg *schema.MultiAgentConfig, task string, local *vars.Store) (map[string]any, error) {
	manager := *cfg.ManagerAgent

	plan, err := e.invokeAgent(ctx, manager, fmt.Sprintf("Break this task into instructions for your team: %s", task), local)
	if err != nil {
		return nil, err
	}
	local.Set("plan", plan)

	n := len(cfg.Agents)
	limit := cfg.MaxConcurrent
	if limit <= 0 || limit > n {
		limit = n
	}
	pool := NewWorkerPool(limit)
	defer pool.Shutdown()

	type workerReport struct {
		output any
		err    error
	}
	reports := make([]workerReport, n)
	prompt := fmt.Sprintf("Task: %s\nInstructions: %s", task, expressions.Stringify(plan))

	// Workers see the plan but not each other: every worker gets its own
	// clone of the pattern store.
	snapshot := local.Clone()
	for i := range cfg.Agents {
		i := i
		agent := cfg.Agents[i]
		if err := pool.Submit(ctx, func(ctx context.Context) error {
			out, err := e.invokeAgent(ctx, agent, prompt, snapshot.Clone())
			reports[i] = workerReport{output: out, err: err}
			return err
		}); err != nil {
			reports[i] = workerReport{err: err}
		}
	}
	pool.Wait()

	results := make(map[string]any, n)
	for i, rep := range reports {
		if rep.err != nil {
			return nil, rep.err
		}
		results[cfg.Agents[i].Name] = rep.output
		local.Set(cfg.Agents[i].Name+"_output", rep.output)
	}
	local.Set("worker_results", results)

	summary, err := e.invokeAgent(ctx, manager,
		fmt.Sprintf("Synthesize your team's results for the task %q: %s", task, expressions.Stringify(results)), local)
	if err != nil {
		return nil, err
	}

	return map[string]any{"plan": plan, "results": results, "final": summary}, nil
}

// runCollaborative iterates rounds where every agent sees the shared
// workspace and contributes. It stops early when a round changes nothing,
// which is the convergence signal.
func (e *Executor) runCollaborative(ctx context.Context, cfg *schema.MultiAgentConfig, task string, local *vars.Store) (map[string]any, error) {
	rounds := cfg.MaxRounds
	if rounds <= 0 {
		rounds = defaultRounds
	}

	previous := make(map[string]string, len(cfg.Agents))
	current := make(map[string]any, len(cfg.Agents))
	converged := false
	played := 0

	for round := 1; round <= rounds; round++ {
		played = round
		changed := false
		for _, agent := range cfg.Agents {
			out, err := e.invokeAgent(ctx, agent,
				fmt.Sprintf("Round %d of a shared task: %s\nCurrent contributions: %s",
					round, task, expressions.Stringify(current)), local)
			if err != nil {
				return nil, err
			}
			current[agent.Name] = out
			norm := normalizeOutput(out)
			if previous[agent.Name] != norm {
				changed = true
			}
			previous[agent.Name] = norm
		}
		if !changed {
			converged = true
			break
		}
	}

	return map[string]any{
		"outputs":   current,
		"rounds":    played,
		"converged": converged,
	}, nil
}

// runDebate iterates rounds where every agent argues a position, seeing the
// other positions from the previous round. Consensus is every agent giving
// materially the same answer within a round.
func (e *Executor) runDebate(ctx context.Context, cfg *schema.MultiAgentConfig, task string, local *vars.Store) (map[string]any, error) {
	rounds := cfg.MaxRounds
	if rounds <= 0 {
		rounds = defaultRounds
	}

	positions := make(map[string]any, len(cfg.Agents))
	consensus := false
	played := 0

	for round := 1; round <= rounds; round++ {
		played = round
		seen := make(map[string]bool)
		for _, agent := range cfg.Agents {
			prompt := fmt.Sprintf("Debate round %d on: %s", round, task)
			if round > 1 {
				prompt = fmt.Sprintf("%s\nPositions so far: %s", prompt, expressions.Stringify(positions))
			}
			out, err := e.invokeAgent(ctx, agent, prompt, local)
			if err != nil {
				return nil, err
			}
			positions[agent.Name] = out
			seen[normalizeOutput(out)] = true
		}
		if len(seen) == 1 {
			consensus = true
			break
		}
	}

	return map[string]any{
		"positions": positions,
		"rounds":    played,
		"consensus": consensus,
	}, nil
}

// runRouter selects the single best-matching agent for the task by scoring
// each agent's description against the task's words, then invokes only it.
// With no description overlap the first agent handles the task.
func (e *Executor) runRouter(ctx context.Context, cfg *schema.MultiAgentConfig, task string, local *vars.Store) (map[string]any, error) {
	selected := cfg.Agents[0]
	best := 0
	taskWords := strings.Fields(strings.ToLower(task))

	for _, agent := range cfg.Agents {
		desc := strings.ToLower(agent.Description + " " + agent.Name)
		score := 0
		for _, w := range taskWords {
			if len(w) > 2 && strings.Contains(desc, w) {
				score++
			}
		}
		if score > best {
			best = score
			selected = agent
		}
	}

	out, err := e.invokeAgent(ctx, selected, task, local)
	if err != nil {
		return nil, err
	}
	return map[string]any{"selected": selected.Name, "final": out}, nil
}

// runVoting fans the task out to every agent concurrently (bounded by
// max_concurrent) and picks the answer given by the most agents. Ties break
// by agent declaration order.
func (e *Executor) runVoting(ctx context.Context, cfg *schema.MultiAgentConfig, task string, local *vars.Store) (map[string]any, error) {
	n := len(cfg.Agents)
	limit := cfg.MaxConcurrent
	if limit <= 0 || limit > n {
		limit = n
	}
	pool := NewWorkerPool(limit)
	defer pool.Shutdown()

	type vote struct {
		index  int
		output any
		err    error
	}
	votes := make([]vote, n)

	// Snapshot once: concurrent agents must not see each other's bindings.
	snapshot := local.Clone()
	for i := range cfg.Agents {
		i := i
		agent := cfg.Agents[i]
		if err := pool.Submit(ctx, func(ctx context.Context) error {
			out, err := e.invokeAgent(ctx, agent, task, snapshot.Clone())
			votes[i] = vote{index: i, output: out, err: err}
			return err
		}); err != nil {
			votes[i] = vote{index: i, err: err}
		}
	}
	pool.Wait()

	tally := make(map[string]int, n)
	byAnswer := make(map[string]any, n)
	firstSeen := make(map[string]int, n)
	outputs := make(map[string]any, n)

	for i, v := range votes {
		if v.err != nil {
			return nil, v.err
		}
		outputs[cfg.Agents[i].Name] = v.output
		key := normalizeOutput(v.output)
		tally[key]++
		if _, ok := firstSeen[key]; !ok {
			firstSeen[key] = i
			byAnswer[key] = v.output
		}
	}

	// Majority answer; ties go to the answer first given in declaration order.
	keys := make([]string, 0, len(tally))
	for k := range tally {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if tally[keys[a]] != tally[keys[b]] {
			return tally[keys[a]] > tally[keys[b]]
		}
		return firstSeen[keys[a]] < firstSeen[keys[b]]
	})
	winner := keys[0]

	// Record the winner binding for downstream interpolation parity with
	// the other patterns.
	local.Set("winning_output", byAnswer[winner])

	return map[string]any{
		"outputs": outputs,
		"final":   byAnswer[winner],
		"votes":   tally[winner],
		"total":   n,
	}, nil
}

// normalizeOutput reduces an agent output to a comparable form: stringified,
// trimmed, lowercased.
func normalizeOutput(out any) string {
	return strings.ToLower(strings.TrimSpace(expressions.Stringify(out)))
}
