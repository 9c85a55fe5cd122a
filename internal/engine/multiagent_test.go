package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/connect"
	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/internal/vars"
	"github.com/weftlabs/weft/pkg/schema"
)

func compileTestStep(t *testing.T, doc string) *validation.CompiledStep {
	t.Helper()
	var step schema.WorkflowStep
	require.NoError(t, json.Unmarshal([]byte(doc), &step))
	compiled, err := validation.CompileStep(&step)
	require.NoError(t, err)
	return compiled
}

func runPatternStep(t *testing.T, invoker connect.AgentInvoker, doc string, store *vars.Store) map[string]any {
	t.Helper()
	executor, err := NewExecutor(testLogger(), invoker, nil, nil)
	require.NoError(t, err)
	rs := newRunState(0, "exec-test", nil)

	result, _, err := executor.ExecuteStep(context.Background(), rs, compileTestStep(t, doc), store, "")
	require.NoError(t, err)
	require.Equal(t, schema.StepStatusSuccess, result.Status)

	output, ok := result.Output.(map[string]any)
	require.True(t, ok)
	return output
}

// roundInvoker answers from a per-agent script, one entry per call.
type roundInvoker struct {
	mu     sync.Mutex
	calls  map[string]int
	script map[string][]string
}

func newRoundInvoker(script map[string][]string) *roundInvoker {
	return &roundInvoker{calls: make(map[string]int), script: script}
}

func (r *roundInvoker) Invoke(ctx context.Context, req connect.AgentRequest) (*connect.AgentResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := req.Agent.Name
	answers := r.script[name]
	i := r.calls[name]
	r.calls[name]++
	if i >= len(answers) {
		i = len(answers) - 1 // repeat the last answer once the script runs out
	}
	return &connect.AgentResponse{Output: answers[i]}, nil
}

func TestSequentialPatternFeedsLaterAgents(t *testing.T) {
	invoker := &fakeInvoker{handle: func(ctx context.Context, req connect.AgentRequest) (*connect.AgentResponse, error) {
		if req.Agent.Name == "research" {
			return &connect.AgentResponse{Output: "facts"}, nil
		}
		return &connect.AgentResponse{Output: "report from " + req.Prompt}, nil
	}}

	store := vars.New(nil)
	output := runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "sequential", "task": "analyze the data",
			"output_variable": "analysis",
			"agents": [
				{"name": "research"},
				{"name": "write", "prompt": "${research_output}"}
			]}
	}`, store)

	assert.Equal(t, "sequential", output["pattern"])
	assert.Equal(t, "report from facts", output["final"])
	outputs := output["outputs"].(map[string]any)
	assert.Equal(t, "facts", outputs["research"])

	// The structured result lands in the parent store; intermediate agent
	// bindings stay pattern-local.
	_, ok := store.Get("analysis")
	assert.True(t, ok)
	_, ok = store.Get("research_output")
	assert.False(t, ok)
}

func TestChainPatternPipesOutputs(t *testing.T) {
	invoker := &fakeInvoker{handle: func(ctx context.Context, req connect.AgentRequest) (*connect.AgentResponse, error) {
		return &connect.AgentResponse{Output: req.Prompt + "!"}, nil
	}}

	output := runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "chain", "task": "go",
			"agents": [{"name": "first"}, {"name": "second"}, {"name": "third"}]}
	}`, vars.New(nil))

	// go -> go! -> go!! -> go!!!
	assert.Equal(t, "go!!!", output["final"])
	invoked := invoker.promptsFor("third")
	assert.Equal(t, []string{"go!!"}, invoked)
}

func TestHierarchicalPatternPlansAndSynthesizes(t *testing.T) {
	invoker := newRoundInvoker(map[string][]string{
		"manager": {"the plan", "the summary"},
		"w1":      {"part one"},
		"w2":      {"part two"},
	})

	output := runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "hierarchical", "task": "build it",
			"manager_agent": {"name": "manager"},
			"agents": [{"name": "w1"}, {"name": "w2"}]}
	}`, vars.New(nil))

	assert.Equal(t, "the plan", output["plan"])
	assert.Equal(t, "the summary", output["final"])
	results := output["results"].(map[string]any)
	assert.Equal(t, "part one", results["w1"])
	assert.Equal(t, "part two", results["w2"])
	assert.Equal(t, 2, invoker.calls["manager"])
}

func TestHierarchicalPatternDispatchesWorkersConcurrently(t *testing.T) {
	// Each worker blocks until it has seen its peer in flight. Sequential
	// dispatch would leave the first worker waiting alone until the
	// deadline errors out.
	var inflight sync.WaitGroup
	inflight.Add(2)
	invoker := &fakeInvoker{handle: func(ctx context.Context, req connect.AgentRequest) (*connect.AgentResponse, error) {
		if req.Agent.Name == "manager" {
			return &connect.AgentResponse{Output: "plan"}, nil
		}
		inflight.Done()
		peers := make(chan struct{})
		go func() {
			inflight.Wait()
			close(peers)
		}()
		select {
		case <-peers:
			return &connect.AgentResponse{Output: req.Agent.Name + " done"}, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("peer worker never started")
		}
	}}

	output := runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "hierarchical", "task": "build it",
			"manager_agent": {"name": "manager"},
			"agents": [{"name": "w1"}, {"name": "w2"}]}
	}`, vars.New(nil))

	results := output["results"].(map[string]any)
	assert.Equal(t, "w1 done", results["w1"])
	assert.Equal(t, "w2 done", results["w2"])
}

func TestCollaborativePatternConvergesOnStableRound(t *testing.T) {
	// Both agents repeat themselves; round two changes nothing.
	invoker := newRoundInvoker(map[string][]string{
		"a": {"stance a"},
		"b": {"stance b"},
	})

	output := runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "collaborative", "task": "draft", "max_rounds": 5,
			"agents": [{"name": "a"}, {"name": "b"}]}
	}`, vars.New(nil))

	assert.Equal(t, true, output["converged"])
	assert.Equal(t, 2, output["rounds"])
}

func TestCollaborativePatternStopsAtMaxRounds(t *testing.T) {
	counter := 0
	var mu sync.Mutex
	invoker := &fakeInvoker{handle: func(ctx context.Context, req connect.AgentRequest) (*connect.AgentResponse, error) {
		mu.Lock()
		counter++
		n := counter
		mu.Unlock()
		return &connect.AgentResponse{Output: "draft " + string(rune('0'+n))}, nil
	}}

	output := runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "collaborative", "task": "draft", "max_rounds": 2,
			"agents": [{"name": "a"}]}
	}`, vars.New(nil))

	assert.Equal(t, false, output["converged"])
	assert.Equal(t, 2, output["rounds"])
}

func TestDebatePatternReachesConsensus(t *testing.T) {
	invoker := newRoundInvoker(map[string][]string{
		"pro": {"yes", "yes"},
		"con": {"no", "yes"},
	})

	output := runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "debate", "task": "should we ship", "max_rounds": 5,
			"agents": [{"name": "pro"}, {"name": "con"}]}
	}`, vars.New(nil))

	assert.Equal(t, true, output["consensus"])
	assert.Equal(t, 2, output["rounds"])
	positions := output["positions"].(map[string]any)
	assert.Equal(t, "yes", positions["con"])
}

func TestDebatePatternGivesUpAfterMaxRounds(t *testing.T) {
	invoker := newRoundInvoker(map[string][]string{
		"pro": {"yes"},
		"con": {"no"},
	})

	output := runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "debate", "task": "should we ship", "max_rounds": 2,
			"agents": [{"name": "pro"}, {"name": "con"}]}
	}`, vars.New(nil))

	assert.Equal(t, false, output["consensus"])
	assert.Equal(t, 2, output["rounds"])
}

func TestRouterPatternPicksByDescription(t *testing.T) {
	invoker := echoInvoker()

	output := runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "router", "task": "resolve a billing payment dispute",
			"agents": [
				{"name": "support", "description": "technical troubleshooting and bug reports"},
				{"name": "finance", "description": "invoices, billing and payment questions"}
			]}
	}`, vars.New(nil))

	assert.Equal(t, "finance", output["selected"])
	assert.Empty(t, invoker.promptsFor("support"))
}

func TestRouterPatternFallsBackToFirstAgent(t *testing.T) {
	output := runPatternStep(t, echoInvoker(), `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "router", "task": "zzz qqq",
			"agents": [
				{"name": "alpha", "description": "first responder"},
				{"name": "beta", "description": "second responder"}
			]}
	}`, vars.New(nil))

	assert.Equal(t, "alpha", output["selected"])
}

func TestVotingPatternPicksMajorityAnswer(t *testing.T) {
	invoker := newRoundInvoker(map[string][]string{
		"a": {"Rome"},
		"b": {"Paris"},
		"c": {"rome"}, // letter case must not split the vote
	})

	output := runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "voting", "task": "capital of italy", "max_concurrent": 2,
			"agents": [{"name": "a"}, {"name": "b"}, {"name": "c"}]}
	}`, vars.New(nil))

	assert.Equal(t, "Rome", output["final"])
	assert.Equal(t, 2, output["votes"])
	assert.Equal(t, 3, output["total"])
}

func TestVotingPatternTieBreaksByDeclarationOrder(t *testing.T) {
	invoker := newRoundInvoker(map[string][]string{
		"a": {"Paris"},
		"b": {"Rome"},
	})

	output := runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "voting", "task": "pick one",
			"agents": [{"name": "a"}, {"name": "b"}]}
	}`, vars.New(nil))

	assert.Equal(t, "Paris", output["final"])
	assert.Equal(t, 1, output["votes"])
}

func TestMultiAgentTaskInterpolation(t *testing.T) {
	invoker := echoInvoker()
	store := vars.New(map[string]any{"topic": "tides"})

	runPatternStep(t, invoker, `{
		"id": "team", "type": "multi_agent",
		"config": {"pattern": "sequential", "task": "explain ${topic}",
			"agents": [{"name": "solo"}]}
	}`, store)

	assert.Equal(t, []string{"explain tides"}, invoker.promptsFor("solo"))
}
