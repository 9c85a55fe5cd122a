package schema

import (
	"encoding/json"
	"math"
	"time"
)

// WorkflowDefinition is the JSON-serializable workflow document produced by
// external editors and consumed by the engine. It is immutable once a run
// starts: the engine compiles it at load time and never writes back.
type WorkflowDefinition struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Version      string          `json:"version,omitempty"`
	Steps        []WorkflowStep  `json:"steps"`
	StartStep    string          `json:"start_step,omitempty"` // default: first step of type "start", else first step
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Enabled      bool            `json:"enabled"`
}

// WorkflowStep describes a single typed step in a workflow graph.
// The graph is expressed as explicit next_step/on_error pointers.
type WorkflowStep struct {
	ID             string          `json:"id"`
	Type           StepType        `json:"type"`
	Name           string          `json:"name,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`          // type-specific payload, see *Config below
	NextStep       string          `json:"next_step,omitempty"`       // absent = terminal for linear steps
	OnError        string          `json:"on_error,omitempty"`        // step to jump to on unrecoverable failure
	Retry          *RetryPolicy    `json:"retry_policy,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"` // per-attempt budget; 0 = unbounded
}

// StepType enumerates the kinds of steps in a workflow.
type StepType string

const (
	StepTypeStart      StepType = "start"
	StepTypeEnd        StepType = "end"
	StepTypeAgent      StepType = "agent"
	StepTypeCondition  StepType = "condition"
	StepTypeParallel   StepType = "parallel"
	StepTypeLoop       StepType = "loop"
	StepTypeMultiAgent StepType = "multi_agent"
	StepTypeAction     StepType = "action"
	StepTypeWait       StepType = "wait"
)

// RetryPolicy configures exponential-backoff retry for a step.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	InitialDelayMs    int64   `json:"initial_delay_ms"`
	MaxDelayMs        int64   `json:"max_delay_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// Delay computes the backoff before retry number `retry` (1-indexed).
// delay = min(initial * multiplier^(retry-1), max).
func (p *RetryPolicy) Delay(retry int) time.Duration {
	if p == nil || retry < 1 || p.InitialDelayMs <= 0 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult <= 1 {
		mult = 1
	}
	ms := float64(p.InitialDelayMs) * math.Pow(mult, float64(retry-1))
	if p.MaxDelayMs > 0 && ms > float64(p.MaxDelayMs) {
		ms = float64(p.MaxDelayMs)
	}
	return time.Duration(ms) * time.Millisecond
}

// --- Step config payloads (closed tagged union, validated at load) ---

// AgentConfig identifies one agent and its model invocation parameters.
// Shared by agent steps and multi_agent orchestration.
type AgentConfig struct {
	Name        string  `json:"name"`
	Model       string  `json:"model,omitempty"`
	Provider    string  `json:"provider,omitempty"`
	Prompt      string  `json:"prompt,omitempty"` // interpolated against the variable store
	System      string  `json:"system,omitempty"`
	Description string  `json:"description,omitempty"` // used by the router pattern
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// AgentStepConfig is the config block for agent-type steps.
type AgentStepConfig struct {
	Agent          AgentConfig `json:"agent"`
	Prompt         string      `json:"prompt"`
	OutputVariable string      `json:"output_variable,omitempty"`
}

// ConditionBranch is one arm of a branch-list condition step.
type ConditionBranch struct {
	Condition string `json:"condition"`          // boolean expression against the variable store
	Language  string `json:"language,omitempty"` // "expr" (default) or "cel"
	NextStep  string `json:"next_step"`
}

// ConditionConfig is the config block for condition-type steps. Two
// addressing modes: branch list (branches + default_step) or switch
// (switch_variable + cases + default_step).
type ConditionConfig struct {
	Branches       []ConditionBranch `json:"branches,omitempty"`
	SwitchVariable string            `json:"switch_variable,omitempty"`
	Cases          map[string]string `json:"cases,omitempty"`
	DefaultStep    string            `json:"default_step"`
}

// JoinStrategy determines when a parallel step completes relative to its branches.
type JoinStrategy string

const (
	JoinAll   JoinStrategy = "all"
	JoinAny   JoinStrategy = "any"
	JoinFirst JoinStrategy = "first"
)

// ParallelBranch is one concurrent branch of a parallel step. The nested
// step's next_step/on_error pointers are ignored; it runs as an isolated
// sub-execution against a branch-local variable store copy.
type ParallelBranch struct {
	ID   string       `json:"id"`
	Step WorkflowStep `json:"step"`
}

// ParallelConfig is the config block for parallel-type steps.
type ParallelConfig struct {
	Branches       []ParallelBranch `json:"parallel_branches"`
	JoinStrategy   JoinStrategy     `json:"join_strategy,omitempty"` // default: all
	MaxConcurrent  int              `json:"max_concurrent,omitempty"` // default: unbounded (branch count)
	OutputVariable string           `json:"output_variable,omitempty"`
}

// LoopType enumerates loop iteration modes.
type LoopType string

const (
	LoopForEach LoopType = "for_each"
	LoopMap     LoopType = "map"
	LoopWhile   LoopType = "while"
	LoopUntil   LoopType = "until"
	LoopTimes   LoopType = "times"
)

// LoopConfig is the config block for loop-type steps. The nested step runs
// once per iteration, sequentially, with the current element bound to
// item_variable for for_each/map loops.
type LoopConfig struct {
	LoopType          LoopType      `json:"loop_type"`
	ItemsVariable     string        `json:"items_variable,omitempty"` // for_each/map: must resolve to a list
	ItemVariable      string        `json:"item_variable,omitempty"`  // default: "item"
	Condition         string        `json:"condition,omitempty"`      // while/until
	ConditionLanguage string        `json:"condition_language,omitempty"`
	Times             int           `json:"times,omitempty"`
	Step              *WorkflowStep `json:"step_config"`
	OutputVariable    string        `json:"output_variable,omitempty"`
	MaxIterations     int           `json:"max_iterations,omitempty"` // 0 = engine default cap
}

// OrchestrationPattern enumerates the multi-agent composition rules.
type OrchestrationPattern string

const (
	PatternSequential    OrchestrationPattern = "sequential"
	PatternHierarchical  OrchestrationPattern = "hierarchical"
	PatternCollaborative OrchestrationPattern = "collaborative"
	PatternDebate        OrchestrationPattern = "debate"
	PatternRouter        OrchestrationPattern = "router"
	PatternVoting        OrchestrationPattern = "voting"
	PatternChain         OrchestrationPattern = "chain"
)

// MultiAgentConfig is the config block for multi_agent-type steps.
type MultiAgentConfig struct {
	Pattern        OrchestrationPattern `json:"pattern"`
	Agents         []AgentConfig        `json:"agents"`
	ManagerAgent   *AgentConfig         `json:"manager_agent,omitempty"` // hierarchical only
	Task           string               `json:"task"`
	MaxRounds      int                  `json:"max_rounds,omitempty"`
	MaxConcurrent  int                  `json:"max_concurrent,omitempty"`
	OutputVariable string               `json:"output_variable,omitempty"`
}

// ActionType enumerates external action connectors.
type ActionType string

const (
	ActionHTTP      ActionType = "http"
	ActionDB        ActionType = "db"
	ActionEmail     ActionType = "email"
	ActionWebhook   ActionType = "webhook"
	ActionTransform ActionType = "transform" // in-engine jq transform
)

// ActionConfig is the config block for action-type steps. Config and Payload
// are interpolated against the variable store before dispatch.
type ActionConfig struct {
	ActionType     ActionType     `json:"action_type"`
	Config         map[string]any `json:"config,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	OutputVariable string         `json:"output_variable,omitempty"`
}

// WaitConfig is the config block for wait-type steps. The step suspends
// until the signal source resolves or timeout_seconds elapses; on timeout
// the configured fallback outcome applies.
type WaitConfig struct {
	Signal         string `json:"signal,omitempty"`     // signal name; default: step id
	OnTimeout      string `json:"on_timeout,omitempty"` // "continue" (default) or "error"
	FallbackValue  any    `json:"fallback_value,omitempty"`
	OutputVariable string `json:"output_variable,omitempty"`
}
