// Package connect defines the collaborator interfaces the engine consumes
// (agent invocation, action connectors, and wait-step signal sources) plus
// the built-in HTTP and jq-transform connectors.
package connect

import (
	"context"

	"github.com/weftlabs/weft/pkg/schema"
)

// AgentRequest is one model invocation: an interpolated prompt plus the
// model configuration carried by the step.
type AgentRequest struct {
	Agent  schema.AgentConfig `json:"agent"`
	Prompt string             `json:"prompt"`
}

// AgentResponse is the collaborator's reply to one invocation.
type AgentResponse struct {
	Output     string  `json:"output"`
	TokensUsed int     `json:"tokens_used,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
}

// AgentInvoker is the agent/model runtime collaborator. Implementations
// must honor ctx cancellation: a cancelled run propagates to in-flight
// invocations.
type AgentInvoker interface {
	Invoke(ctx context.Context, req AgentRequest) (*AgentResponse, error)
}

// AgentInvokerFunc adapts a function to the AgentInvoker interface.
type AgentInvokerFunc func(ctx context.Context, req AgentRequest) (*AgentResponse, error)

func (f AgentInvokerFunc) Invoke(ctx context.Context, req AgentRequest) (*AgentResponse, error) {
	return f(ctx, req)
}
