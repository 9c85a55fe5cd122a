// Package mcp exposes the workflow engine as an MCP tool surface: agents
// define workflows, run them, poll status, and cancel executions over the
// Model Context Protocol.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/store"
)

// WeftServerDeps holds the dependencies for creating a WeftServer.
type WeftServerDeps struct {
	Runner *engine.Runner
	Store  store.Store
	Logger *slog.Logger
}

// WeftServer wraps an MCP server with the engine's tool handlers.
type WeftServer struct {
	runner    *engine.Runner
	store     store.Store
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewWeftServer creates a WeftServer with all four tools registered.
func NewWeftServer(deps WeftServerDeps) *WeftServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &WeftServer{
		runner: deps.Runner,
		store:  deps.Store,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"weft",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Weft is a deterministic workflow execution engine. Use weft.define to register a workflow definition, weft.run to execute one, weft.status to inspect an execution, and weft.cancel to stop a running execution."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *WeftServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *WeftServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *WeftServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
	}
}

// --- Tool definitions ---

func defineTool() mcp.Tool {
	return mcp.NewTool("weft.define",
		mcp.WithDescription("Validate and register a workflow definition"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("weft.run",
		mcp.WithDescription("Execute a registered workflow and wait for its result"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to execute")),
		mcp.WithObject("input", mcp.Description("Input bindings for the run")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("weft.status",
		mcp.WithDescription("Get the result record of an execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to query")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("weft.cancel",
		mcp.WithDescription("Cancel a running execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to cancel")),
	)
}
