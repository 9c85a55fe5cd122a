package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/weftlabs/weft/pkg/schema"
)

// handleDefine validates a workflow definition and saves it to the store.
// Validation warnings come back with the result so agents can fix soft
// issues without a failed call.
func (s *WeftServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	defBytes, err := json.Marshal(defRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(defBytes, &def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}

	validation := s.runner.Validator().Validate(&def)
	if !validation.Valid() {
		return marshalResult(map[string]any{
			"ok":     false,
			"errors": validation.Errors,
		})
	}

	if err := s.store.SaveDefinition(ctx, &def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save workflow: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"ok":          true,
		"workflow_id": def.ID,
		"warnings":    validation.Warnings,
	})
}

// handleRun loads a stored workflow and executes it synchronously.
func (s *WeftServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	def, err := s.store.GetDefinition(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
	}

	result, runErr := s.runner.Execute(ctx, def, input)
	if result == nil && runErr != nil {
		// Pre-flight failure: the run never started.
		return mcp.NewToolResultError(fmt.Sprintf("run rejected: %v", runErr)), nil
	}

	// Failed runs still return the full result record; the error detail is
	// inside it.
	return marshalResult(result)
}

// handleStatus returns the persisted record of an execution.
func (s *WeftServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	result, statusErr := s.runner.Status(ctx, executionID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}
	return marshalResult(result)
}

// handleCancel stops a running execution.
func (s *WeftServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	if cancelErr := s.runner.Cancel(executionID); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}
	return marshalResult(map[string]any{
		"ok":           true,
		"execution_id": executionID,
	})
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
