package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ghxstship/orangeseadragon-sub009/internal/diagram"
	"github.com/ghxstship/orangeseadragon-sub009/internal/engine"
	"github.com/ghxstship/orangeseadragon-sub009/internal/registry"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

type nodeTypeInfo struct {
	Type         schema.CanvasNodeType `json:"type"`
	Label        string                `json:"label"`
	Category     registry.Category     `json:"category"`
	Outputs      []schema.Handle       `json:"outputs"`
	ConfigSchema map[string]any        `json:"configSchema"`
}

// handleListNodeTypes lists the palette, optionally one category.
func (s *Server) handleListNodeTypes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")
	var out []nodeTypeInfo
	for _, sp := range registry.All() {
		if category != "" && string(sp.Category) != category {
			continue
		}
		out = append(out, nodeTypeInfo{
			Type:         sp.Type,
			Label:        sp.Label,
			Category:     sp.Category,
			Outputs:      sp.Outputs,
			ConfigSchema: sp.ConfigSchema(),
		})
	}
	return marshalResult(map[string]any{"nodeTypes": out})
}

// handleValidateWorkflow compiles an inline definition or a stored one.
func (s *Server) handleValidateWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var def *schema.WorkflowDefinition
	if id := req.GetString("workflow_id", ""); id != "" {
		if s.store == nil {
			return mcp.NewToolResultError("no workflow store configured"), nil
		}
		stored, err := s.store.GetDefinition(ctx, id)
		if err != nil {
			return toolError("workflow lookup failed", err), nil
		}
		def = stored
	} else {
		raw := mcp.ParseStringMap(req, "definition", nil)
		if raw == nil {
			return mcp.NewToolResultError("definition or workflow_id is required"), nil
		}
		parsed, err := decodeDefinition(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
		}
		def = parsed
	}

	if def.Graph == nil && len(def.Steps) == 0 {
		return mcp.NewToolResultError("definition has neither a graph nor steps"), nil
	}
	steps, result, _ := s.compiler.CompileDefinition(def)
	if result == nil {
		result = &schema.ValidationResult{}
	}
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   nonNil(result.Errors),
		"warnings": nonNil(result.Warnings),
		"steps":    steps,
	})
}

// handleTriggerWorkflow starts a run and returns the trigger response shape.
func (s *Server) handleTriggerWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if s.runner == nil {
		return mcp.NewToolResultError("no runner configured"), nil
	}
	exec, err := s.runner.Trigger(ctx, engine.TriggerRequest{
		WorkflowID:  workflowID,
		EntityType:  req.GetString("entity_type", ""),
		EntityID:    req.GetString("entity_id", ""),
		TriggerData: mcp.ParseStringMap(req, "trigger_data", nil),
	})
	if err != nil {
		return toolError("trigger failed", err), nil
	}
	s.watch(ctx, req.GetString("agent_id", ""), exec)
	body, _ := engine.Summarize(exec)
	return marshalResult(body)
}

// handleResumeExecution continues a waiting run.
func (s *Server) handleResumeExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	if s.runner == nil {
		return mcp.NewToolResultError("no runner configured"), nil
	}
	exec, err := s.runner.Resume(ctx, engine.ResumeRequest{
		ExecutionID: executionID,
		WaitingFor:  req.GetString("waiting_for", ""),
		Data:        mcp.ParseStringMap(req, "data", nil),
	})
	if err != nil {
		return toolError("resume failed", err), nil
	}
	s.watch(ctx, req.GetString("agent_id", ""), exec)
	body, _ := engine.Summarize(exec)
	return marshalResult(body)
}

// handleGetExecution returns the stored execution, with its events on request.
func (s *Server) handleGetExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	if s.runner == nil {
		return mcp.NewToolResultError("no runner configured"), nil
	}
	exec, err := s.runner.Status(ctx, executionID)
	if err != nil {
		return toolError("status query failed", err), nil
	}
	if !req.GetBool("include_events", false) || s.store == nil {
		return marshalResult(map[string]any{"execution": exec})
	}
	events, err := s.store.ListEvents(ctx, executionID, 0)
	if err != nil {
		return toolError("event query failed", err), nil
	}
	return marshalResult(map[string]any{"execution": exec, "events": nonNil(events)})
}

// handleDiagramWorkflow draws a stored workflow, or the version an execution
// runs with its progress overlaid.
func (s *Server) handleDiagramWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := req.GetString("format", "mermaid")
	if format != "mermaid" && format != "ascii" {
		return mcp.NewToolResultError("format must be mermaid or ascii"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no workflow store configured"), nil
	}

	var (
		def  *schema.WorkflowDefinition
		exec *schema.WorkflowExecution
		err  error
	)
	switch executionID, workflowID := req.GetString("execution_id", ""), req.GetString("workflow_id", ""); {
	case executionID != "":
		if s.runner == nil {
			return mcp.NewToolResultError("no runner configured"), nil
		}
		if exec, err = s.runner.Status(ctx, executionID); err != nil {
			return toolError("execution lookup failed", err), nil
		}
		def, err = s.store.GetDefinitionVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
	case workflowID != "":
		def, err = s.store.GetDefinition(ctx, workflowID)
	default:
		return mcp.NewToolResultError("workflow_id or execution_id is required"), nil
	}
	if err != nil {
		return toolError("workflow lookup failed", err), nil
	}

	model, err := diagram.Build(def, exec)
	if err != nil {
		return toolError("diagram build failed", err), nil
	}
	if format == "ascii" {
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	}
	return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
}

func decodeDefinition(raw map[string]any) (*schema.WorkflowDefinition, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// toolError reports err as a tool-level error, keeping the error code
// visible to the agent.
func toolError(what string, err error) *mcp.CallToolResult {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: [%s] %s", what, fe.Code, fe.Message))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", what, err))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
