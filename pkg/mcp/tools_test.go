package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghxstship/orangeseadragon-sub009/internal/actions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/engine"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// --- Fakes ---

type fakeRunner struct {
	triggered []engine.TriggerRequest
	resumed   []engine.ResumeRequest
	exec      *schema.WorkflowExecution
	err       error
}

func (f *fakeRunner) Trigger(_ context.Context, req engine.TriggerRequest) (*schema.WorkflowExecution, error) {
	f.triggered = append(f.triggered, req)
	return f.exec, f.err
}

func (f *fakeRunner) Resume(_ context.Context, req engine.ResumeRequest) (*schema.WorkflowExecution, error) {
	f.resumed = append(f.resumed, req)
	return f.exec, f.err
}

func (f *fakeRunner) Status(_ context.Context, id string) (*schema.WorkflowExecution, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.exec == nil || f.exec.ID != id {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	return f.exec, nil
}

type fakeStore struct {
	defs   map[string]*schema.WorkflowDefinition
	events []*schema.ExecutionEvent
}

func (f *fakeStore) GetDefinition(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	if d, ok := f.defs[id]; ok {
		return d, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
}

func (f *fakeStore) GetDefinitionVersion(ctx context.Context, id string, _ int) (*schema.WorkflowDefinition, error) {
	return f.GetDefinition(ctx, id)
}

func (f *fakeStore) ListEvents(context.Context, string, int64) ([]*schema.ExecutionEvent, error) {
	return f.events, nil
}

func reviewGraph() map[string]any {
	return map[string]any{
		"nodes": []any{
			map[string]any{"id": "t", "type": "trigger", "config": map[string]any{"event": "manual"}},
			map[string]any{"id": "u", "type": "update_field", "config": map[string]any{"field": "status", "value": "reviewed"}},
			map[string]any{"id": "e", "type": "end"},
		},
		"edges": []any{
			map[string]any{"id": "1", "source": "t", "target": "u"},
			map[string]any{"id": "2", "source": "u", "target": "e"},
		},
	}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

// --- Tests ---

func TestListNodeTypes(t *testing.T) {
	s := NewServer(ServerDeps{})

	result, err := s.handleListNodeTypes(context.Background(), buildRequest("list_node_types", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		NodeTypes []nodeTypeInfo `json:"nodeTypes"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.NodeTypes, len(schema.AllNodeTypes()))
	assert.NotEmpty(t, out.NodeTypes[0].ConfigSchema)

	result, err = s.handleListNodeTypes(context.Background(), buildRequest("list_node_types", map[string]any{"category": "trigger"}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	require.Len(t, out.NodeTypes, 1)
	assert.Equal(t, schema.NodeTrigger, out.NodeTypes[0].Type)
}

func TestValidateWorkflow_Inline(t *testing.T) {
	reg := actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(reg, actions.Dependencies{}))
	s := NewServer(ServerDeps{Actions: reg})

	result, err := s.handleValidateWorkflow(context.Background(), buildRequest("validate_workflow", map[string]any{
		"definition": map[string]any{"name": "review", "graph": reviewGraph()},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Valid bool          `json:"valid"`
		Steps []schema.Step `json:"steps"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)
	require.Len(t, out.Steps, 1)
	assert.Equal(t, "update_field", out.Steps[0].ConfigString("action"))
}

func TestValidateWorkflow_ReportsErrors(t *testing.T) {
	s := NewServer(ServerDeps{})
	graph := reviewGraph()
	graph["edges"] = []any{}

	result, err := s.handleValidateWorkflow(context.Background(), buildRequest("validate_workflow", map[string]any{
		"definition": map[string]any{"graph": graph},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Valid    bool                     `json:"valid"`
		Warnings []schema.ValidationError `json:"warnings"`
	}
	unmarshalResult(t, result, &out)
	assert.NotEmpty(t, out.Warnings, "unreachable nodes are reported")
}

func TestValidateWorkflow_Stored(t *testing.T) {
	st := &fakeStore{defs: map[string]*schema.WorkflowDefinition{
		"wf-1": {ID: "wf-1", Name: "review", Steps: []schema.Step{{Type: schema.StepBranch}}},
	}}
	s := NewServer(ServerDeps{Store: st})

	result, err := s.handleValidateWorkflow(context.Background(), buildRequest("validate_workflow", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = s.handleValidateWorkflow(context.Background(), buildRequest("validate_workflow", map[string]any{"workflow_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "NOT_FOUND")
}

func TestValidateWorkflow_MissingInput(t *testing.T) {
	s := NewServer(ServerDeps{})
	result, err := s.handleValidateWorkflow(context.Background(), buildRequest("validate_workflow", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleValidateWorkflow(context.Background(), buildRequest("validate_workflow", map[string]any{
		"definition": map[string]any{"name": "empty"},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTriggerWorkflow_Waiting(t *testing.T) {
	runner := &fakeRunner{exec: &schema.WorkflowExecution{
		ID: "exec-1", Status: schema.ExecutionWaiting, CurrentStep: 3, WaitingFor: "approval",
	}}
	s := NewServer(ServerDeps{Runner: runner})

	result, err := s.handleTriggerWorkflow(context.Background(), buildRequest("trigger_workflow", map[string]any{
		"workflow_id":  "wf-1",
		"entity_type":  "deal",
		"entity_id":    "d1",
		"trigger_data": map[string]any{"source": "agent"},
		"agent_id":     "agent-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	require.Len(t, runner.triggered, 1)
	assert.Equal(t, engine.TriggerRequest{
		WorkflowID: "wf-1", EntityType: "deal", EntityID: "d1",
		TriggerData: map[string]any{"source": "agent"},
	}, runner.triggered[0])

	var out engine.WaitingResponse
	unmarshalResult(t, result, &out)
	assert.Equal(t, "approval", out.WaitingFor)
	assert.Equal(t, 3, out.CurrentStep)

	agentID, ok := s.sessions.Watcher("exec-1", false)
	require.True(t, ok)
	assert.Equal(t, "agent-1", agentID)
}

func TestTriggerWorkflow_Errors(t *testing.T) {
	s := NewServer(ServerDeps{Runner: &fakeRunner{}})
	result, err := s.handleTriggerWorkflow(context.Background(), buildRequest("trigger_workflow", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	s = NewServer(ServerDeps{Runner: &fakeRunner{err: schema.NewError(schema.ErrCodeStore, "disk full")}})
	result, err = s.handleTriggerWorkflow(context.Background(), buildRequest("trigger_workflow", map[string]any{"workflow_id": "wf"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "[STORE_ERROR] disk full")
}

func TestResumeExecution(t *testing.T) {
	runner := &fakeRunner{exec: &schema.WorkflowExecution{
		ID: "exec-1", Status: schema.ExecutionCompleted,
		StepResults: []schema.StepResult{{Status: schema.StepStatusCompleted}, {Status: schema.StepStatusCompleted}},
	}}
	s := NewServer(ServerDeps{Runner: runner})

	result, err := s.handleResumeExecution(context.Background(), buildRequest("resume_execution", map[string]any{
		"execution_id": "exec-1",
		"waiting_for":  "approval",
		"data":         map[string]any{"approved": true},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	require.Len(t, runner.resumed, 1)
	assert.Equal(t, "approval", runner.resumed[0].WaitingFor)
	assert.Equal(t, true, runner.resumed[0].Data["approved"])

	var out engine.FinishedResponse
	unmarshalResult(t, result, &out)
	assert.Equal(t, 2, out.StepsExecuted)

	runner.err = schema.NewError(schema.ErrCodeConflict, "execution is completed, not waiting")
	result, err = s.handleResumeExecution(context.Background(), buildRequest("resume_execution", map[string]any{"execution_id": "exec-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "CONFLICT")
}

func TestGetExecution(t *testing.T) {
	runner := &fakeRunner{exec: &schema.WorkflowExecution{ID: "exec-1", Status: schema.ExecutionFailed, Error: "boom"}}
	st := &fakeStore{events: []*schema.ExecutionEvent{{ID: 1, ExecutionID: "exec-1", Type: schema.EventExecutionStarted}}}
	s := NewServer(ServerDeps{Runner: runner, Store: st})

	result, err := s.handleGetExecution(context.Background(), buildRequest("get_execution", map[string]any{"execution_id": "exec-1"}))
	require.NoError(t, err)
	text := extractText(t, result)
	assert.Contains(t, text, "boom")
	assert.NotContains(t, text, "events")

	result, err = s.handleGetExecution(context.Background(), buildRequest("get_execution", map[string]any{
		"execution_id": "exec-1", "include_events": true,
	}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), schema.EventExecutionStarted)

	result, err = s.handleGetExecution(context.Background(), buildRequest("get_execution", map[string]any{"execution_id": "other"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDiagramWorkflow(t *testing.T) {
	var def schema.WorkflowDefinition
	raw, err := json.Marshal(map[string]any{"id": "wf-1", "name": "review", "graph": reviewGraph()})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &def))

	runner := &fakeRunner{exec: &schema.WorkflowExecution{
		ID: "exec-1", WorkflowID: "wf-1", WorkflowVersion: 1, Status: schema.ExecutionCompleted,
		StepResults: []schema.StepResult{{NodeID: "u", Status: schema.StepStatusCompleted}},
	}}
	s := NewServer(ServerDeps{Runner: runner, Store: &fakeStore{defs: map[string]*schema.WorkflowDefinition{"wf-1": &def}}})

	result, err := s.handleDiagramWorkflow(context.Background(), buildRequest("diagram_workflow", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "graph TD")

	result, err = s.handleDiagramWorkflow(context.Background(), buildRequest("diagram_workflow", map[string]any{
		"execution_id": "exec-1", "format": "mermaid",
	}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), "class u completed")

	result, err = s.handleDiagramWorkflow(context.Background(), buildRequest("diagram_workflow", map[string]any{
		"workflow_id": "wf-1", "format": "ascii",
	}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), "=== review ===")

	result, err = s.handleDiagramWorkflow(context.Background(), buildRequest("diagram_workflow", map[string]any{"format": "png"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleDiagramWorkflow(context.Background(), buildRequest("diagram_workflow", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
