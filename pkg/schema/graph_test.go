package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph() *Graph {
	return &Graph{
		Nodes: []CanvasNode{
			{ID: "t", Type: NodeTrigger, Label: "Start", Position: Position{X: 10, Y: 20}, Config: map[string]any{"event": "manual"}},
			{ID: "c", Type: NodeCondition, Position: Position{X: 10.5, Y: 140}, Config: map[string]any{
				"field": "{{entity.amount}}", "operator": "gt", "value": float64(1000),
			}},
			{ID: "a", Type: NodeApproval, Position: Position{X: -40, Y: 260}, TimeoutMs: 5000,
				Retry:  &RetryPolicy{MaxAttempts: 3, Backoff: BackoffLinear, InitialDelayMs: 100},
				Config: map[string]any{"approvers": []any{"assigned_to"}, "requiredApprovals": float64(1)}},
		},
		Edges: []CanvasEdge{
			{ID: "e1", Source: "t", Target: "c", SourceHandle: HandleOutput, Kind: EdgeDefault},
			{ID: "e2", Source: "c", Target: "a", SourceHandle: HandleTrue, Kind: EdgeTrue, Label: "Yes"},
		},
	}
}

func TestGraph_JSONRoundTrip(t *testing.T) {
	g := sampleGraph()

	data, err := json.Marshal(g)
	require.NoError(t, err)

	var back Graph
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *g, back)
}

func TestGraph_Lookups(t *testing.T) {
	g := sampleGraph()

	require.NotNil(t, g.Node("c"))
	assert.Nil(t, g.Node("missing"))
	assert.NotNil(t, g.Edge("e2"))
	assert.Len(t, g.OutgoingEdges("c"), 1)
	assert.Len(t, g.IncomingEdges("c"), 1)
	assert.Empty(t, g.IncomingEdges("t"))
}

func TestGraph_CloneIsDeep(t *testing.T) {
	g := sampleGraph()
	c := g.Clone()

	c.Nodes[1].Config["operator"] = "lt"
	c.Nodes[2].Retry.MaxAttempts = 9
	c.Nodes[2].Config["approvers"].([]any)[0] = "created_by"
	c.Edges[0].Target = "a"

	assert.Equal(t, "gt", g.Nodes[1].Config["operator"])
	assert.Equal(t, 3, g.Nodes[2].Retry.MaxAttempts)
	assert.Equal(t, "assigned_to", g.Nodes[2].Config["approvers"].([]any)[0])
	assert.Equal(t, "c", g.Edges[0].Target)
}

func TestHandleHelpers(t *testing.T) {
	assert.Equal(t, EdgeTrue, EdgeKindFor(HandleTrue))
	assert.Equal(t, EdgeFalse, EdgeKindFor(HandleFalse))
	assert.Equal(t, EdgeDefault, EdgeKindFor(HandleOutput))
	assert.Equal(t, "Yes", EdgeLabelFor(HandleTrue))
	assert.Equal(t, "No", EdgeLabelFor(HandleFalse))
	assert.Equal(t, "", EdgeLabelFor(HandleOutput))

	e := CanvasEdge{}
	assert.Equal(t, HandleOutput, e.EffectiveHandle())
}

func TestNodeTypes_Closed(t *testing.T) {
	for _, nt := range AllNodeTypes() {
		assert.True(t, nt.Valid(), nt)
	}
	assert.False(t, CanvasNodeType("teleport").Valid())
}

func TestExecution_HasFailedStep(t *testing.T) {
	exec := &WorkflowExecution{StepResults: []StepResult{{Status: StepStatusCompleted}}}
	assert.False(t, exec.HasFailedStep())

	exec.StepResults = append(exec.StepResults, StepResult{Status: StepStatusFailed})
	assert.True(t, exec.HasFailedStep())

	assert.True(t, ExecutionFailed.IsTerminal())
	assert.False(t, ExecutionWaiting.IsTerminal())
	assert.Equal(t, "step_2_output", StepOutputKey(2))
}
