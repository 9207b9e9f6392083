package diagram

import (
	"fmt"

	"github.com/ghxstship/orangeseadragon-sub009/internal/compiler"
	"github.com/ghxstship/orangeseadragon-sub009/internal/registry"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a Model from a definition. A definition with a
// graph is drawn node for node; a step list is drawn step for step between
// virtual start and end nodes. exec, when non-nil, overlays step outcomes.
func Build(def *schema.WorkflowDefinition, exec *schema.WorkflowExecution) (*Model, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: definition is required")
	}
	var (
		m   *Model
		err error
	)
	switch {
	case def.Graph != nil && len(def.Graph.Nodes) > 0:
		m = fromGraph(def.Graph)
	case len(def.Steps) > 0:
		m = fromSteps(compiler.Defaults(def.Steps))
	default:
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: workflow has neither a graph nor steps")
	}
	m.Title = def.Name
	if m.Title == "" {
		m.Title = "Workflow"
	}
	if m.Levels, err = levels(m); err != nil {
		return nil, err
	}
	if exec != nil {
		overlay(m, def.Graph != nil && len(def.Graph.Nodes) > 0, exec)
	}
	return m, nil
}

func fromGraph(g *schema.Graph) *Model {
	m := &Model{}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		label := n.Label
		if label == "" {
			if spec, ok := registry.Lookup(n.Type); ok {
				label = spec.Label
			} else {
				label = string(n.Type)
			}
		}
		m.add(&Node{ID: n.ID, Label: label, Kind: nodeKind(n.Type)})
	}
	for _, e := range g.Edges {
		label := e.Label
		if label == "" {
			switch e.EffectiveHandle() {
			case schema.HandleTrue:
				label = "Yes"
			case schema.HandleFalse:
				label = "No"
			}
		}
		m.Edges = append(m.Edges, Edge{From: e.Source, To: e.Target, Label: label})
	}
	return m
}

func nodeKind(t schema.CanvasNodeType) NodeKind {
	switch t {
	case schema.NodeTrigger:
		return NodeKindTrigger
	case schema.NodeCondition:
		return NodeKindCondition
	case schema.NodeDelay, schema.NodeWait, schema.NodeApproval:
		return NodeKindWait
	case schema.NodeBranch:
		return NodeKindBranch
	case schema.NodeEnd:
		return NodeKindEnd
	default:
		return NodeKindAction
	}
}

func stepID(i int) string { return fmt.Sprintf("step_%d", i) }

func fromSteps(steps []schema.Step) *Model {
	m := &Model{}
	m.add(&Node{ID: startID, Label: "Start", Kind: NodeKindTrigger})
	target := func(jump int) string {
		if jump == schema.StepEnd || jump >= len(steps) {
			return endID
		}
		return stepID(jump)
	}
	for i, st := range steps {
		m.add(&Node{ID: stepID(i), Label: stepLabel(i, st), Kind: stepKind(st.Type)})
		if st.Type == schema.StepCondition {
			m.Edges = append(m.Edges,
				Edge{From: stepID(i), To: target(st.OnTrue), Label: "Yes"},
				Edge{From: stepID(i), To: target(st.OnFalse), Label: "No"})
			continue
		}
		m.Edges = append(m.Edges, Edge{From: stepID(i), To: target(st.Next)})
	}
	m.add(&Node{ID: endID, Label: "End", Kind: NodeKindEnd})
	m.Edges = append([]Edge{{From: startID, To: stepID(0)}}, m.Edges...)
	return m
}

func stepKind(t schema.StepType) NodeKind {
	switch t {
	case schema.StepCondition:
		return NodeKindCondition
	case schema.StepWait:
		return NodeKindWait
	case schema.StepBranch:
		return NodeKindBranch
	default:
		return NodeKindAction
	}
}

func stepLabel(i int, st schema.Step) string {
	if st.Label != "" {
		return st.Label
	}
	switch st.Type {
	case schema.StepAction:
		return fmt.Sprintf("%d: %s", i, st.ConfigString("action"))
	case schema.StepWait:
		return fmt.Sprintf("%d: wait %s", i, st.ConfigString("for"))
	default:
		return fmt.Sprintf("%d: %s", i, st.Type)
	}
}

// levels layers nodes by longest path from the sources (Kahn). Nodes on a
// cycle are reported as an error.
func levels(m *Model) ([][]string, error) {
	indeg := make(map[string]int, len(m.Nodes))
	out := make(map[string][]string, len(m.Nodes))
	for _, n := range m.Nodes {
		indeg[n.ID] = 0
	}
	for _, e := range m.Edges {
		if _, ok := indeg[e.From]; !ok {
			continue
		}
		if _, ok := indeg[e.To]; !ok {
			continue
		}
		out[e.From] = append(out[e.From], e.To)
		indeg[e.To]++
	}

	depth := make(map[string]int, len(m.Nodes))
	var queue []string
	for _, n := range m.Nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	seen, maxDepth := 0, 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen++
		for _, next := range out[id] {
			if d := depth[id] + 1; d > depth[next] {
				depth[next] = d
			}
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
		if depth[id] > maxDepth {
			maxDepth = depth[id]
		}
	}
	if seen != len(m.Nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "diagram: graph contains a cycle")
	}

	result := make([][]string, maxDepth+1)
	for _, n := range m.Nodes {
		d := depth[n.ID]
		result[d] = append(result[d], n.ID)
	}
	return result, nil
}

// overlay marks nodes with the outcome of their last recorded step. In a
// graph an approval node owns two steps, so a failure on either wins.
func overlay(m *Model, graph bool, exec *schema.WorkflowExecution) {
	for _, r := range exec.StepResults {
		id := stepID(r.StepIndex)
		if graph {
			id = r.NodeID
		}
		n := m.node(id)
		if n == nil {
			continue
		}
		if n.Outcome != nil && n.Outcome.Status == StatusFailed {
			continue
		}
		n.Outcome = &Outcome{Status: Status(r.Status), Attempts: r.Attempts, Error: r.Error}
	}
	if exec.Status == schema.ExecutionWaiting && len(exec.StepResults) > 0 {
		last := exec.StepResults[len(exec.StepResults)-1]
		id := stepID(last.StepIndex)
		if graph {
			id = last.NodeID
		}
		if n := m.node(id); n != nil && n.Outcome != nil {
			n.Outcome.Status = StatusWaiting
		}
	}
}
