package compiler

import (
	"fmt"
	"strings"

	"github.com/ghxstship/orangeseadragon-sub009/internal/registry"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// analysis is the checked form of a graph handed to lowering.
type analysis struct {
	graph     *schema.Graph
	index     map[string]int // node id -> declaration index
	out       map[string][]schema.CanvasEdge
	trigger   string
	reachable map[string]bool
	order     []string
}

func (c *Compiler) analyze(g *schema.Graph) (*schema.ValidationResult, *analysis) {
	result := &schema.ValidationResult{}
	if g == nil || len(g.Nodes) == 0 {
		result.AddError("", schema.ErrCodeValidation, "graph has no nodes")
		return result, nil
	}

	a := &analysis{
		graph: g,
		index: make(map[string]int, len(g.Nodes)),
		out:   make(map[string][]schema.CanvasEdge, len(g.Nodes)),
	}

	// Stage 1: nodes and edges are well formed.
	c.checkNodes(a, result)
	c.checkEdges(a, result)
	if !result.Valid() {
		return result, nil
	}

	// Stage 2: reachability and cycles from the trigger.
	a.reachable = reachableFrom(a)
	for _, n := range g.Nodes {
		if !a.reachable[n.ID] {
			result.AddWarning(n.ID, schema.ErrCodeValidation, "node is not reachable from the trigger")
		}
	}
	if cycle := findCycle(a); cycle != nil {
		result.AddError(cycle[0], schema.ErrCodeCycleDetected,
			fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> ")))
		return result, nil
	}

	// Stage 3: per-node rules that depend on reachability.
	for i := range g.Nodes {
		c.checkNode(a, &g.Nodes[i], result)
	}
	if !result.Valid() {
		return result, nil
	}

	a.order = topoOrder(a)
	return result, a
}

func (c *Compiler) checkNodes(a *analysis, result *schema.ValidationResult) {
	var triggers []string
	for i, n := range a.graph.Nodes {
		if n.ID == "" {
			result.AddError("", schema.ErrCodeValidation, fmt.Sprintf("node at index %d has an empty id", i))
			continue
		}
		if _, dup := a.index[n.ID]; dup {
			result.AddError(n.ID, schema.ErrCodeValidation, "duplicate node id")
			continue
		}
		a.index[n.ID] = i
		if _, ok := registry.Lookup(n.Type); !ok {
			result.AddError(n.ID, schema.ErrCodeValidation, fmt.Sprintf("unknown node type %q", n.Type))
		}
		if n.Type == schema.NodeTrigger {
			triggers = append(triggers, n.ID)
		}
	}
	switch len(triggers) {
	case 0:
		result.AddError("", schema.ErrCodeValidation, "workflow has no trigger node")
	case 1:
		a.trigger = triggers[0]
	default:
		for _, id := range triggers[1:] {
			result.AddError(id, schema.ErrCodeValidation, "workflow has more than one trigger node")
		}
	}
}

func (c *Compiler) checkEdges(a *analysis, result *schema.ValidationResult) {
	seen := make(map[string]bool, len(a.graph.Edges))
	for i, e := range a.graph.Edges {
		ref := e.ID
		if ref == "" {
			ref = fmt.Sprintf("#%d", i)
		} else if seen[e.ID] {
			result.AddEdgeError(e.ID, schema.ErrCodeValidation, "duplicate edge id")
			continue
		}
		seen[e.ID] = true

		si, srcOK := a.index[e.Source]
		ti, dstOK := a.index[e.Target]
		if !srcOK {
			result.AddEdgeError(ref, schema.ErrCodeValidation, fmt.Sprintf("source %q does not exist", e.Source))
		}
		if !dstOK {
			result.AddEdgeError(ref, schema.ErrCodeValidation, fmt.Sprintf("target %q does not exist", e.Target))
		}
		if !srcOK || !dstOK {
			continue
		}
		src, dst := &a.graph.Nodes[si], &a.graph.Nodes[ti]
		srcSpec, srcKnown := registry.Lookup(src.Type)
		dstSpec, dstKnown := registry.Lookup(dst.Type)
		if !srcKnown || !dstKnown {
			continue
		}

		handle := e.EffectiveHandle()
		switch {
		case len(srcSpec.Outputs) == 0:
			result.AddError(src.ID, schema.ErrCodeValidation,
				fmt.Sprintf("%s node cannot have outgoing connections", src.Type))
		case !srcSpec.HasOutput(handle):
			result.AddEdgeError(ref, schema.ErrCodeValidation,
				fmt.Sprintf("%s node %q has no %q handle", src.Type, src.ID, handle))
		}
		if !dstSpec.HasInput {
			result.AddError(dst.ID, schema.ErrCodeValidation,
				fmt.Sprintf("%s node cannot have incoming connections", dst.Type))
		}
		a.out[e.Source] = append(a.out[e.Source], e)
	}
}

// checkNode applies config, retry and branching rules. Unreachable nodes
// never run, so their config problems are only warnings.
func (c *Compiler) checkNode(a *analysis, n *schema.CanvasNode, result *schema.ValidationResult) {
	reachable := a.reachable[n.ID]
	add := func(code, msg string) {
		if reachable {
			result.AddError(n.ID, code, msg)
		} else {
			result.AddWarning(n.ID, code, msg)
		}
	}

	for _, msg := range registry.ValidateConfig(n.Type, n.Config) {
		add(schema.ErrCodeValidation, msg)
	}
	for _, msg := range n.Retry.Problems() {
		add(schema.ErrCodeValidation, msg)
	}
	if n.TimeoutMs < 0 {
		add(schema.ErrCodeValidation, "timeout must not be negative")
	}
	if c.actions != nil {
		names := actionNames(n)
		known := true
		for _, name := range names {
			if name != "" && !c.actions.Has(name) {
				add(schema.ErrCodeUnknownAction, fmt.Sprintf("unknown action %q", name))
				known = false
			}
		}
		if known && len(names) == 1 {
			if err := c.checkLiteral(names[0], nodeParams(n)); err != nil {
				add(schema.ErrCodeValidation, err.Error())
			}
		}
	}

	edges := a.out[n.ID]
	if n.Type != schema.NodeCondition {
		if len(edges) > 1 {
			add(schema.ErrCodeValidation,
				fmt.Sprintf("node has %d outgoing connections; only condition nodes may branch", len(edges)))
		}
		return
	}

	targets := map[schema.Handle][]string{}
	for _, e := range edges {
		h := e.EffectiveHandle()
		targets[h] = append(targets[h], e.Target)
	}
	for _, h := range []schema.Handle{schema.HandleTrue, schema.HandleFalse} {
		if len(targets[h]) > 1 {
			add(schema.ErrCodeValidation, fmt.Sprintf("condition has %d %q branches", len(targets[h]), h))
		}
	}
	if len(edges) == 0 && reachable {
		result.AddError(n.ID, schema.ErrCodeValidation, "condition has no true or false branch")
	}
	if len(targets[schema.HandleTrue]) == 1 && len(targets[schema.HandleFalse]) == 1 &&
		targets[schema.HandleTrue][0] == targets[schema.HandleFalse][0] {
		result.AddWarning(n.ID, schema.ErrCodeValidation,
			fmt.Sprintf("both branches lead to %q; the condition has no effect", targets[schema.HandleTrue][0]))
	}
}

// actionNames returns the action names a node dispatches to, for nodes
// whose action is configurable.
func actionNames(n *schema.CanvasNode) []string {
	name, _ := n.Config["action"].(string)
	switch n.Type {
	case schema.NodeAction:
		return []string{name}
	case schema.NodeLoop:
		return []string{actionForEach, name}
	}
	if action, ok := typedActions[n.Type]; ok {
		return []string{action}
	}
	return nil
}

// reachableFrom walks edges breadth-first from the trigger.
func reachableFrom(a *analysis) map[string]bool {
	seen := map[string]bool{a.trigger: true}
	queue := []string{a.trigger}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range a.out[id] {
			if !seen[e.Target] {
				seen[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return seen
}

// findCycle returns the node ids of one cycle reachable from the trigger,
// first node repeated at the end, or nil.
func findCycle(a *analysis) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(a.index))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, e := range a.out[id] {
			switch color[e.Target] {
			case grey:
				start := 0
				for i, s := range stack {
					if s == e.Target {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), stack[start:]...), e.Target)
				return true
			case white:
				if visit(e.Target) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}
	if visit(a.trigger) {
		return cycle
	}
	return nil
}

// topoOrder orders the reachable nodes with Kahn's algorithm. Among ready
// nodes the one declared first goes first, so output is deterministic.
func topoOrder(a *analysis) []string {
	inDegree := make(map[string]int, len(a.reachable))
	for id := range a.reachable {
		for _, e := range a.out[id] {
			inDegree[e.Target]++
		}
	}

	ready := []string{a.trigger}
	order := make([]string, 0, len(a.reachable))
	for len(ready) > 0 {
		best := 0
		for i := range ready {
			if a.index[ready[i]] < a.index[ready[best]] {
				best = i
			}
		}
		id := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		order = append(order, id)

		for _, e := range a.out[id] {
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				ready = append(ready, e.Target)
			}
		}
	}
	return order
}
