package editor

import (
	"sort"

	"github.com/ghxstship/orangeseadragon-sub009/internal/registry"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// validateNode returns the problems shown on a node while editing: missing
// or malformed config, a bad retry policy, and dangling condition branches.
// Whole-graph checks such as cycles belong to the compiler.
func validateNode(g *schema.Graph, n *schema.CanvasNode) []string {
	var problems []string
	problems = append(problems, registry.ValidateConfig(n.Type, n.Config)...)
	problems = append(problems, n.Retry.Problems()...)
	if n.TimeoutMs < 0 {
		problems = append(problems, "timeout must not be negative")
	}
	if n.Type == schema.NodeCondition && len(g.OutgoingEdges(n.ID)) == 0 {
		problems = append(problems, "condition has no true or false branch")
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return problems
}

// ValidateAll revalidates every node and returns the problems keyed by node
// id. Nodes without problems are omitted.
func (s *Session) ValidateAll() map[string][]string {
	out := make(map[string][]string)
	for i := range s.graph.Nodes {
		n := &s.graph.Nodes[i]
		n.ValidationErrors = validateNode(s.graph, n)
		if len(n.ValidationErrors) > 0 {
			out[n.ID] = append([]string(nil), n.ValidationErrors...)
		}
	}
	return out
}
