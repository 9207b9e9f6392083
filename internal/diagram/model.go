// Package diagram renders workflow graphs as Mermaid, ASCII or images, with
// an optional overlay of an execution's step outcomes.
package diagram

// NodeKind decides how a node is drawn.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindWait      NodeKind = "wait"
	NodeKindBranch    NodeKind = "branch"
	NodeKindEnd       NodeKind = "end"
)

// Status is the runtime state painted over a node.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusWaiting   Status = "waiting"
)

// Model is the renderer-neutral form of a workflow.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
	// Levels groups node ids by their longest distance from a source node.
	Levels [][]string

	byID map[string]*Node
}

// Node is a canvas node, or a compiled step when the workflow has no graph.
type Node struct {
	ID      string
	Label   string
	Kind    NodeKind
	Outcome *Outcome
}

// Outcome is what the last step recorded for a node.
type Outcome struct {
	Status   Status
	Attempts int
	Error    string
}

// Edge connects two nodes. Condition branches carry "Yes" or "No".
type Edge struct {
	From  string
	To    string
	Label string
}

func (m *Model) add(n *Node) {
	if m.byID == nil {
		m.byID = make(map[string]*Node)
	}
	m.Nodes = append(m.Nodes, n)
	m.byID[n.ID] = n
}

func (m *Model) node(id string) *Node { return m.byID[id] }

// level returns the index of the level holding id, or -1.
func (m *Model) level(id string) int {
	for i, ids := range m.Levels {
		for _, n := range ids {
			if n == id {
				return i
			}
		}
	}
	return -1
}

// title returns the first line of the node's label, or id when the node is
// unknown.
func (m *Model) title(id string) string {
	if n := m.node(id); n != nil {
		return firstLine(n.Label)
	}
	return id
}

func firstLine(s string) string {
	for i := range len(s) {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
