package schema

// CanvasNodeType tags the kind of unit a canvas node represents.
type CanvasNodeType string

const (
	NodeTrigger      CanvasNodeType = "trigger"
	NodeCondition    CanvasNodeType = "condition"
	NodeAction       CanvasNodeType = "action"
	NodeNotification CanvasNodeType = "notification"
	NodeUpdateField  CanvasNodeType = "update_field"
	NodeApproval     CanvasNodeType = "approval"
	NodeDelay        CanvasNodeType = "delay"
	NodeWait         CanvasNodeType = "wait"
	NodeHTTP         CanvasNodeType = "http"
	NodeScript       CanvasNodeType = "script"
	NodeLoop         CanvasNodeType = "loop"
	NodeBranch       CanvasNodeType = "branch"
	NodeEnd          CanvasNodeType = "end"
)

var allNodeTypes = []CanvasNodeType{
	NodeTrigger, NodeCondition, NodeAction, NodeNotification, NodeUpdateField,
	NodeApproval, NodeDelay, NodeWait, NodeHTTP, NodeScript, NodeLoop,
	NodeBranch, NodeEnd,
}

// AllNodeTypes returns every node type in palette order.
func AllNodeTypes() []CanvasNodeType {
	out := make([]CanvasNodeType, len(allNodeTypes))
	copy(out, allNodeTypes)
	return out
}

// Valid reports whether t is one of the known node types.
func (t CanvasNodeType) Valid() bool {
	for _, k := range allNodeTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Handle names a connection point on a node.
type Handle string

const (
	HandleOutput Handle = "output"
	HandleTrue   Handle = "true"
	HandleFalse  Handle = "false"
	HandleInput  Handle = "input"
)

// IsBoolean reports whether h is one of the condition branch handles.
func (h Handle) IsBoolean() bool {
	return h == HandleTrue || h == HandleFalse
}

// EdgeKind classifies an edge by the branch it represents.
type EdgeKind string

const (
	EdgeDefault EdgeKind = "default"
	EdgeTrue    EdgeKind = "true"
	EdgeFalse   EdgeKind = "false"
)

// EdgeKindFor returns the edge kind produced by a source handle.
func EdgeKindFor(h Handle) EdgeKind {
	switch h {
	case HandleTrue:
		return EdgeTrue
	case HandleFalse:
		return EdgeFalse
	default:
		return EdgeDefault
	}
}

// EdgeLabelFor returns the label inferred for an edge leaving handle h.
func EdgeLabelFor(h Handle) string {
	switch h {
	case HandleTrue:
		return "Yes"
	case HandleFalse:
		return "No"
	default:
		return ""
	}
}

// Position is a point in canvas space.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// DefaultStepTimeoutMs applies to nodes and steps that carry no timeout.
const DefaultStepTimeoutMs int64 = 30000

// CanvasNode is a unit of work in the authored graph.
type CanvasNode struct {
	ID               string         `json:"id" yaml:"id"`
	Type             CanvasNodeType `json:"type" yaml:"type"`
	Label            string         `json:"label,omitempty" yaml:"label,omitempty"`
	Description      string         `json:"description,omitempty" yaml:"description,omitempty"`
	Position         Position       `json:"position" yaml:"position"`
	Config           map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	TimeoutMs        int64          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry            *RetryPolicy   `json:"retryPolicy,omitempty" yaml:"retryPolicy,omitempty"`
	ValidationErrors []string       `json:"validationErrors,omitempty" yaml:"validationErrors,omitempty"`
}

// EffectiveTimeoutMs returns the node timeout or the default.
func (n *CanvasNode) EffectiveTimeoutMs() int64 {
	if n.TimeoutMs > 0 {
		return n.TimeoutMs
	}
	return DefaultStepTimeoutMs
}

// CanvasEdge connects a source handle of one node to the input of another.
type CanvasEdge struct {
	ID           string   `json:"id" yaml:"id"`
	Source       string   `json:"source" yaml:"source"`
	Target       string   `json:"target" yaml:"target"`
	SourceHandle Handle   `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	Kind         EdgeKind `json:"type,omitempty" yaml:"type,omitempty"`
	Label        string   `json:"label,omitempty" yaml:"label,omitempty"`
}

// EffectiveHandle returns the source handle, defaulting to output.
func (e *CanvasEdge) EffectiveHandle() Handle {
	if e.SourceHandle == "" {
		return HandleOutput
	}
	return e.SourceHandle
}

// Graph is the authored form of a workflow.
type Graph struct {
	Nodes []CanvasNode `json:"nodes" yaml:"nodes"`
	Edges []CanvasEdge `json:"edges" yaml:"edges"`
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *CanvasNode {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Edge returns the edge with the given id, or nil.
func (g *Graph) Edge(id string) *CanvasEdge {
	for i := range g.Edges {
		if g.Edges[i].ID == id {
			return &g.Edges[i]
		}
	}
	return nil
}

// OutgoingEdges returns the edges leaving node id, in declaration order.
func (g *Graph) OutgoingEdges(id string) []CanvasEdge {
	var out []CanvasEdge
	for _, e := range g.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns the edges entering node id, in declaration order.
func (g *Graph) IncomingEdges(id string) []CanvasEdge {
	var out []CanvasEdge
	for _, e := range g.Edges {
		if e.Target == id {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := &Graph{
		Nodes: make([]CanvasNode, len(g.Nodes)),
		Edges: make([]CanvasEdge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		n.Config = CloneMap(n.Config)
		if n.Retry != nil {
			r := *n.Retry
			n.Retry = &r
		}
		if n.ValidationErrors != nil {
			n.ValidationErrors = append([]string(nil), n.ValidationErrors...)
		}
		out.Nodes[i] = n
	}
	copy(out.Edges, g.Edges)
	return out
}

// CloneMap deep-copies a JSON-like map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and slices; other values are returned as is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
