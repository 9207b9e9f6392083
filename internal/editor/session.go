// Package editor implements the interactive graph editing session: node and
// edge mutation, selection, pan and zoom, and the pointer gestures that drive
// them. A Session is single-threaded and must not be used concurrently.
package editor

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ghxstship/orangeseadragon-sub009/internal/registry"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Session holds one graph being edited together with its view and the
// current gesture. Mutations only touch the graph; nothing is executed.
type Session struct {
	graph *schema.Graph
	view  Viewport
	mode  Mode

	drag    dragState
	pan     panState
	pending *PendingConnection

	selectedNode string
	selectedEdge string

	newID    func(prefix string) string
	revision int
}

// Option configures a Session.
type Option func(*Session)

// WithIDGenerator replaces the node/edge id generator.
func WithIDGenerator(fn func(prefix string) string) Option {
	return func(s *Session) { s.newID = fn }
}

// WithViewport sets the initial view.
func WithViewport(v Viewport) Option {
	return func(s *Session) { s.view = v }
}

// NewSession starts editing a copy of g. A nil graph starts empty.
func NewSession(g *schema.Graph, opts ...Option) *Session {
	if g == nil {
		g = &schema.Graph{}
	}
	s := &Session{
		graph: g.Clone(),
		view:  DefaultViewport(),
		mode:  ModeIdle,
		newID: defaultID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ValidateAll()
	return s
}

func defaultID(prefix string) string {
	return prefix + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func (s *Session) nextID(prefix string) string {
	for {
		id := s.newID(prefix)
		if s.graph.Node(id) == nil && s.graph.Edge(id) == nil {
			return id
		}
	}
}

// Graph returns a copy of the edited graph.
func (s *Session) Graph() *schema.Graph { return s.graph.Clone() }

// Node returns a copy of the node with id.
func (s *Session) Node(id string) (schema.CanvasNode, bool) {
	n := s.graph.Node(id)
	if n == nil {
		return schema.CanvasNode{}, false
	}
	return cloneNode(n), true
}

// Revision increases on every graph mutation.
func (s *Session) Revision() int { return s.revision }

// Viewport returns the current view.
func (s *Session) Viewport() Viewport { return s.view }

// SetViewport replaces the view.
func (s *Session) SetViewport(v Viewport) { s.view = v }

// SetOrigin records where the canvas element sits on screen.
func (s *Session) SetOrigin(p Point) { s.view.Origin = p }

// Mode returns the active gesture.
func (s *Session) Mode() Mode { return s.mode }

// Pending returns the in-flight connection, if any.
func (s *Session) Pending() (PendingConnection, bool) {
	if s.pending == nil {
		return PendingConnection{}, false
	}
	return *s.pending, true
}

// Selection returns the selected node and edge ids; at most one is set.
func (s *Session) Selection() (nodeID, edgeID string) {
	return s.selectedNode, s.selectedEdge
}

// AddNode creates a node of type t at canvas position pos. config is merged
// over the type's default config.
func (s *Session) AddNode(t schema.CanvasNodeType, pos schema.Position, config map[string]any) (string, error) {
	spec, ok := registry.Lookup(t)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", t)
	}
	if t == schema.NodeTrigger {
		for _, n := range s.graph.Nodes {
			if n.Type == schema.NodeTrigger {
				return "", schema.NewErrorf(schema.ErrCodeValidation, "graph already has trigger %q", n.ID)
			}
		}
	}
	cfg := registry.DefaultConfig(t)
	for k, v := range config {
		cfg[k] = schema.CloneValue(v)
	}
	id := s.nextID(string(t))
	s.graph.Nodes = append(s.graph.Nodes, schema.CanvasNode{
		ID:       id,
		Type:     t,
		Label:    spec.Label,
		Position: pos,
		Config:   cfg,
	})
	s.touch(id)
	return id, nil
}

// MoveNode sets a node's canvas position.
func (s *Session) MoveNode(id string, pos schema.Position) error {
	n := s.graph.Node(id)
	if n == nil {
		return nodeNotFound(id)
	}
	n.Position = pos
	s.revision++
	return nil
}

// UpdateNode applies fn to the node and revalidates it. If fn fails the node
// is left unchanged.
func (s *Session) UpdateNode(id string, fn func(n *schema.CanvasNode) error) error {
	n := s.graph.Node(id)
	if n == nil {
		return nodeNotFound(id)
	}
	work := cloneNode(n)
	if err := fn(&work); err != nil {
		return err
	}
	work.ID, work.Type = n.ID, n.Type
	*n = work
	s.touch(id)
	return nil
}

// AddEdge connects source's handle to target's input. An empty handle means
// output. A source handle carries at most one edge, so an existing edge on
// the same handle is replaced.
func (s *Session) AddEdge(source, target string, handle schema.Handle) (string, error) {
	if handle == "" {
		handle = schema.HandleOutput
	}
	if err := s.checkEdge(source, target, handle); err != nil {
		return "", err
	}
	var affected []string
	edges := s.graph.Edges[:0]
	for _, e := range s.graph.Edges {
		if e.Source == source && e.EffectiveHandle() == handle {
			affected = append(affected, e.Target)
			if s.selectedEdge == e.ID {
				s.selectedEdge = ""
			}
			continue
		}
		edges = append(edges, e)
	}
	s.graph.Edges = edges
	id := s.nextID("edge")
	s.graph.Edges = append(s.graph.Edges, schema.CanvasEdge{
		ID:           id,
		Source:       source,
		Target:       target,
		SourceHandle: handle,
		Kind:         schema.EdgeKindFor(handle),
		Label:        schema.EdgeLabelFor(handle),
	})
	s.touch(append(affected, source, target)...)
	return id, nil
}

func (s *Session) checkEdge(source, target string, handle schema.Handle) error {
	src := s.graph.Node(source)
	if src == nil {
		return nodeNotFound(source)
	}
	dst := s.graph.Node(target)
	if dst == nil {
		return nodeNotFound(target)
	}
	if source == target {
		return schema.NewErrorf(schema.ErrCodeValidation, "cannot connect %q to itself", source)
	}
	srcSpec, _ := registry.Lookup(src.Type)
	dstSpec, _ := registry.Lookup(dst.Type)
	if srcSpec == nil || !srcSpec.HasOutput(handle) {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s node %q has no %q handle", src.Type, source, handle)
	}
	if dstSpec == nil || !dstSpec.HasInput {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s node %q cannot be a connection target", dst.Type, target)
	}
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (s *Session) RemoveNode(id string) error {
	if s.graph.Node(id) == nil {
		return nodeNotFound(id)
	}
	var affected []string
	edges := s.graph.Edges[:0]
	for _, e := range s.graph.Edges {
		if e.Source == id || e.Target == id {
			affected = append(affected, e.Source, e.Target)
			if s.selectedEdge == e.ID {
				s.selectedEdge = ""
			}
			continue
		}
		edges = append(edges, e)
	}
	s.graph.Edges = edges

	nodes := s.graph.Nodes[:0]
	for _, n := range s.graph.Nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	s.graph.Nodes = nodes
	if s.selectedNode == id {
		s.selectedNode = ""
	}
	s.touch(affected...)
	return nil
}

// RemoveEdge deletes one edge.
func (s *Session) RemoveEdge(id string) error {
	e := s.graph.Edge(id)
	if e == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "edge %q not found", id)
	}
	source, target := e.Source, e.Target
	edges := s.graph.Edges[:0]
	for _, existing := range s.graph.Edges {
		if existing.ID != id {
			edges = append(edges, existing)
		}
	}
	s.graph.Edges = edges
	if s.selectedEdge == id {
		s.selectedEdge = ""
	}
	s.touch(source, target)
	return nil
}

// SelectNode selects a node; an empty id clears the node selection.
func (s *Session) SelectNode(id string) error {
	if id != "" && s.graph.Node(id) == nil {
		return nodeNotFound(id)
	}
	s.selectedNode = id
	if id != "" {
		s.selectedEdge = ""
	}
	return nil
}

// SelectEdge selects an edge; an empty id clears the edge selection.
func (s *Session) SelectEdge(id string) error {
	if id != "" && s.graph.Edge(id) == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "edge %q not found", id)
	}
	s.selectedEdge = id
	if id != "" {
		s.selectedNode = ""
	}
	return nil
}

// SelectedNode returns a copy of the selected node.
func (s *Session) SelectedNode() (schema.CanvasNode, bool) {
	if s.selectedNode == "" {
		return schema.CanvasNode{}, false
	}
	return s.Node(s.selectedNode)
}

// touch bumps the revision and revalidates the given nodes.
func (s *Session) touch(ids ...string) {
	s.revision++
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if n := s.graph.Node(id); n != nil {
			n.ValidationErrors = validateNode(s.graph, n)
		}
	}
}

func cloneNode(n *schema.CanvasNode) schema.CanvasNode {
	return (&schema.Graph{Nodes: []schema.CanvasNode{*n}}).Clone().Nodes[0]
}

func nodeNotFound(id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", id)
}
