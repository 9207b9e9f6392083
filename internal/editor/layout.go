package editor

import (
	"math"

	"github.com/ghxstship/orangeseadragon-sub009/internal/registry"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Node geometry in canvas units. A node's Position is its top-left corner;
// the input handle sits on the left edge and source handles on the right.
const (
	NodeWidth       = 200.0
	NodeHeight      = 72.0
	HandleHitRadius = 20.0
	EdgeHitDistance = 6.0
)

// HandlePosition returns the canvas location of handle h on n.
func HandlePosition(n *schema.CanvasNode, h schema.Handle) schema.Position {
	x, y := n.Position.X, n.Position.Y
	switch h {
	case schema.HandleInput:
		return schema.Position{X: x, Y: y + NodeHeight/2}
	case schema.HandleTrue:
		return schema.Position{X: x + NodeWidth, Y: y + NodeHeight/3}
	case schema.HandleFalse:
		return schema.Position{X: x + NodeWidth, Y: y + 2*NodeHeight/3}
	default:
		return schema.Position{X: x + NodeWidth, Y: y + NodeHeight/2}
	}
}

// NodeCenter returns the centre of n's box.
func NodeCenter(n *schema.CanvasNode) schema.Position {
	return schema.Position{X: n.Position.X + NodeWidth/2, Y: n.Position.Y + NodeHeight/2}
}

func distance(a, b schema.Position) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func inBox(n *schema.CanvasNode, p schema.Position) bool {
	return p.X >= n.Position.X && p.X <= n.Position.X+NodeWidth &&
		p.Y >= n.Position.Y && p.Y <= n.Position.Y+NodeHeight
}

// hitOutputHandle returns the closest source handle within the hit radius.
// Later nodes are drawn on top, so they win ties.
func hitOutputHandle(g *schema.Graph, p schema.Position) (string, schema.Handle, bool) {
	best := HandleHitRadius
	var id string
	var handle schema.Handle
	for i := len(g.Nodes) - 1; i >= 0; i-- {
		n := &g.Nodes[i]
		spec, ok := registry.Lookup(n.Type)
		if !ok {
			continue
		}
		for _, h := range spec.Outputs {
			if d := distance(HandlePosition(n, h), p); d <= best {
				best, id, handle = d, n.ID, h
			}
		}
	}
	return id, handle, id != ""
}

// hitInputHandle returns the node whose input handle is closest to p within
// the hit radius, ignoring exclude.
func hitInputHandle(g *schema.Graph, p schema.Position, exclude string) (string, bool) {
	best := HandleHitRadius
	var id string
	for i := len(g.Nodes) - 1; i >= 0; i-- {
		n := &g.Nodes[i]
		if n.ID == exclude {
			continue
		}
		spec, ok := registry.Lookup(n.Type)
		if !ok || !spec.HasInput {
			continue
		}
		if d := distance(HandlePosition(n, schema.HandleInput), p); d <= best {
			best, id = d, n.ID
		}
	}
	return id, id != ""
}

func hitNode(g *schema.Graph, p schema.Position) (string, bool) {
	for i := len(g.Nodes) - 1; i >= 0; i-- {
		if inBox(&g.Nodes[i], p) {
			return g.Nodes[i].ID, true
		}
	}
	return "", false
}

// hitEdge returns the edge whose straight segment passes within
// EdgeHitDistance of p.
func hitEdge(g *schema.Graph, p schema.Position) (string, bool) {
	for i := len(g.Edges) - 1; i >= 0; i-- {
		e := &g.Edges[i]
		src, dst := g.Node(e.Source), g.Node(e.Target)
		if src == nil || dst == nil {
			continue
		}
		a := HandlePosition(src, e.EffectiveHandle())
		b := HandlePosition(dst, schema.HandleInput)
		if segmentDistance(p, a, b) <= EdgeHitDistance {
			return e.ID, true
		}
	}
	return "", false
}

func segmentDistance(p, a, b schema.Position) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return distance(p, a)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return distance(p, schema.Position{X: a.X + t*dx, Y: a.Y + t*dy})
}
