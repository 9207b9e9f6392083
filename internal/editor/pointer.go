package editor

import (
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

func (s *Session) setMode(to Mode) error {
	if to == s.mode {
		return nil
	}
	if !isValidModeTransition(s.mode, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid interaction transition: %s -> %s", s.mode, to)
	}
	s.mode = to
	return nil
}

// PointerDown starts a gesture. With the primary button, a press on a source
// handle starts a connection, a press on a node starts dragging it, a press
// on an edge selects it, and a press on empty canvas clears the selection and
// starts panning. The middle button always pans.
func (s *Session) PointerDown(p Point, button Button) (PointerResult, error) {
	if s.mode != ModeIdle {
		return PointerResult{Mode: s.mode}, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"pointer down while %s", s.mode)
	}
	c := s.view.ToCanvas(p)

	if button == ButtonPrimary {
		if id, handle, ok := hitOutputHandle(s.graph, c); ok {
			s.pending = &PendingConnection{SourceID: id, Handle: handle, Pointer: c}
			return s.result(ModeDrawingConnection)
		}
		if id, ok := hitNode(s.graph, c); ok {
			n := s.graph.Node(id)
			s.drag = dragState{
				nodeID: id,
				offset: schema.Position{X: c.X - n.Position.X, Y: c.Y - n.Position.Y},
				origin: n.Position,
			}
			_ = s.SelectNode(id)
			return s.result(ModeDraggingNode)
		}
		if id, ok := hitEdge(s.graph, c); ok {
			_ = s.SelectEdge(id)
			return PointerResult{Mode: s.mode}, nil
		}
		s.selectedNode, s.selectedEdge = "", ""
	}
	if button == ButtonSecondary {
		return PointerResult{Mode: s.mode}, nil
	}
	s.pan = panState{start: p, startPan: s.view.Pan}
	return s.result(ModePanning)
}

// PointerMove updates the active gesture. Every position is recomputed from
// the screen point through the current viewport.
func (s *Session) PointerMove(p Point) PointerResult {
	switch s.mode {
	case ModeDraggingNode:
		c := s.view.ToCanvas(p)
		if n := s.graph.Node(s.drag.nodeID); n != nil {
			n.Position = schema.Position{X: c.X - s.drag.offset.X, Y: c.Y - s.drag.offset.Y}
			s.revision++
		}
	case ModeDrawingConnection:
		s.pending.Pointer = s.view.ToCanvas(p)
	case ModePanning:
		z := s.view.zoom()
		s.view.Pan = schema.Position{
			X: s.pan.startPan.X + (p.X-s.pan.start.X)/z,
			Y: s.pan.startPan.Y + (p.Y-s.pan.start.Y)/z,
		}
	}
	return PointerResult{Mode: s.mode}
}

// PointerUp ends the active gesture. Releasing a connection within
// HandleHitRadius of another node's input handle commits an edge; releasing
// anywhere else cancels it.
func (s *Session) PointerUp(p Point) PointerResult {
	res := PointerResult{}
	switch s.mode {
	case ModeDrawingConnection:
		pending := *s.pending
		pending.Pointer = s.view.ToCanvas(p)
		s.pending = nil
		target, ok := hitInputHandle(s.graph, pending.Pointer, pending.SourceID)
		if !ok {
			res.Cancelled = true
			break
		}
		id, err := s.AddEdge(pending.SourceID, target, pending.Handle)
		if err != nil {
			res.Cancelled = true
			res.Err = err
			break
		}
		res.EdgeID = id
	case ModeDraggingNode:
		s.PointerMove(p)
		s.drag = dragState{}
	}
	s.mode = ModeIdle
	res.Mode = s.mode
	return res
}

// Cancel aborts the active gesture. A dragged node returns to where it was
// picked up.
func (s *Session) Cancel() {
	switch s.mode {
	case ModeDraggingNode:
		if n := s.graph.Node(s.drag.nodeID); n != nil {
			n.Position = s.drag.origin
			s.revision++
		}
		s.drag = dragState{}
	case ModeDrawingConnection:
		s.pending = nil
	case ModePanning:
		s.view.Pan = s.pan.startPan
	}
	s.mode = ModeIdle
}

// Wheel zooms around the pointer. Negative deltaY zooms in.
func (s *Session) Wheel(p Point, deltaY float64) {
	factor := 1.1
	if deltaY > 0 {
		factor = 1 / factor
	} else if deltaY == 0 {
		return
	}
	s.view = s.view.ZoomAt(factor, p)
}

func (s *Session) result(to Mode) (PointerResult, error) {
	if err := s.setMode(to); err != nil {
		return PointerResult{Mode: s.mode}, err
	}
	return PointerResult{Mode: s.mode}, nil
}
