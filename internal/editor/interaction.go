package editor

import (
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Mode is the transient pointer-interaction state. Exactly one gesture is
// active at a time.
type Mode string

const (
	ModeIdle              Mode = "idle"
	ModeDraggingNode      Mode = "dragging_node"
	ModeDrawingConnection Mode = "drawing_connection"
	ModePanning           Mode = "panning"
)

// ValidModeTransitions defines the allowed interaction transitions. Every
// gesture starts from and returns to idle.
var ValidModeTransitions = map[Mode][]Mode{
	ModeIdle:              {ModeDraggingNode, ModeDrawingConnection, ModePanning},
	ModeDraggingNode:      {ModeIdle},
	ModeDrawingConnection: {ModeIdle},
	ModePanning:           {ModeIdle},
}

func isValidModeTransition(from, to Mode) bool {
	for _, m := range ValidModeTransitions[from] {
		if m == to {
			return true
		}
	}
	return false
}

// PendingConnection tracks a connection gesture between press on a source
// handle and release. Pointer is in canvas space.
type PendingConnection struct {
	SourceID string          `json:"sourceId"`
	Handle   schema.Handle   `json:"handle"`
	Pointer  schema.Position `json:"pointer"`
}

type dragState struct {
	nodeID string
	offset schema.Position
	origin schema.Position
}

type panState struct {
	start    Point
	startPan schema.Position
}

// Button identifies the pressed pointer button.
type Button int

const (
	ButtonPrimary Button = iota
	ButtonMiddle
	ButtonSecondary
)

// PointerResult reports what a pointer event did.
type PointerResult struct {
	Mode Mode `json:"mode"`
	// EdgeID is set when a release committed a connection.
	EdgeID string `json:"edgeId,omitempty"`
	// Cancelled is set when a connection gesture ended without an edge.
	Cancelled bool `json:"cancelled,omitempty"`
	// Err explains why a release over a target did not create an edge.
	Err error `json:"-"`
}
