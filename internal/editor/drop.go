package editor

import (
	"encoding/json"
	"strings"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// DropPayload is what the palette attaches to a drag: the node type, an
// optional label and config overrides.
type DropPayload struct {
	Type   schema.CanvasNodeType `json:"type"`
	Label  string                `json:"label,omitempty"`
	Config map[string]any        `json:"config,omitempty"`
}

// ParseDropPayload decodes a palette drop payload.
func ParseDropPayload(data []byte) (DropPayload, error) {
	var p DropPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return DropPayload{}, schema.NewError(schema.ErrCodeValidation, "invalid drop payload").WithCause(err)
	}
	if p.Type == "" {
		return DropPayload{}, schema.NewError(schema.ErrCodeValidation, "drop payload has no type")
	}
	return p, nil
}

// Drop creates a node from a palette payload centred on the screen point
// where it was released, and selects it.
func (s *Session) Drop(p DropPayload, at Point) (string, error) {
	c := s.view.ToCanvas(at)
	pos := schema.Position{X: c.X - NodeWidth/2, Y: c.Y - NodeHeight/2}
	id, err := s.AddNode(p.Type, pos, p.Config)
	if err != nil {
		return "", err
	}
	if label := strings.TrimSpace(p.Label); label != "" {
		s.graph.Node(id).Label = label
	}
	_ = s.SelectNode(id)
	return id, nil
}
