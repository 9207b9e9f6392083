package editor

import (
	"math"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Zoom limits.
const (
	MinZoom = 0.25
	MaxZoom = 2.0
)

// Point is a location in screen space (pixels relative to the page).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport maps screen coordinates to canvas coordinates. Origin is the
// screen position of the canvas element's top-left corner; Pan is expressed
// in canvas units.
type Viewport struct {
	Origin Point           `json:"origin"`
	Zoom   float64         `json:"zoom"`
	Pan    schema.Position `json:"pan"`
}

// DefaultViewport is unzoomed and unpanned at the screen origin.
func DefaultViewport() Viewport {
	return Viewport{Zoom: 1}
}

func (v Viewport) zoom() float64 {
	if v.Zoom <= 0 {
		return 1
	}
	return v.Zoom
}

// ToCanvas converts a screen point: canvas = (screen - origin)/zoom - pan.
func (v Viewport) ToCanvas(p Point) schema.Position {
	z := v.zoom()
	return schema.Position{
		X: (p.X-v.Origin.X)/z - v.Pan.X,
		Y: (p.Y-v.Origin.Y)/z - v.Pan.Y,
	}
}

// ToScreen is the inverse of ToCanvas.
func (v Viewport) ToScreen(c schema.Position) Point {
	z := v.zoom()
	return Point{
		X: (c.X+v.Pan.X)*z + v.Origin.X,
		Y: (c.Y+v.Pan.Y)*z + v.Origin.Y,
	}
}

// ZoomAt changes the zoom by factor while keeping the canvas point under
// the screen point anchor fixed. The result is clamped to [MinZoom, MaxZoom].
func (v Viewport) ZoomAt(factor float64, anchor Point) Viewport {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return v
	}
	fixed := v.ToCanvas(anchor)
	z := math.Min(MaxZoom, math.Max(MinZoom, v.zoom()*factor))
	v.Zoom = z
	v.Pan = schema.Position{
		X: (anchor.X-v.Origin.X)/z - fixed.X,
		Y: (anchor.Y-v.Origin.Y)/z - fixed.Y,
	}
	return v
}

// PanBy moves the view by a screen-space delta.
func (v Viewport) PanBy(dx, dy float64) Viewport {
	z := v.zoom()
	v.Pan.X += dx / z
	v.Pan.Y += dy / z
	return v
}
