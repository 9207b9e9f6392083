package diagram

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-graphviz/cgraph"
)

// kindStyle is how one NodeKind looks in each output.
type kindStyle struct {
	mermaid string // Sprintf pattern taking the id and the quoted label
	shape   cgraph.Shape
	border  lipgloss.Border
	small   bool // drawn as a fixed-size marker in images
}

var kindStyles = map[NodeKind]kindStyle{
	NodeKindTrigger:   {mermaid: "%s((%q))", shape: cgraph.CircleShape, border: lipgloss.RoundedBorder(), small: true},
	NodeKindEnd:       {mermaid: "%s((%q))", shape: cgraph.DoubleCircleShape, border: lipgloss.RoundedBorder(), small: true},
	NodeKindCondition: {mermaid: "%s{%q}", shape: cgraph.DiamondShape, border: lipgloss.DoubleBorder()},
	NodeKindWait:      {mermaid: "%s([%q])", shape: cgraph.EllipseShape, border: lipgloss.ThickBorder()},
	NodeKindBranch:    {mermaid: "%s[[%q]]", shape: cgraph.HexagonShape, border: lipgloss.ThickBorder()},
	NodeKindAction:    {mermaid: "%s[%q]", shape: cgraph.BoxShape, border: lipgloss.NormalBorder()},
}

func styleOf(k NodeKind) kindStyle {
	if s, ok := kindStyles[k]; ok {
		return s
	}
	return kindStyles[NodeKindAction]
}

// statusStyle is how one Status is painted.
type statusStyle struct {
	tag    string
	fill   string
	stroke string
	font   string
	dashed bool
}

// statusOrder fixes the order classDefs are emitted in.
var statusOrder = []Status{StatusCompleted, StatusFailed, StatusWaiting, StatusSkipped}

var statusStyles = map[Status]statusStyle{
	StatusCompleted: {tag: "[OK]", fill: "#2d6a2d", stroke: "#1a4a1a", font: "#ffffff"},
	StatusFailed:    {tag: "[FAIL]", fill: "#8b1a1a", stroke: "#5c0e0e", font: "#ffffff"},
	StatusWaiting:   {tag: "[WAIT]", fill: "#b7791a", stroke: "#8a5c14", font: "#ffffff"},
	StatusSkipped:   {tag: "[SKIP]", fill: "#e8e8e8", stroke: "#999999", font: "#888888", dashed: true},
}
