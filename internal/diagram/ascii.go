package diagram

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderASCII draws m as rows of boxes, one row per level, for terminals and
// chat clients without Mermaid support. Edges that a plain level-to-level
// arrow cannot show (labelled branches and jumps over a level) are listed
// after the rows, followed by the errors of failed nodes.
func RenderASCII(m *Model) string {
	var b strings.Builder
	if m.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", m.Title)
	}

	for i, ids := range m.Levels {
		var row []string
		for _, id := range ids {
			n := m.node(id)
			if n == nil {
				continue
			}
			if len(row) > 0 {
				row = append(row, "  ")
			}
			row = append(row, asciiBox(n))
		}
		if len(row) == 0 {
			continue
		}
		line := lipgloss.JoinHorizontal(lipgloss.Top, row...)
		b.WriteString(line)
		b.WriteByte('\n')
		if i < len(m.Levels)-1 {
			b.WriteString(lipgloss.PlaceHorizontal(lipgloss.Width(line), lipgloss.Center, "│\n▼"))
			b.WriteByte('\n')
		}
	}

	var side []string
	for _, e := range m.Edges {
		if e.Label == "" && m.level(e.To)-m.level(e.From) <= 1 {
			continue
		}
		s := fmt.Sprintf("  %s ─→ %s", m.title(e.From), m.title(e.To))
		if e.Label != "" {
			s += " [" + e.Label + "]"
		}
		side = append(side, s)
	}
	if len(side) > 0 {
		b.WriteString("\n" + strings.Join(side, "\n") + "\n")
	}

	var failures []string
	for _, n := range m.Nodes {
		if o := n.Outcome; o != nil && o.Status == StatusFailed && o.Error != "" {
			failures = append(failures, fmt.Sprintf("  ✗ %s: %s", firstLine(n.Label), firstLine(o.Error)))
		}
	}
	if len(failures) > 0 {
		b.WriteString("\n" + strings.Join(failures, "\n") + "\n")
	}
	return b.String()
}

func asciiBox(n *Node) string {
	lines := []string{firstLine(n.Label)}
	if o := n.Outcome; o != nil {
		if tag := statusStyles[o.Status].tag; tag != "" {
			lines = append(lines, tag)
		}
		if o.Attempts > 1 {
			lines = append(lines, fmt.Sprintf("%d attempts", o.Attempts))
		}
	}
	return lipgloss.NewStyle().
		Border(styleOf(n.Kind).border).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}
