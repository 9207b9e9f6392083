package diagram

import (
	"fmt"
	"strings"
)

var (
	mermaidIDReplacer    = strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "_")
	mermaidLabelReplacer = strings.NewReplacer(`"`, "#quot;")
)

// RenderMermaid returns m as a top-down Mermaid flowchart. Nodes with an
// outcome get the class of their status.
func RenderMermaid(m *Model) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	if m.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", m.Title)
	}

	for _, n := range m.Nodes {
		label := mermaidEscapeLabel(firstLine(n.Label))
		fmt.Fprintf(&b, "    "+styleOf(n.Kind).mermaid+"\n", mermaidSafeID(n.ID), label)
	}
	for _, e := range m.Edges {
		arrow := "-->"
		if e.Label != "" {
			arrow += "|" + mermaidEscapeLabel(e.Label) + "|"
		}
		fmt.Fprintf(&b, "    %s %s %s\n", mermaidSafeID(e.From), arrow, mermaidSafeID(e.To))
	}

	b.WriteByte('\n')
	for _, st := range statusOrder {
		s := statusStyles[st]
		fmt.Fprintf(&b, "    classDef %s fill:%s,stroke:%s,color:%s", st, s.fill, s.stroke, s.font)
		if s.dashed {
			b.WriteString(",stroke-dasharray:5 5")
		}
		b.WriteByte('\n')
	}
	for _, n := range m.Nodes {
		if n.Outcome == nil {
			continue
		}
		if _, ok := statusStyles[n.Outcome.Status]; ok {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(n.ID), n.Outcome.Status)
		}
	}
	return b.String()
}

func mermaidSafeID(id string) string { return mermaidIDReplacer.Replace(id) }

func mermaidEscapeLabel(s string) string { return mermaidLabelReplacer.Replace(s) }
