package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// ImageFormat is an encoding RenderImage can produce.
type ImageFormat string

const (
	ImagePNG ImageFormat = "png"
	ImageSVG ImageFormat = "svg"
)

var imageFormats = map[ImageFormat]graphviz.Format{
	ImagePNG: graphviz.PNG,
	ImageSVG: graphviz.SVG,
	"":       graphviz.PNG,
}

// RenderImage lays m out top-down with dot and encodes it as format.
func RenderImage(ctx context.Context, m *Model, format ImageFormat) ([]byte, error) {
	gvFormat, ok := imageFormats[format]
	if !ok {
		return nil, fmt.Errorf("diagram: unsupported image format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: start graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	g, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: new graph: %w", err)
	}
	defer g.Close()
	g.SetRankDir(cgraph.TBRank)
	if m.Title != "" {
		g.SetLabel(m.Title)
	}

	nodes := make(map[string]*cgraph.Node, len(m.Nodes))
	for _, n := range m.Nodes {
		gn, err := g.CreateNodeByName(n.ID)
		if err != nil {
			return nil, fmt.Errorf("diagram: node %s: %w", n.ID, err)
		}
		dressNode(gn, n)
		nodes[n.ID] = gn
	}
	for _, e := range m.Edges {
		from, to := nodes[e.From], nodes[e.To]
		if from == nil || to == nil {
			continue
		}
		ge, err := g.CreateEdgeByName("", from, to)
		if err != nil {
			return nil, fmt.Errorf("diagram: edge %s->%s: %w", e.From, e.To, err)
		}
		if e.Label != "" {
			ge.SetLabel(e.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, gvFormat, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func dressNode(gn *cgraph.Node, n *Node) {
	ks := styleOf(n.Kind)
	gn.SetLabel(firstLine(n.Label))
	gn.SetShape(ks.shape)
	if ks.small {
		gn.SetWidth(0.5)
		gn.SetHeight(0.5)
	}
	if n.Outcome == nil {
		return
	}
	ss, ok := statusStyles[n.Outcome.Status]
	if !ok {
		return
	}
	style := cgraph.FilledNodeStyle
	if ss.dashed {
		style = cgraph.NodeStyle("filled,dashed")
	}
	gn.SetStyle(style)
	gn.SetFillColor(ss.fill)
	gn.SetColor(ss.stroke)
	gn.SetFontColor(ss.font)
}
