package pdg

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/emicklei/dot"
)

// Render converts the annotated graph into a DOT graph. Each node's
// id attribute is its instruction index, and it carries its category
// color and label. The tooltip repeats the index and, when resolved,
// names the source line.
func Render(g *Graph) *dot.Graph {
	dg := dot.NewGraph(dot.Directed)
	for _, n := range g.Nodes {
		tip := fmt.Sprintf("instruction %d", n.Index)
		if n.Line > 0 {
			tip += fmt.Sprintf(", line %d", n.Line)
		}
		dg.Node(strconv.Itoa(n.Index)).
			Attr("id", strconv.Itoa(n.Index)).
			Attr("color", n.Color()).
			Attr("tooltip", tip).
			Label(n.Label())
	}
	for _, e := range g.Edges {
		dg.Edge(dg.Node(strconv.Itoa(e.From)), dg.Node(strconv.Itoa(e.To)))
	}
	return dg
}

// RenderPlain converts the unannotated document into a DOT graph in
// which every node is blue and labeled "Node <index>".
func RenderPlain(doc *Document) *dot.Graph {
	dg := dot.NewGraph(dot.Directed)
	node := func(i int) dot.Node {
		return dg.Node(strconv.Itoa(i)).
			Attr("id", strconv.Itoa(i)).
			Attr("color", "blue").
			Label(fmt.Sprintf("Node %d", i))
	}
	for i := range doc.Entries {
		node(i)
	}
	seen := make(map[Edge]bool)
	for _, e := range doc.Edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		dg.Edge(node(e.From), node(e.To))
	}
	return dg
}

// WriteDOT writes dg in DOT syntax.
func WriteDOT(w io.Writer, dg *dot.Graph) error {
	_, err := io.WriteString(w, dg.String())
	return err
}

// SaveDOT writes dg to path.
func SaveDOT(path string, dg *dot.Graph) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteDOT(f, dg); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
