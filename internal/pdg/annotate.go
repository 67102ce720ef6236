package pdg

import (
	"fmt"

	"github.com/unbound-force/faultloc/internal/sbfl"
)

// Node is one annotated graph node.
type Node struct {
	// Index is the node's listing position.
	Index int `json:"index"`

	// Line is the source line the node stands for, 0 if unresolved.
	Line int `json:"line"`

	// Score is the line's suspiciousness, 0 if unscored or unresolved.
	Score float64 `json:"score"`

	// Category is the bucket Score falls into.
	Category sbfl.Category `json:"category"`
}

// Color returns the node's fill color.
func (n Node) Color() string { return n.Category.Color() }

// Label returns the category name with the score to two decimals,
// or just "Not Suspicious".
func (n Node) Label() string {
	if n.Category == sbfl.NotSuspicious {
		return string(n.Category)
	}
	return fmt.Sprintf("%s (%.2f)", n.Category, n.Score)
}

// Graph is the annotated dependency graph. Nodes are ordered by first
// appearance: listing positions first, then edge endpoints that are
// not in the listing.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// LineIndex maps resolved source lines to the graph node that
// represents them, and back.
type LineIndex struct {
	byLine map[int]int
	byNode map[int]int
}

// NewLineIndex scans the listing once. A line is owned by the first
// entry whose leading detail carries it; later entries with the same
// line do not own it.
func NewLineIndex(entries []Entry) *LineIndex {
	idx := &LineIndex{byLine: make(map[int]int), byNode: make(map[int]int)}
	for i, e := range entries {
		line, ok := e.Line()
		if !ok {
			continue
		}
		if _, taken := idx.byLine[line]; taken {
			continue
		}
		idx.byLine[line] = i
		idx.byNode[i] = line
	}
	return idx
}

// Node returns the node owning line.
func (x *LineIndex) Node(line int) (int, bool) {
	n, ok := x.byLine[line]
	return n, ok
}

// Line returns the line owned by node.
func (x *LineIndex) Line(node int) (int, bool) {
	l, ok := x.byNode[node]
	return l, ok
}

// Len returns the number of mapped lines.
func (x *LineIndex) Len() int { return len(x.byLine) }

// Build constructs the annotated graph from a resolved document and
// per-line scores. Every listing entry and every edge endpoint becomes
// a node; nodes without a scored line are Not Suspicious. Duplicate
// edges collapse into one.
func Build(doc *Document, scores map[int]float64) *Graph {
	idx := NewLineIndex(doc.Entries)
	g := &Graph{}
	seen := make(map[int]bool)

	addNode := func(i int) {
		if seen[i] {
			return
		}
		seen[i] = true
		n := Node{Index: i}
		if line, ok := idx.Line(i); ok {
			n.Line = line
			n.Score = scores[line]
		}
		n.Category = sbfl.Classify(n.Score)
		g.Nodes = append(g.Nodes, n)
	}

	for i := range doc.Entries {
		addNode(i)
	}
	seenEdge := make(map[Edge]bool)
	for _, e := range doc.Edges {
		addNode(e.From)
		addNode(e.To)
		if seenEdge[e] {
			continue
		}
		seenEdge[e] = true
		g.Edges = append(g.Edges, e)
	}
	return g
}

// Counts tallies nodes per category.
func (g *Graph) Counts() map[sbfl.Category]int {
	counts := make(map[sbfl.Category]int)
	for _, n := range g.Nodes {
		counts[n.Category]++
	}
	return counts
}
