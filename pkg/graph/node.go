// Package graph builds and reduces restore dependency graphs.
//
// A restore builds one tree per target framework, and one more per
// (framework, runtime) pair. Each tree is owned by its [Graph]; nodes are
// never shared between graphs, so a package reached along two paths appears
// twice.
//
// # Pipeline
//
//	w := graph.NewWalker(chain, graph.WalkerOptions{MaxConcurrency: 8})
//	g, err := w.Walk(ctx, project.Range(), "net8.0", "", nil)
//	downgrades := g.ResolveConflicts()
//	g.ForEachAccepted(func(n *graph.Node) { ... })
//
// [Walker] resolves ranges against a [provider.Chain], detects cycles and
// coalesces identical lookups. [Graph.ResolveConflicts] reduces the tree to
// one accepted version per package name. [CollectRuntimeGraph] gathers the
// runtime graphs of the accepted packages so that a runtime walk can follow
// runtime-specific edges.
//
// # Export
//
// [Export] converts a graph into a node-link [Document] for JSON output and
// [ToDOT]/[RenderSVG] draw it with Graphviz.
package graph

import (
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/provider"
)

// Disposition is the conflict-resolution state of a node.
type Disposition int

const (
	// Acceptable is the state before conflict resolution. Unresolved nodes
	// and nodes below a rejected node keep it.
	Acceptable Disposition = iota
	Accepted
	Rejected
	Cycle
	// PotentiallyDowngraded is a rejected node whose own range does not
	// contain the accepted version.
	PotentiallyDowngraded
)

func (d Disposition) String() string {
	switch d {
	case Acceptable:
		return "acceptable"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Cycle:
		return "cycle"
	case PotentiallyDowngraded:
		return "downgraded"
	}
	return "unknown"
}

// Item is a resolved range: the identity, the provider that resolved it and
// the dependencies it declares for the walked framework.
type Item struct {
	Identity     library.Identity
	Provider     provider.Provider
	Dependencies []library.Dependency
}

// Node is one occurrence of a range in a graph.
type Node struct {
	Key library.Range
	// Kind is the dependency kind of the edge that led here.
	Kind library.DependencyKind
	// Item is nil when no provider resolved Key.
	Item        *Item
	Children    []*Node
	Disposition Disposition
	Depth       int
}

// Resolved reports whether a provider resolved the node.
func (n *Node) Resolved() bool { return n.Item != nil }

// Graph is the tree built for one framework and optional runtime.
type Graph struct {
	Root      *Node
	Framework library.Framework
	// Runtime is empty for the base framework graph.
	Runtime string
}

// Name returns "framework" or "framework/runtime".
func (g *Graph) Name() string {
	if g.Runtime == "" {
		return string(g.Framework)
	}
	return string(g.Framework) + "/" + g.Runtime
}

// ForEach visits every node in depth-first pre-order.
func (g *Graph) ForEach(fn func(*Node)) {
	var visit func(*Node)
	visit = func(n *Node) {
		fn(n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	if g.Root != nil {
		visit(g.Root)
	}
}

// ForEachAccepted visits the restore closure in depth-first pre-order: every
// node not below a rejected or downgraded node. Rejected nodes themselves
// are not visited.
func (g *Graph) ForEachAccepted(fn func(*Node)) {
	var visit func(*Node)
	visit = func(n *Node) {
		if n.Disposition == Rejected || n.Disposition == PotentiallyDowngraded {
			return
		}
		fn(n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	if g.Root != nil {
		visit(g.Root)
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	n := 0
	g.ForEach(func(*Node) { n++ })
	return n
}

// Cycles returns the nodes where a cycle was cut, in pre-order.
func (g *Graph) Cycles() []*Node {
	var out []*Node
	g.ForEach(func(n *Node) {
		if n.Disposition == Cycle {
			out = append(out, n)
		}
	})
	return out
}
