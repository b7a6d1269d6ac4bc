package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-graphviz"
)

// =============================================================================
// Node-link Document
// =============================================================================

// Document is the node-link form of a graph. Nodes are distinct
// identities (or ranges, when unresolved); edges are deduplicated.
type Document struct {
	Framework string    `json:"framework"`
	Runtime   string    `json:"runtime,omitempty"`
	Nodes     []DocNode `json:"nodes"`
	Edges     []DocEdge `json:"edges"`
}

// DocNode is a node of a Document.
type DocNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Range       string `json:"range"`
	Disposition string `json:"disposition"`
	Provider    string `json:"provider,omitempty"`
}

// DocEdge is a dependency edge of a Document.
type DocEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Export converts g to a Document. When several tree nodes map to the same
// document node, Accepted wins over other dispositions; otherwise the first
// one seen is kept. Order is depth-first pre-order.
func Export(g *Graph) Document {
	doc := Document{Framework: string(g.Framework), Runtime: g.Runtime, Nodes: []DocNode{}, Edges: []DocEdge{}}
	index := make(map[string]int)
	edges := make(map[DocEdge]bool)

	var visit func(n *Node, parent string)
	visit = func(n *Node, parent string) {
		id := docID(n)
		if i, ok := index[id]; !ok {
			index[id] = len(doc.Nodes)
			doc.Nodes = append(doc.Nodes, docNode(n, id))
		} else if n.Disposition == Accepted {
			doc.Nodes[i].Disposition = Accepted.String()
		}
		if parent != "" {
			e := DocEdge{From: parent, To: id}
			if !edges[e] {
				edges[e] = true
				doc.Edges = append(doc.Edges, e)
			}
		}
		for _, c := range n.Children {
			visit(c, id)
		}
	}
	if g.Root != nil {
		visit(g.Root, "")
	}
	return doc
}

func docID(n *Node) string {
	switch {
	case n.Disposition == Cycle:
		return "cycle:" + n.Key.NameKey()
	case n.Item == nil:
		return "missing:" + n.Key.String()
	default:
		return n.Item.Identity.String()
	}
}

func docNode(n *Node, id string) DocNode {
	dn := DocNode{ID: id, Name: n.Key.Name, Range: n.Key.VersionRange.String(), Disposition: n.Disposition.String()}
	if n.Item != nil {
		dn.Name = n.Item.Identity.Name
		dn.Version = n.Item.Identity.Version.String()
		if n.Item.Provider != nil {
			dn.Provider = n.Item.Provider.Name()
		}
	} else if n.Disposition != Cycle {
		dn.Disposition = "missing"
	}
	return dn
}

// WriteJSON writes the documents of graphs as an indented JSON array.
func WriteJSON(w io.Writer, graphs ...*Graph) error {
	docs := make([]Document, len(graphs))
	for i, g := range graphs {
		docs[i] = Export(g)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(docs); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// =============================================================================
// Graphviz
// =============================================================================

var dispositionColors = map[string]string{
	"accepted":   "white",
	"rejected":   "lightgrey",
	"downgraded": "gold",
	"cycle":      "lightblue",
	"missing":    "salmon",
	"acceptable": "white",
}

// ToDOT renders g as a Graphviz DOT digraph, filling nodes by disposition.
func ToDOT(g *Graph) string {
	doc := Export(g)

	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14, margin=\"0.2,0.1\"];\n")
	fmt.Fprintf(&buf, "  label=%q;\n", g.Name())
	buf.WriteString("\n")

	for _, n := range doc.Nodes {
		label := n.Name
		if n.Version != "" {
			label += "\n" + n.Version
		} else {
			label += "\n" + n.Range
		}
		attrs := []string{fmt.Sprintf("label=%q", label), fmt.Sprintf("fillcolor=%s", dispositionColors[n.Disposition])}
		if n.Disposition == "rejected" || n.Disposition == "downgraded" {
			attrs = append(attrs, "style=\"rounded,filled,dashed\"")
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", n.ID, strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	for _, e := range doc.Edges {
		fmt.Fprintf(&buf, "  %q -> %q;\n", e.From, e.To)
	}

	buf.WriteString("}\n")
	return buf.String()
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
