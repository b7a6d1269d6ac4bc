package graph

import (
	"github.com/matzehuels/pkgrestore/pkg/library"
)

// Downgrade records a node that lost conflict resolution to a version its
// own range does not allow.
type Downgrade struct {
	Node     *Node
	Accepted library.Identity
}

// ResolveConflicts picks one accepted identity per package name and marks
// every node in the restore closure.
//
// The shallowest occurrence of a name wins; among occurrences at the same
// depth the highest version wins. Nodes resolved to any other identity are
// Rejected, or PotentiallyDowngraded when their own range excludes the
// accepted version, and their subtrees leave the closure.
//
// A node's membership in the closure depends only on shallower nodes, so
// the graph is decided level by level and the outcome does not depend on
// the order in which the walk completed.
func (g *Graph) ResolveConflicts() []Downgrade {
	if g.Root == nil {
		return nil
	}

	accepted := make(map[string]library.Identity)
	var downgrades []Downgrade

	level := []*Node{g.Root}
	for len(level) > 0 {
		best := make(map[string]library.Identity)
		for _, n := range level {
			if !n.Resolved() || n.Disposition == Cycle {
				continue
			}
			name := n.Key.NameKey()
			if _, ok := accepted[name]; ok {
				continue
			}
			if cur, ok := best[name]; !ok || n.Item.Identity.Version.Compare(cur.Version) > 0 {
				best[name] = n.Item.Identity
			}
		}
		for name, id := range best {
			accepted[name] = id
		}

		var next []*Node
		for _, n := range level {
			if !n.Resolved() || n.Disposition == Cycle {
				continue
			}
			winner := accepted[n.Key.NameKey()]
			switch {
			case winner.Equal(n.Item.Identity):
				n.Disposition = Accepted
				next = append(next, n.Children...)
			case !n.Key.VersionRange.Satisfies(winner.Version):
				n.Disposition = PotentiallyDowngraded
				downgrades = append(downgrades, Downgrade{Node: n, Accepted: winner})
			default:
				n.Disposition = Rejected
			}
		}
		level = next
	}
	return downgrades
}

// Accepted returns the accepted identities in first-seen pre-order, one per
// package name.
func (g *Graph) Accepted() []*Node {
	seen := make(map[string]bool)
	var out []*Node
	g.ForEachAccepted(func(n *Node) {
		if n.Disposition != Accepted {
			return
		}
		key := n.Key.NameKey()
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, n)
	})
	return out
}
