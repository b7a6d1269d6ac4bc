package restore

import (
	"strings"

	"github.com/matzehuels/pkgrestore/pkg/graph"
	"github.com/matzehuels/pkgrestore/pkg/install"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/provider"
)

// Flattened is the union of several resolved graphs.
type Flattened struct {
	// Libraries are the accepted identities, deduplicated, in first-seen
	// order.
	Libraries []library.Identity
	// InstallItems are the libraries resolved by a remote provider.
	InstallItems []install.Item
	// Missing are the ranges no graph could resolve, excluding references.
	Missing []library.Range

	names map[string]string
}

// Flatten walks the restore closure of every graph in order. The first
// resolved occurrence of a package name fixes its casing for all later
// occurrences, so each package has one install path.
func Flatten(graphs []*graph.Graph) *Flattened {
	f := &Flattened{names: make(map[string]string)}
	libraries := make(map[string]bool)
	items := make(map[string]bool)
	resolved := make(map[string]bool)
	missing := make(map[string]bool)
	var candidates []library.Range

	for _, g := range graphs {
		g.ForEachAccepted(func(n *graph.Node) {
			if n.Disposition == graph.Cycle {
				return
			}
			if n.Item == nil {
				if n.Key.TypeConstraint == library.TypeReference {
					return
				}
				if key := n.Key.Key(); !missing[key] {
					missing[key] = true
					candidates = append(candidates, n.Key)
				}
				return
			}
			if n.Disposition != graph.Accepted {
				return
			}

			id := f.Canonical(n.Item.Identity)
			resolved[strings.ToLower(id.Name)] = true
			key := id.Key()
			if !libraries[key] {
				libraries[key] = true
				f.Libraries = append(f.Libraries, id)
			}
			if n.Item.Provider != nil && n.Item.Provider.Kind() == provider.KindRemote && !items[key] {
				items[key] = true
				f.InstallItems = append(f.InstallItems, install.Item{Identity: id, Provider: n.Item.Provider})
			}
		})
	}

	for _, r := range candidates {
		if !resolved[r.NameKey()] {
			f.Missing = append(f.Missing, r)
		}
	}
	return f
}

// Canonical returns id with the canonical casing of its name. Unknown names
// become canonical as they are.
func (f *Flattened) Canonical(id library.Identity) library.Identity {
	key := strings.ToLower(id.Name)
	if name, ok := f.names[key]; ok {
		id.Name = name
		return id
	}
	f.names[key] = id.Name
	return id
}
