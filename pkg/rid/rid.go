// Package rid models runtime graphs: which runtime identifiers fall back to
// which, and which extra packages a package needs on a given runtime.
//
// The JSON form matches the runtime.json file shipped inside packages:
//
//	{
//	  "runtimes": {
//	    "linux-x64": {
//	      "#import": ["linux", "unix"],
//	      "Sample": { "Sample.linux-x64": "1.0.0" }
//	    }
//	  }
//	}
package rid

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

const importKey = "#import"

// Dependency is a runtime-specific package dependency.
type Dependency struct {
	ID    string
	Range versioning.Range
}

// DependencySet lists the extra dependencies a package gets on one runtime.
type DependencySet struct {
	ID           string
	Dependencies []Dependency
}

// Description describes one runtime identifier.
type Description struct {
	RuntimeID string
	// Imports is the ordered fallback chain.
	Imports []string
	// DependencySets is keyed by lowercased package id.
	DependencySets map[string]DependencySet
}

// Graph maps runtime identifiers to their descriptions.
type Graph struct {
	Runtimes map[string]*Description
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{Runtimes: make(map[string]*Description)}
}

// Add inserts or merges d into g.
func (g *Graph) Add(d Description) {
	g.mergeDescription(d)
}

// MergeIn merges other into g. Descriptions for new runtime ids are copied.
// For runtime ids present in both, import chains are concatenated with
// duplicates removed (first seen wins) and dependency sets are unioned;
// entries already in g are never overwritten.
func (g *Graph) MergeIn(other *Graph) {
	if other == nil {
		return
	}
	for _, id := range other.IDs() {
		g.mergeDescription(*other.Runtimes[id])
	}
}

func (g *Graph) mergeDescription(d Description) {
	if g.Runtimes == nil {
		g.Runtimes = make(map[string]*Description)
	}
	cur, ok := g.Runtimes[d.RuntimeID]
	if !ok {
		cur = &Description{RuntimeID: d.RuntimeID, DependencySets: make(map[string]DependencySet)}
		g.Runtimes[d.RuntimeID] = cur
	}

	seen := make(map[string]bool, len(cur.Imports))
	for _, imp := range cur.Imports {
		seen[imp] = true
	}
	for _, imp := range d.Imports {
		if !seen[imp] {
			seen[imp] = true
			cur.Imports = append(cur.Imports, imp)
		}
	}

	for key, set := range d.DependencySets {
		existing, ok := cur.DependencySets[key]
		if !ok {
			cur.DependencySets[key] = DependencySet{ID: set.ID, Dependencies: append([]Dependency(nil), set.Dependencies...)}
			continue
		}
		have := make(map[string]bool, len(existing.Dependencies))
		for _, dep := range existing.Dependencies {
			have[strings.ToLower(dep.ID)] = true
		}
		for _, dep := range set.Dependencies {
			if !have[strings.ToLower(dep.ID)] {
				existing.Dependencies = append(existing.Dependencies, dep)
			}
		}
		cur.DependencySets[key] = existing
	}
}

// IDs returns the runtime ids in sorted order.
func (g *Graph) IDs() []string {
	if g == nil {
		return nil
	}
	ids := make([]string, 0, len(g.Runtimes))
	for id := range g.Runtimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Expand returns runtimeID followed by every runtime it imports,
// breadth-first, each once.
func (g *Graph) Expand(runtimeID string) []string {
	out := []string{runtimeID}
	seen := map[string]bool{runtimeID: true}
	for i := 0; i < len(out); i++ {
		d, ok := g.Runtimes[out[i]]
		if !ok {
			continue
		}
		for _, imp := range d.Imports {
			if !seen[imp] {
				seen[imp] = true
				out = append(out, imp)
			}
		}
	}
	return out
}

// FindDependencies walks the import chain of runtimeID and returns the
// first dependency set declared for packageID, converted to library
// dependencies. It returns nil when the chain is exhausted.
func (g *Graph) FindDependencies(runtimeID, packageID string) []library.Dependency {
	if g == nil {
		return nil
	}
	key := strings.ToLower(packageID)
	for _, id := range g.Expand(runtimeID) {
		d, ok := g.Runtimes[id]
		if !ok {
			continue
		}
		set, ok := d.DependencySets[key]
		if !ok {
			continue
		}
		deps := make([]library.Dependency, 0, len(set.Dependencies))
		for _, dep := range set.Dependencies {
			deps = append(deps, library.Dependency{
				Range: library.Range{Name: dep.ID, VersionRange: dep.Range, TypeConstraint: library.TypePackage},
				Kind:  library.KindDefault,
			})
		}
		return deps
	}
	return nil
}

// Parse decodes a runtime.json document.
func Parse(data []byte) (*Graph, error) {
	var doc struct {
		Runtimes map[string]map[string]json.RawMessage `json:"runtimes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "parse runtime graph")
	}

	g := New()
	for runtimeID, body := range doc.Runtimes {
		d := Description{RuntimeID: runtimeID, DependencySets: make(map[string]DependencySet)}
		for _, key := range sortedKeys(body) {
			raw := body[key]
			if key == importKey {
				if err := json.Unmarshal(raw, &d.Imports); err != nil {
					return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "runtime %s: #import", runtimeID)
				}
				continue
			}
			var ranges map[string]string
			if err := json.Unmarshal(raw, &ranges); err != nil {
				return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "runtime %s: package %s", runtimeID, key)
			}
			set := DependencySet{ID: key}
			for _, depID := range sortedKeys(ranges) {
				vr, err := versioning.ParseRange(ranges[depID])
				if err != nil {
					return nil, err
				}
				set.Dependencies = append(set.Dependencies, Dependency{ID: depID, Range: vr})
			}
			d.DependencySets[strings.ToLower(key)] = set
		}
		g.Add(d)
	}
	return g, nil
}

// MarshalJSON encodes g in runtime.json form.
func (g *Graph) MarshalJSON() ([]byte, error) {
	runtimes := make(map[string]map[string]any, len(g.Runtimes))
	for id, d := range g.Runtimes {
		body := make(map[string]any)
		if len(d.Imports) > 0 {
			body[importKey] = d.Imports
		}
		for _, set := range d.DependencySets {
			ranges := make(map[string]string, len(set.Dependencies))
			for _, dep := range set.Dependencies {
				ranges[dep.ID] = dep.Range.String()
			}
			body[set.ID] = ranges
		}
		runtimes[id] = body
	}
	return json.Marshal(map[string]any{"runtimes": runtimes})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
