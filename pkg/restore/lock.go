package restore

import (
	"github.com/matzehuels/pkgrestore/pkg/graph"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/lockfile"
	"github.com/matzehuels/pkgrestore/pkg/repository"
)

// buildLockFile records one target per graph. The root project is the
// target itself and is not listed. Build dependencies and everything only
// reachable through them are left out.
func buildLockFile(graphs []*graph.Graph, flat *Flattened, repo *repository.Local) (*lockfile.LockFile, error) {
	lf := lockfile.New()
	included := make(map[string]library.Identity)
	var order []string

	for _, g := range graphs {
		target := lockfile.Target{}
		var visit func(n *graph.Node, buildOnly bool)
		visit = func(n *graph.Node, buildOnly bool) {
			if n.Disposition == graph.Rejected || n.Disposition == graph.PotentiallyDowngraded {
				return
			}
			buildOnly = buildOnly || n.Kind == library.KindBuild
			if n.Disposition == graph.Accepted && n != g.Root && !buildOnly {
				id := flat.Canonical(n.Item.Identity)
				key := lockfile.Key(id.Name, id.Version.String())
				if _, ok := target[key]; !ok {
					target[key] = lockfile.TargetLibrary{Type: libraryType(id), Dependencies: dependencyMap(n.Item.Dependencies)}
				}
				if _, ok := included[key]; !ok {
					included[key] = id
					order = append(order, key)
				}
			}
			for _, c := range n.Children {
				visit(c, buildOnly)
			}
		}
		if g.Root != nil {
			visit(g.Root, false)
		}
		lf.Targets[g.Name()] = target
	}

	for _, key := range order {
		id := included[key]
		lib := lockfile.Library{Type: libraryType(id)}
		if lib.Type == string(library.TypePackage) {
			hash, err := repo.Hash(id)
			if err != nil {
				return nil, err
			}
			files, err := repo.Files(id)
			if err != nil {
				return nil, err
			}
			lib.SHA512 = hash
			lib.Files = files
		}
		lf.Libraries[key] = lib
	}
	return lf, nil
}

func libraryType(id library.Identity) string {
	switch id.Type {
	case library.TypeAny, library.TypePackage:
		return string(library.TypePackage)
	}
	return string(id.Type)
}

// dependencyMap lists the non-build dependencies a library declares.
func dependencyMap(deps []library.Dependency) map[string]string {
	var out map[string]string
	for _, d := range deps {
		if d.Kind == library.KindBuild {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[d.Name] = d.VersionRange.String()
	}
	return out
}
