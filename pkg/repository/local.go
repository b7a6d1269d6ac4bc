package repository

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/matzehuels/pkgrestore/pkg/archive"
	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/rid"
)

// LocalPackage is an installed package.
type LocalPackage struct {
	Identity library.Identity
	// Dir holds the extracted content.
	Dir string
}

// Local is the local repository contract over an install root: lookup of
// installed packages by name, returning the available versions and the path
// to their expanded content. Only versions with a marker count.
type Local struct {
	layout Layout
}

// NewLocal opens the local repository at root. The directory need not exist.
func NewLocal(root string) *Local {
	return &Local{layout: NewLayout(root)}
}

// Layout returns the install-root layout.
func (r *Local) Layout() Layout {
	return r.layout
}

// FindPackagesByID returns the installed versions of id, ascending.
func (r *Local) FindPackagesByID(id string) ([]LocalPackage, error) {
	name, versions, err := r.layout.Versions(id, true)
	if err != nil {
		return nil, err
	}
	out := make([]LocalPackage, 0, len(versions))
	for _, v := range versions {
		ident := library.NewIdentity(name, v)
		out = append(out, LocalPackage{Identity: ident, Dir: r.layout.VersionDir(ident)})
	}
	return out, nil
}

// Manifest reads the extracted manifest of pkg.
func (r *Local) Manifest(pkg LocalPackage) (*archive.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(pkg.Dir, archive.ManifestFile))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "read manifest of %s", pkg.Identity)
	}
	return archive.ParseManifest(data)
}

// RuntimeGraph reads the extracted runtime.json of pkg, or returns nil if
// the package has none.
func (r *Local) RuntimeGraph(pkg LocalPackage) (*rid.Graph, error) {
	data, err := os.ReadFile(filepath.Join(pkg.Dir, archive.RuntimeFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rid.Parse(data)
}

// OpenArchive opens the installed archive of pkg.
func (r *Local) OpenArchive(pkg LocalPackage) (*os.File, error) {
	return os.Open(r.layout.ArchivePath(pkg.Identity))
}

// Hash returns the archive hash recorded in the marker of id.
func (r *Local) Hash(id library.Identity) (string, error) {
	data, err := os.ReadFile(r.layout.MarkerPath(id))
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeFileNotFound, err, "read marker of %s", id)
	}
	return strings.TrimSpace(string(data)), nil
}

// Files lists the extracted content of id, slash-separated and sorted. The
// archive and the marker are not content.
func (r *Local) Files(id library.Identity) ([]string, error) {
	dir := r.layout.VersionDir(id)
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if Reserved(id, rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "list files of %s", id)
	}
	sort.Strings(files)
	return files, nil
}
