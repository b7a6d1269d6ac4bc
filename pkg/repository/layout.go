// Package repository implements the install-root layout and the local
// repository that reads it.
//
// Every installed package lives in its own version directory:
//
//	root/
//	  Sample/
//	    1.0.0/
//	      Sample.1.0.0.pkg          archive as downloaded
//	      Sample.1.0.0.pkg.sha512   marker: base64 SHA-512 of the archive
//	      manifest.json             extracted content
//	      lib/net/sample.dll
//
// The marker is written last. Its presence is the only signal that a
// version is fully installed, so external tools can check one path.
package repository

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/matzehuels/pkgrestore/pkg/archive"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

// MarkerExtension is appended to the archive file name to form the marker.
const MarkerExtension = ".sha512"

// Layout maps identities to paths under a root directory.
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// VersionDir returns root/<name>/<version>.
func (l Layout) VersionDir(id library.Identity) string {
	return filepath.Join(l.Root, id.Name, id.Version.String())
}

// ArchiveName returns <name>.<version>.pkg.
func ArchiveName(id library.Identity) string {
	return id.Name + "." + id.Version.String() + "." + archive.Extension
}

// Reserved reports whether name, a slash-separated path relative to the
// version directory of id, is owned by the installer: the archive, its marker
// or a temp file. Package content must never be written to these paths.
func Reserved(id library.Identity, name string) bool {
	archiveName := ArchiveName(id)
	return strings.EqualFold(name, archiveName) ||
		strings.EqualFold(name, archiveName+MarkerExtension) ||
		strings.HasSuffix(strings.ToLower(name), ".tmp")
}

// ArchivePath returns the path of the downloaded archive.
func (l Layout) ArchivePath(id library.Identity) string {
	return filepath.Join(l.VersionDir(id), ArchiveName(id))
}

// MarkerPath returns the path of the fully-installed marker.
func (l Layout) MarkerPath(id library.Identity) string {
	return l.ArchivePath(id) + MarkerExtension
}

// IsInstalled reports whether the marker for id exists. It performs exactly
// one stat.
func (l Layout) IsInstalled(id library.Identity) bool {
	_, err := os.Stat(l.MarkerPath(id))
	return err == nil
}

// FindIDDir returns the directory for id under root, matching the name
// case-insensitively. The returned name is the on-disk casing.
func (l Layout) FindIDDir(id string) (dir, name string, ok bool) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return "", "", false
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() == id {
			return filepath.Join(l.Root, id), id, true
		}
	}
	for _, e := range entries {
		if e.IsDir() && strings.EqualFold(e.Name(), id) {
			return filepath.Join(l.Root, e.Name()), e.Name(), true
		}
	}
	return "", "", false
}

// Versions lists the version directories of id that hold an archive (and,
// when installedOnly is set, a marker), sorted ascending. Directories whose
// names do not parse as versions are ignored.
func (l Layout) Versions(id string, installedOnly bool) (string, []versioning.Version, error) {
	dir, name, ok := l.FindIDDir(id)
	if !ok {
		return "", nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}

	var versions []versioning.Version
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := versioning.Parse(e.Name())
		if err != nil {
			continue
		}
		ident := library.NewIdentity(name, v)
		if v.String() != e.Name() {
			// Only normalized directory names are part of the layout.
			continue
		}
		probe := l.ArchivePath(ident)
		if installedOnly {
			probe = l.MarkerPath(ident)
		}
		if _, err := os.Stat(probe); err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Compare(versions[j]) < 0 })
	return name, versions, nil
}
