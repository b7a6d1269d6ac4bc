// Package testutil builds package archives and fixture feeds for tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/matzehuels/pkgrestore/pkg/archive"
)

// Package describes a package archive to build.
type Package struct {
	ID      string
	Version string
	// Files maps archive entry names to contents.
	Files map[string]string
	// Dependencies maps a framework to its dependency group.
	Dependencies map[string][]archive.ManifestDependency
	// Runtime is written verbatim as runtime.json when non-empty.
	Runtime string
}

// NewPackage starts a package with no files and no dependencies.
func NewPackage(id, version string) *Package {
	return &Package{ID: id, Version: version, Files: map[string]string{}, Dependencies: map[string][]archive.ManifestDependency{}}
}

// File adds a content file.
func (p *Package) File(name, content string) *Package {
	p.Files[name] = content
	return p
}

// DependsOn adds a dependency for framework ("any" for every framework).
func (p *Package) DependsOn(framework, id, rng string) *Package {
	p.Dependencies[framework] = append(p.Dependencies[framework], archive.ManifestDependency{ID: id, Range: rng})
	return p
}

// DependsOnKind is DependsOn with an explicit dependency kind.
func (p *Package) DependsOnKind(framework, id, rng, kind string) *Package {
	p.Dependencies[framework] = append(p.Dependencies[framework], archive.ManifestDependency{ID: id, Range: rng, Kind: kind})
	return p
}

// WithRuntime sets the runtime.json content.
func (p *Package) WithRuntime(runtimeJSON string) *Package {
	p.Runtime = runtimeJSON
	return p
}

// Build returns the zip archive bytes. Entries are written in sorted order so
// identical packages produce identical bytes.
func (p *Package) Build(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	manifest := archive.Manifest{ID: p.ID, Version: p.Version, Dependencies: p.Dependencies}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	entries := map[string]string{archive.ManifestFile: string(data)}
	if p.Runtime != "" {
		entries[archive.RuntimeFile] = p.Runtime
	}
	for name, content := range p.Files {
		entries[name] = content
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(entries[name])); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	return buf.Bytes()
}

// WriteFeed lays packages out as a directory feed under dir:
// dir/<id>/<version>/<id>.<version>.pkg.
func WriteFeed(t testing.TB, dir string, pkgs ...*Package) {
	t.Helper()
	for _, p := range pkgs {
		versionDir := filepath.Join(dir, p.ID, p.Version)
		if err := os.MkdirAll(versionDir, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", versionDir, err)
		}
		name := p.ID + "." + p.Version + "." + archive.Extension
		if err := os.WriteFile(filepath.Join(versionDir, name), p.Build(t), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

// WriteFile writes content to dir/name, creating parent directories.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
