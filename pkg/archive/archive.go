// Package archive reads package archives.
//
// A package archive is a zip file holding a manifest.json, an optional
// runtime.json and arbitrary content files:
//
//	manifest.json
//	runtime.json
//	lib/net8.0/Sample.dll
//
// The manifest names the package and lists its dependencies per framework:
//
//	{
//	  "id": "Sample",
//	  "version": "1.0.0",
//	  "dependencies": {
//	    "net8.0": [{"id": "Other", "range": "[1.0,2.0)"}],
//	    "any":    [{"id": "Base", "range": "1.0.0", "kind": "build"}]
//	  }
//	}
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"sort"

	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/rid"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

const (
	// ManifestFile is the archive entry holding the package manifest.
	ManifestFile = "manifest.json"
	// RuntimeFile is the optional archive entry holding the runtime graph.
	RuntimeFile = "runtime.json"
	// Extension is the archive file extension, without the dot.
	Extension = "pkg"
)

// Manifest is the decoded manifest.json.
type Manifest struct {
	ID           string                          `json:"id"`
	Version      string                          `json:"version"`
	Dependencies map[string][]ManifestDependency `json:"dependencies,omitempty"`
}

// ManifestDependency is one entry of a manifest dependency group.
type ManifestDependency struct {
	ID    string `json:"id"`
	Range string `json:"range,omitempty"`
	Type  string `json:"type,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "decode %s", ManifestFile)
	}
	if err := errors.ValidatePackageName(m.ID); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "manifest id")
	}
	if _, err := versioning.Parse(m.Version); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "manifest %s version", m.ID)
	}
	return &m, nil
}

// Identity returns the package identity declared by the manifest.
func (m *Manifest) Identity() library.Identity {
	v, _ := versioning.Parse(m.Version)
	return library.NewIdentity(m.ID, v)
}

// DependencyGroups converts the manifest groups into library dependencies
// keyed by framework.
func (m *Manifest) DependencyGroups() (map[library.Framework][]library.Dependency, error) {
	groups := make(map[library.Framework][]library.Dependency, len(m.Dependencies))
	for rawFw, deps := range m.Dependencies {
		fw, err := library.ParseFramework(rawFw)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "manifest %s", m.ID)
		}
		group := make([]library.Dependency, 0, len(deps))
		for _, d := range deps {
			dep, err := d.toDependency()
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "manifest %s: dependency %s", m.ID, d.ID)
			}
			group = append(group, dep)
		}
		groups[fw] = group
	}
	return groups, nil
}

func (d ManifestDependency) toDependency() (library.Dependency, error) {
	typ, err := library.ParseType(d.Type)
	if err != nil {
		return library.Dependency{}, err
	}
	kind, err := library.ParseKind(d.Kind)
	if err != nil {
		return library.Dependency{}, err
	}
	r, err := library.NewRange(d.ID, d.Range, typ)
	if err != nil {
		return library.Dependency{}, err
	}
	return library.Dependency{Range: r, Kind: kind}, nil
}

// Package is an opened archive.
type Package struct {
	Manifest *Manifest
	// Runtime is nil when the archive carries no runtime.json.
	Runtime *rid.Graph
	// Files lists every entry except directories, sorted.
	Files []string
}

// Read parses an archive held in memory.
func Read(data []byte) (*Package, error) {
	return ReadAt(bytes.NewReader(data), int64(len(data)))
}

// ReadAt parses an archive from r.
func ReadAt(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "open package archive")
	}

	pkg := &Package{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := errors.ValidatePath(f.Name); err != nil {
			return nil, err
		}
		pkg.Files = append(pkg.Files, f.Name)

		switch f.Name {
		case ManifestFile:
			data, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			if pkg.Manifest, err = ParseManifest(data); err != nil {
				return nil, err
			}
		case RuntimeFile:
			data, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			if pkg.Runtime, err = rid.Parse(data); err != nil {
				return nil, err
			}
		}
	}
	if pkg.Manifest == nil {
		return nil, errors.New(errors.ErrCodeInvalidManifest, "package archive has no %s", ManifestFile)
	}
	sort.Strings(pkg.Files)
	return pkg, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "open %s", f.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "read %s", f.Name)
	}
	return data, nil
}
