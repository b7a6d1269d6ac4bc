package provider

import (
	"context"
	"io"

	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/repository"
	"github.com/matzehuels/pkgrestore/pkg/rid"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

// Local resolves packages already installed in the install root.
type Local struct {
	repo *repository.Local
}

// NewLocal wraps a local repository.
func NewLocal(repo *repository.Local) *Local {
	return &Local{repo: repo}
}

func (p *Local) Name() string { return p.repo.Layout().Root }
func (p *Local) Kind() Kind   { return KindLocal }
func (p *Local) IsHTTP() bool { return false }

// FindLibrary picks the highest installed version satisfying r.
// The returned name carries the on-disk casing.
func (p *Local) FindLibrary(_ context.Context, r library.Range, _ library.Framework) (library.Identity, bool, error) {
	if !r.TypeConstraint.Accepts(library.TypePackage) {
		return library.Identity{}, false, nil
	}
	pkgs, err := p.repo.FindPackagesByID(r.Name)
	if err != nil {
		return library.Identity{}, false, err
	}
	versions := make([]versioning.Version, len(pkgs))
	for i, pkg := range pkgs {
		versions[i] = pkg.Identity.Version
	}
	best, ok := r.VersionRange.FindBestMatch(versions)
	if !ok {
		return library.Identity{}, false, nil
	}
	return library.NewIdentity(pkgs[0].Identity.Name, best), true, nil
}

func (p *Local) find(id library.Identity) (repository.LocalPackage, error) {
	pkgs, err := p.repo.FindPackagesByID(id.Name)
	if err != nil {
		return repository.LocalPackage{}, err
	}
	for _, pkg := range pkgs {
		if pkg.Identity.Equal(id) {
			return pkg, nil
		}
	}
	return repository.LocalPackage{}, errors.New(errors.ErrCodePackageNotFound, "%s is not installed", id)
}

// GetDependencies reads the extracted manifest.
func (p *Local) GetDependencies(_ context.Context, id library.Identity, fw library.Framework) ([]library.Dependency, error) {
	pkg, err := p.find(id)
	if err != nil {
		return nil, err
	}
	m, err := p.repo.Manifest(pkg)
	if err != nil {
		return nil, err
	}
	groups, err := m.DependencyGroups()
	if err != nil {
		return nil, err
	}
	return library.SelectGroup(groups, fw), nil
}

// CopyContent opens the installed archive.
func (p *Local) CopyContent(_ context.Context, id library.Identity) (io.ReadCloser, int64, error) {
	pkg, err := p.find(id)
	if err != nil {
		return nil, 0, err
	}
	f, err := p.repo.OpenArchive(pkg)
	if err != nil {
		return nil, 0, err
	}
	size := int64(-1)
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	return f, size, nil
}

// GetRuntimeGraph reads the extracted runtime.json, if any.
func (p *Local) GetRuntimeGraph(_ context.Context, id library.Identity) (*rid.Graph, error) {
	pkg, err := p.find(id)
	if err != nil {
		return nil, err
	}
	return p.repo.RuntimeGraph(pkg)
}

var _ Provider = (*Local)(nil)
