package provider

import (
	"context"
	"io"

	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/project"
	"github.com/matzehuels/pkgrestore/pkg/rid"
)

// Project resolves project references from a project resolver. It never
// performs network I/O and has no content to copy.
type Project struct {
	resolver project.Resolver
}

// NewProject wraps a project resolver.
func NewProject(r project.Resolver) *Project {
	return &Project{resolver: r}
}

func (p *Project) Name() string { return "projects" }
func (p *Project) Kind() Kind   { return KindProject }
func (p *Project) IsHTTP() bool { return false }

// FindLibrary resolves r when it may be satisfied by a project and a project
// with that name exists and its version is in range.
func (p *Project) FindLibrary(_ context.Context, r library.Range, _ library.Framework) (library.Identity, bool, error) {
	if !r.TypeConstraint.Accepts(library.TypeProject) && !r.TypeConstraint.Accepts(library.TypeExternalProject) {
		return library.Identity{}, false, nil
	}
	proj, external, ok := p.resolver.Resolve(r.Name)
	if !ok {
		return library.Identity{}, false, nil
	}
	id := library.Identity{Name: proj.Name, Version: proj.Version, Type: project.TypeOf(external)}
	if !r.Satisfies(id) {
		return library.Identity{}, false, nil
	}
	return id, true, nil
}

// GetDependencies returns the project's declared dependencies for fw.
// External projects contribute no dependencies: they are built elsewhere.
func (p *Project) GetDependencies(_ context.Context, id library.Identity, fw library.Framework) ([]library.Dependency, error) {
	proj, external, ok := p.resolver.Resolve(id.Name)
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "project %s not found", id.Name)
	}
	if external {
		return nil, nil
	}
	return proj.Dependencies(fw), nil
}

// CopyContent always fails: projects are not packages.
func (p *Project) CopyContent(_ context.Context, id library.Identity) (io.ReadCloser, int64, error) {
	return nil, 0, errors.New(errors.ErrCodeUnsupported, "project %s has no package content", id.Name)
}

// GetRuntimeGraph returns the project's declared runtime graph.
func (p *Project) GetRuntimeGraph(_ context.Context, id library.Identity) (*rid.Graph, error) {
	proj, _, ok := p.resolver.Resolve(id.Name)
	if !ok {
		return nil, nil
	}
	return proj.Runtimes, nil
}

var _ Provider = (*Project)(nil)
