// Package project loads project files and workspaces.
//
// A project file (project.toml) declares what a project needs:
//
//	name = "App"
//	version = "1.0.0"
//
//	[[dependencies]]            # every framework
//	id = "Sample"
//	range = "1.0.0"
//
//	[frameworks."net8.0"]
//	[[frameworks."net8.0".dependencies]]
//	id = "Other"
//	range = "[1.0,2.0)"
//	kind = "build"
//
//	[runtimes."rid-A"]
//	imports = ["base"]
//
// A workspace file (workspace.toml) lists project directories and is the
// boundary to solution-level tooling: it only ever yields project paths.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/rid"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

// FileName is the project file looked up in a project directory.
const FileName = "project.toml"

var validate = validator.New()

type projectFile struct {
	Name         string                   `toml:"name" validate:"required"`
	Version      string                   `toml:"version" validate:"required"`
	Dependencies []dependencySpec         `toml:"dependencies" validate:"omitempty,dive"`
	Frameworks   map[string]frameworkSpec `toml:"frameworks" validate:"required,min=1,dive"`
	Runtimes     map[string]runtimeSpec   `toml:"runtimes" validate:"omitempty,dive"`
}

type frameworkSpec struct {
	Dependencies []dependencySpec `toml:"dependencies" validate:"omitempty,dive"`
}

type dependencySpec struct {
	ID    string `toml:"id" validate:"required"`
	Range string `toml:"range"`
	Type  string `toml:"type" validate:"omitempty,oneof=package project externalProject reference"`
	Kind  string `toml:"kind" validate:"omitempty,oneof=default build"`
}

type runtimeSpec struct {
	Imports []string `toml:"imports"`
}

// Project is a loaded project.
type Project struct {
	Name    string
	Version versioning.Version
	// Path is the project file; Dir its directory.
	Path string
	Dir  string
	// Frameworks lists the target frameworks, sorted.
	Frameworks []library.Framework
	// Runtimes is the project's own runtime graph. Its ids are the target
	// runtimes to restore.
	Runtimes *rid.Graph

	common       []library.Dependency
	perFramework map[library.Framework][]library.Dependency
}

// Identity returns the project identity.
func (p *Project) Identity() library.Identity {
	return library.Identity{Name: p.Name, Version: p.Version, Type: library.TypeProject}
}

// Range returns the root range used to start a graph walk for p.
func (p *Project) Range() library.Range {
	return library.Range{Name: p.Name, VersionRange: versioning.ExactRange(p.Version), TypeConstraint: library.TypeProject}
}

// RuntimeIDs returns the declared target runtimes, sorted.
func (p *Project) RuntimeIDs() []string {
	return p.Runtimes.IDs()
}

// Dependencies returns the dependencies for fw: framework-specific ones first
// in declaration order, then the common ones.
func (p *Project) Dependencies(fw library.Framework) []library.Dependency {
	deps := make([]library.Dependency, 0, len(p.perFramework[fw])+len(p.common))
	deps = append(deps, p.perFramework[fw]...)
	return append(deps, p.common...)
}

// LoadDir loads dir/project.toml.
func LoadDir(dir string) (*Project, error) {
	return Load(filepath.Join(dir, FileName))
}

// Load reads and validates a project file.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "read project %s", path)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidProject, err, "%s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	p.Path = abs
	p.Dir = filepath.Dir(abs)
	return p, nil
}

// Parse decodes and validates project file content.
func Parse(data []byte) (*Project, error) {
	var f projectFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidProject, err, "decode project file")
	}
	if err := validate.Struct(f); err != nil {
		return nil, errors.New(errors.ErrCodeInvalidProject, "%s", formatValidationError(err))
	}
	if err := errors.ValidatePackageName(f.Name); err != nil {
		return nil, err
	}
	v, err := versioning.Parse(f.Version)
	if err != nil {
		return nil, err
	}

	p := &Project{
		Name:         f.Name,
		Version:      v,
		Runtimes:     rid.New(),
		perFramework: make(map[library.Framework][]library.Dependency),
	}

	if p.common, err = convertDeps(f.Dependencies); err != nil {
		return nil, err
	}
	for rawFw, spec := range f.Frameworks {
		fw, err := library.ParseFramework(rawFw)
		if err != nil {
			return nil, err
		}
		deps, err := convertDeps(spec.Dependencies)
		if err != nil {
			return nil, fmt.Errorf("framework %s: %w", fw, err)
		}
		p.perFramework[fw] = deps
		p.Frameworks = append(p.Frameworks, fw)
	}
	sort.Slice(p.Frameworks, func(i, j int) bool { return p.Frameworks[i] < p.Frameworks[j] })

	for runtimeID, spec := range f.Runtimes {
		p.Runtimes.Add(rid.Description{RuntimeID: runtimeID, Imports: spec.Imports})
	}
	return p, nil
}

func convertDeps(specs []dependencySpec) ([]library.Dependency, error) {
	deps := make([]library.Dependency, 0, len(specs))
	for _, s := range specs {
		typ, err := library.ParseType(s.Type)
		if err != nil {
			return nil, err
		}
		kind, err := library.ParseKind(s.Kind)
		if err != nil {
			return nil, err
		}
		r, err := library.NewRange(s.ID, s.Range, typ)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", s.ID, err)
		}
		deps = append(deps, library.Dependency{Range: r, Kind: kind})
	}
	return deps, nil
}

func formatValidationError(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s entries", field, e.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
