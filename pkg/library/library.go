// Package library defines the identities and dependency declarations that
// flow through a restore.
//
// A [Range] is what a project or package asks for; an [Identity] is what a
// provider resolved it to. Names compare case-insensitively everywhere.
package library

import (
	"fmt"
	"strings"

	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

// Type classifies what kind of thing satisfies a dependency.
type Type string

const (
	// TypeAny is the empty constraint: any library type may satisfy the range.
	TypeAny Type = ""
	// TypePackage is a package from the install root or a feed.
	TypePackage Type = "package"
	// TypeProject is a sibling project on disk.
	TypeProject Type = "project"
	// TypeExternalProject is a project supplied by the workspace but not
	// built by this restore.
	TypeExternalProject Type = "externalProject"
	// TypeReference is satisfied outside the package system (framework
	// assemblies, system libraries). Never reported as missing.
	TypeReference Type = "reference"
	// TypeUnresolved marks a placeholder for a range nothing resolved.
	TypeUnresolved Type = "unresolved"
)

// ParseType parses a type constraint. The empty string yields TypeAny.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeAny, TypePackage, TypeProject, TypeExternalProject, TypeReference, TypeUnresolved:
		return t, nil
	}
	return "", errors.New(errors.ErrCodeInvalidInput, "unknown library type %q", s)
}

// Accepts reports whether a library of type t satisfies the constraint c.
func (c Type) Accepts(t Type) bool {
	if c == TypeAny {
		return true
	}
	if c == TypeProject && t == TypeExternalProject {
		return true
	}
	return c == t
}

// Framework is a lowercase target framework moniker such as "net8.0".
type Framework string

// AnyFramework is the framework-agnostic dependency group used when a
// package declares nothing for the requested framework.
const AnyFramework Framework = "any"

// ParseFramework normalizes and validates a framework moniker.
func ParseFramework(s string) (Framework, error) {
	if err := errors.ValidateFramework(s); err != nil {
		return "", err
	}
	return Framework(strings.ToLower(s)), nil
}

func (f Framework) String() string { return string(f) }

// Identity is a resolved library: a name at an exact version.
type Identity struct {
	Name    string
	Version versioning.Version
	Type    Type
}

// NewIdentity builds a package identity.
func NewIdentity(name string, v versioning.Version) Identity {
	return Identity{Name: name, Version: v, Type: TypePackage}
}

// Equal compares name case-insensitively and version exactly.
// The library type does not participate.
func (i Identity) Equal(o Identity) bool {
	return strings.EqualFold(i.Name, o.Name) && i.Version.Equal(o.Version)
}

// Key returns a map key consistent with Equal.
func (i Identity) Key() string {
	return strings.ToLower(i.Name) + "/" + i.Version.String()
}

func (i Identity) String() string {
	return fmt.Sprintf("%s %s", i.Name, i.Version)
}

// Range declares a dependency before resolution.
type Range struct {
	Name           string
	VersionRange   versioning.Range
	TypeConstraint Type
}

// NewRange parses rawRange and builds a range with the given type constraint.
func NewRange(name, rawRange string, t Type) (Range, error) {
	if err := errors.ValidatePackageName(name); err != nil {
		return Range{}, err
	}
	vr, err := versioning.ParseRange(rawRange)
	if err != nil {
		return Range{}, err
	}
	return Range{Name: name, VersionRange: vr, TypeConstraint: t}, nil
}

// Key returns a map key that distinguishes ranges by lowercased name,
// version range and type constraint.
func (r Range) Key() string {
	return strings.ToLower(r.Name) + "|" + r.VersionRange.String() + "|" + string(r.TypeConstraint)
}

// NameKey returns the lowercased name.
func (r Range) NameKey() string {
	return strings.ToLower(r.Name)
}

func (r Range) String() string {
	return fmt.Sprintf("%s %s", r.Name, r.VersionRange)
}

// Satisfies reports whether id is an acceptable resolution of r.
func (r Range) Satisfies(id Identity) bool {
	return strings.EqualFold(r.Name, id.Name) &&
		r.TypeConstraint.Accepts(id.Type) &&
		r.VersionRange.Satisfies(id.Version)
}

// DependencyKind tags how a dependency is consumed. It never changes
// resolution, only what ends up in the lock file.
type DependencyKind string

const (
	// KindDefault is a normal runtime/compile dependency.
	KindDefault DependencyKind = "default"
	// KindBuild is needed only while building and is left out of lock file
	// targets.
	KindBuild DependencyKind = "build"
)

// ParseKind parses a dependency kind; the empty string is KindDefault.
func ParseKind(s string) (DependencyKind, error) {
	switch DependencyKind(s) {
	case "", KindDefault:
		return KindDefault, nil
	case KindBuild:
		return KindBuild, nil
	}
	return "", errors.New(errors.ErrCodeInvalidInput, "unknown dependency kind %q", s)
}

// Dependency is a Range plus its kind.
type Dependency struct {
	Range
	Kind DependencyKind
}

// NewDependency is a convenience for NewRange with TypeAny and KindDefault.
func NewDependency(name, rawRange string) (Dependency, error) {
	r, err := NewRange(name, rawRange, TypeAny)
	if err != nil {
		return Dependency{}, err
	}
	return Dependency{Range: r, Kind: KindDefault}, nil
}

// MustDependency is like NewDependency but panics on error.
func MustDependency(name, rawRange string) Dependency {
	d, err := NewDependency(name, rawRange)
	if err != nil {
		panic(err)
	}
	return d
}

// SelectGroup picks the dependency group for fw: an exact match, else the
// AnyFramework group, else nil.
func SelectGroup(groups map[Framework][]Dependency, fw Framework) []Dependency {
	if deps, ok := groups[fw]; ok {
		return deps
	}
	return groups[AnyFramework]
}
