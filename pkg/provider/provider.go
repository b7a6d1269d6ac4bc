// Package provider defines the dependency provider contract and its three
// variants.
//
// A restore asks providers, in a fixed priority order, to resolve each
// dependency range:
//
//  1. [Project]: sibling projects, in memory, no I/O
//  2. [Local]: packages already installed under the install root
//  3. [Remote]: each configured package source, in source-list order
//
// The first provider that resolves a range wins. [Chain] encodes that order.
package provider

import (
	"context"
	"io"

	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/rid"
)

// Kind is the closed set of provider variants.
type Kind int

const (
	KindProject Kind = iota
	KindLocal
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindProject:
		return "project"
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	}
	return "unknown"
}

// Provider resolves ranges to identities and serves their content.
type Provider interface {
	// Name identifies the provider in logs, e.g. a source URL.
	Name() string
	// Kind returns the provider variant.
	Kind() Kind
	// IsHTTP reports whether the provider is network-backed. It only affects
	// cache lifetimes.
	IsHTTP() bool
	// FindLibrary returns the highest visible version satisfying r.
	// ok is false when nothing matches.
	FindLibrary(ctx context.Context, r library.Range, fw library.Framework) (id library.Identity, ok bool, err error)
	// GetDependencies returns the dependencies of id for fw: the exact
	// framework group, else the framework-agnostic group, else none.
	GetDependencies(ctx context.Context, id library.Identity, fw library.Framework) ([]library.Dependency, error)
	// CopyContent opens the package archive. size is -1 when unknown.
	CopyContent(ctx context.Context, id library.Identity) (rc io.ReadCloser, size int64, err error)
	// GetRuntimeGraph returns the runtime graph shipped with id, or nil.
	GetRuntimeGraph(ctx context.Context, id library.Identity) (*rid.Graph, error)
}

// Match is a resolved identity and the provider that resolved it.
type Match struct {
	Identity library.Identity
	Provider Provider
}

// Chain is an ordered provider list.
type Chain []Provider

// NewChain orders providers as project, local, then remote, keeping the
// relative order within each kind.
func NewChain(project, local, remote []Provider) Chain {
	c := make(Chain, 0, len(project)+len(local)+len(remote))
	c = append(c, project...)
	c = append(c, local...)
	return append(c, remote...)
}

// FindLibrary asks each provider in order and returns the first match.
// A provider error aborts the lookup.
func (c Chain) FindLibrary(ctx context.Context, r library.Range, fw library.Framework) (*Match, error) {
	for _, p := range c {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok, err := p.FindLibrary(ctx, r, fw)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeNetwork, err, "%s: find %s", p.Name(), r)
		}
		if ok {
			return &Match{Identity: id, Provider: p}, nil
		}
	}
	return nil, nil
}

// Remote returns the remote providers in order.
func (c Chain) Remote() []Provider {
	var out []Provider
	for _, p := range c {
		if p.Kind() == KindRemote {
			out = append(out, p)
		}
	}
	return out
}
