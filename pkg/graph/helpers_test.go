package graph

import (
	"context"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/provider"
	"github.com/matzehuels/pkgrestore/pkg/rid"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

// fakeProvider serves packages from memory.
type fakeProvider struct {
	name string
	kind provider.Kind

	mu       sync.Mutex
	versions map[string][]versioning.Version
	casing   map[string]string
	deps     map[string][]library.Dependency
	runtimes map[string]*rid.Graph

	// delay is added to every lookup, plus a random share of jitter.
	delay  time.Duration
	jitter time.Duration
	fail   error
	finds  atomic.Int64
}

func newFake(name string, kind provider.Kind) *fakeProvider {
	return &fakeProvider{
		name:     name,
		kind:     kind,
		versions: map[string][]versioning.Version{},
		casing:   map[string]string{},
		deps:     map[string][]library.Dependency{},
		runtimes: map[string]*rid.Graph{},
	}
}

// add publishes name@version depending on deps given as "Name range" pairs.
func (p *fakeProvider) add(name, version string, deps ...string) *fakeProvider {
	v := versioning.MustParse(version)
	key := strings.ToLower(name)
	p.versions[key] = append(p.versions[key], v)
	p.casing[key] = name
	var ds []library.Dependency
	for _, d := range deps {
		parts := strings.SplitN(d, " ", 2)
		raw := ""
		if len(parts) == 2 {
			raw = parts[1]
		}
		ds = append(ds, library.MustDependency(parts[0], raw))
	}
	p.deps[library.NewIdentity(name, v).Key()] = ds
	return p
}

func (p *fakeProvider) withRuntime(name, version, runtimeJSON string) *fakeProvider {
	g, err := rid.Parse([]byte(runtimeJSON))
	if err != nil {
		panic(err)
	}
	p.runtimes[library.NewIdentity(name, versioning.MustParse(version)).Key()] = g
	return p
}

func (p *fakeProvider) Name() string        { return p.name }
func (p *fakeProvider) Kind() provider.Kind { return p.kind }
func (p *fakeProvider) IsHTTP() bool        { return false }

func (p *fakeProvider) sleep(ctx context.Context) error {
	d := p.delay
	if p.jitter > 0 {
		d += rand.N(p.jitter)
	}
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakeProvider) FindLibrary(ctx context.Context, r library.Range, _ library.Framework) (library.Identity, bool, error) {
	p.finds.Add(1)
	if err := p.sleep(ctx); err != nil {
		return library.Identity{}, false, err
	}
	if p.fail != nil {
		return library.Identity{}, false, p.fail
	}
	key := r.NameKey()
	best, ok := r.VersionRange.FindBestMatch(p.versions[key])
	if !ok {
		return library.Identity{}, false, nil
	}
	return library.NewIdentity(p.casing[key], best), true, nil
}

func (p *fakeProvider) GetDependencies(ctx context.Context, id library.Identity, _ library.Framework) ([]library.Dependency, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}
	return p.deps[id.Key()], nil
}

func (p *fakeProvider) CopyContent(context.Context, library.Identity) (io.ReadCloser, int64, error) {
	return nil, 0, errors.New(errors.ErrCodeUnsupported, "no content")
}

func (p *fakeProvider) GetRuntimeGraph(_ context.Context, id library.Identity) (*rid.Graph, error) {
	return p.runtimes[id.Key()], nil
}

func rootRange(name string) library.Range {
	return library.Range{Name: name, VersionRange: versioning.ExactRange(versioning.MustParse("1.0.0")), TypeConstraint: library.TypeAny}
}

func walkGraph(t *testing.T, w *Walker, root string) *Graph {
	t.Helper()
	g, err := w.Walk(context.Background(), rootRange(root), "net8.0", "", nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	return g
}

// find returns the first node in pre-order whose path of names matches.
func find(g *Graph, path ...string) *Node {
	n := g.Root
	for _, name := range path {
		var next *Node
		for _, c := range n.Children {
			if strings.EqualFold(c.Key.Name, name) {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		n = next
	}
	return n
}
