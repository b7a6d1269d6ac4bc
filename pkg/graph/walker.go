package graph

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/provider"
	"github.com/matzehuels/pkgrestore/pkg/rid"
)

// DefaultMaxConcurrency bounds in-flight provider lookups when
// WalkerOptions.MaxConcurrency is zero.
const DefaultMaxConcurrency = 8

// WalkerOptions configures a Walker.
type WalkerOptions struct {
	// MaxConcurrency bounds concurrent provider lookups. Values below 1
	// use DefaultMaxConcurrency.
	MaxConcurrency int
	Logger         *log.Logger
}

// Walker builds dependency graphs. Lookups are memoized per (range,
// framework) for the Walker's lifetime, and identical in-flight lookups are
// shared, so one Walker should be used for all walks of a restore run.
type Walker struct {
	chain  provider.Chain
	sem    *semaphore.Weighted
	logger *log.Logger

	mu      sync.Mutex
	lookups map[string]*lookup

	calls atomic.Int64
}

// lookup is a shared, possibly in-flight, resolution of one range.
type lookup struct {
	done chan struct{}
	item *Item
	err  error
}

// NewWalker creates a walker over chain.
func NewWalker(chain provider.Chain, opts WalkerOptions) *Walker {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Walker{
		chain:   chain,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		logger:  opts.Logger,
		lookups: make(map[string]*lookup),
	}
}

// Lookups returns the number of provider resolutions performed so far.
// Memoized and coalesced requests are not counted.
func (w *Walker) Lookups() int64 { return w.calls.Load() }

// Walk resolves root and its transitive dependencies for fw. When
// runtimeID is set, every resolved package additionally depends on the
// dependency set runtimes declares for it under runtimeID or the first
// runtime on its import chain that has one.
//
// A provider error or cancellation aborts the walk; no partial graph is
// returned.
func (w *Walker) Walk(ctx context.Context, root library.Range, fw library.Framework, runtimeID string, runtimes *rid.Graph) (*Graph, error) {
	wk := &walk{Walker: w, fw: fw, runtimeID: runtimeID, runtimes: runtimes}
	node, err := wk.build(ctx, library.Dependency{Range: root, Kind: library.KindDefault}, 0, nil)
	if err != nil {
		return nil, err
	}
	return &Graph{Root: node, Framework: fw, Runtime: runtimeID}, nil
}

type walk struct {
	*Walker
	fw        library.Framework
	runtimeID string
	runtimes  *rid.Graph
}

// ancestors is the chain of names from the root to the current node.
type ancestors struct {
	name   string
	parent *ancestors
}

func (a *ancestors) contains(name string) bool {
	for ; a != nil; a = a.parent {
		if a.name == name {
			return true
		}
	}
	return false
}

func (wk *walk) build(ctx context.Context, dep library.Dependency, depth int, path *ancestors) (*Node, error) {
	node := &Node{Key: dep.Range, Kind: dep.Kind, Depth: depth}
	name := dep.NameKey()
	if path.contains(name) {
		node.Disposition = Cycle
		wk.logger.Debug("Cycle detected", "package", dep.Name, "framework", wk.fw)
		return node, nil
	}

	item, err := wk.resolve(ctx, dep.Range)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return node, nil
	}
	node.Item = item

	deps := wk.dependencies(item)
	if len(deps) == 0 {
		return node, nil
	}

	next := &ancestors{name: name, parent: path}
	children := make([]*Node, len(deps))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range deps {
		g.Go(func() error {
			child, err := wk.build(gctx, d, depth+1, next)
			if err != nil {
				return err
			}
			children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	node.Children = children
	return node, nil
}

// dependencies returns the declared dependencies of item followed by the
// runtime-specific ones not already declared.
func (wk *walk) dependencies(item *Item) []library.Dependency {
	if wk.runtimeID == "" {
		return item.Dependencies
	}
	extra := wk.runtimes.FindDependencies(wk.runtimeID, item.Identity.Name)
	if len(extra) == 0 {
		return item.Dependencies
	}

	declared := make(map[string]bool, len(item.Dependencies))
	for _, d := range item.Dependencies {
		declared[d.NameKey()] = true
	}
	deps := append([]library.Dependency(nil), item.Dependencies...)
	for _, d := range extra {
		if !declared[d.NameKey()] {
			deps = append(deps, d)
		}
	}
	return deps
}

// resolve returns the memoized resolution of r, starting it if needed.
// A nil item means no provider could resolve r.
func (wk *walk) resolve(ctx context.Context, r library.Range) (*Item, error) {
	key := string(wk.fw) + "|" + r.Key()

	wk.mu.Lock()
	l, ok := wk.lookups[key]
	if !ok {
		l = &lookup{done: make(chan struct{})}
		wk.lookups[key] = l
	}
	wk.mu.Unlock()

	if !ok {
		l.item, l.err = wk.find(ctx, r)
		close(l.done)
		if l.err != nil {
			// Failed lookups are not memoized so a later walk can retry.
			wk.mu.Lock()
			delete(wk.lookups, key)
			wk.mu.Unlock()
		}
		return l.item, l.err
	}

	select {
	case <-l.done:
		return l.item, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (wk *walk) find(ctx context.Context, r library.Range) (*Item, error) {
	if err := wk.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer wk.sem.Release(1)
	wk.calls.Add(1)

	match, err := wk.chain.FindLibrary(ctx, r, wk.fw)
	if err != nil {
		return nil, err
	}
	if match == nil {
		wk.logger.Debug("Unresolved", "range", r, "framework", wk.fw)
		return nil, nil
	}
	deps, err := match.Provider.GetDependencies(ctx, match.Identity, wk.fw)
	if err != nil {
		return nil, err
	}
	wk.logger.Debug("Resolved", "range", r, "package", match.Identity, "provider", match.Provider.Name(), "framework", wk.fw)
	return &Item{Identity: match.Identity, Provider: match.Provider, Dependencies: deps}, nil
}
