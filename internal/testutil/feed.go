package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

// MemoryFeed is an in-memory package source that counts requests.
type MemoryFeed struct {
	Name string

	mu       sync.Mutex
	archives map[string]map[string][]byte // lower id -> version -> bytes
	casing   map[string]string

	// Fail makes FetchArchive return this error when set.
	Fail error

	Listings  atomic.Int64
	Downloads atomic.Int64
}

// NewMemoryFeed builds archives for pkgs and serves them.
func NewMemoryFeed(t testing.TB, name string, pkgs ...*Package) *MemoryFeed {
	t.Helper()
	f := &MemoryFeed{Name: name, archives: map[string]map[string][]byte{}, casing: map[string]string{}}
	for _, p := range pkgs {
		f.Add(t, p)
	}
	return f
}

// Add publishes p.
func (f *MemoryFeed) Add(t testing.TB, p *Package) {
	t.Helper()
	data := p.Build(t)
	v := versioning.MustParse(p.Version)

	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(p.ID)
	if f.archives[key] == nil {
		f.archives[key] = map[string][]byte{}
	}
	f.archives[key][v.String()] = data
	f.casing[key] = p.ID
}

// Source implements provider.Source.
func (f *MemoryFeed) Source() string { return "memory://" + f.Name }

// IsHTTP implements provider.Source.
func (f *MemoryFeed) IsHTTP() bool { return true }

// ListVersions implements provider.Source.
func (f *MemoryFeed) ListVersions(ctx context.Context, id string) (string, []versioning.Version, error) {
	f.Listings.Add(1)
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(id)
	var versions []versioning.Version
	for raw := range f.archives[key] {
		versions = append(versions, versioning.MustParse(raw))
	}
	return f.casing[key], versions, nil
}

// FetchArchive implements provider.Source.
func (f *MemoryFeed) FetchArchive(ctx context.Context, id string, v versioning.Version) ([]byte, error) {
	f.Downloads.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Fail != nil {
		return nil, f.Fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.archives[strings.ToLower(id)][v.String()]
	if !ok {
		return nil, fmt.Errorf("%s %s not found", id, v)
	}
	return data, nil
}
