package provider

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/pkgrestore/pkg/archive"
	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/rid"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

// Source is a package feed, implemented by the feed package.
type Source interface {
	// Source returns the feed location (URL or directory).
	Source() string
	// IsHTTP reports whether the feed is network-backed.
	IsHTTP() bool
	// ListVersions returns the feed's casing of id and its versions.
	// An unknown id yields no versions and no error.
	ListVersions(ctx context.Context, id string) (name string, versions []versioning.Version, err error)
	// FetchArchive downloads the archive of id at v.
	FetchArchive(ctx context.Context, id string, v versioning.Version) ([]byte, error)
}

// Remote resolves packages from one package source. Archives are fetched at
// most once per Remote: concurrent requests for the same identity share one
// download, and the parsed result is kept for the Remote's lifetime.
type Remote struct {
	src    Source
	logger *log.Logger

	group    singleflight.Group
	mu       sync.Mutex
	packages map[string]*remotePackage
}

type remotePackage struct {
	data []byte
	pkg  *archive.Package
}

// NewRemote wraps a package source. A nil logger discards output.
func NewRemote(src Source, logger *log.Logger) *Remote {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Remote{src: src, logger: logger, packages: make(map[string]*remotePackage)}
}

func (p *Remote) Name() string { return p.src.Source() }
func (p *Remote) Kind() Kind   { return KindRemote }
func (p *Remote) IsHTTP() bool { return p.src.IsHTTP() }

// FindLibrary picks the highest version on the source satisfying r. The
// returned name carries the source's casing.
func (p *Remote) FindLibrary(ctx context.Context, r library.Range, _ library.Framework) (library.Identity, bool, error) {
	if !r.TypeConstraint.Accepts(library.TypePackage) {
		return library.Identity{}, false, nil
	}
	name, versions, err := p.src.ListVersions(ctx, r.Name)
	if err != nil {
		return library.Identity{}, false, err
	}
	best, ok := r.VersionRange.FindBestMatch(versions)
	if !ok {
		return library.Identity{}, false, nil
	}
	if name == "" {
		name = r.Name
	}
	p.logger.Debug("Found", "package", name, "version", best, "source", p.src.Source())
	return library.NewIdentity(name, best), true, nil
}

func (p *Remote) load(ctx context.Context, id library.Identity) (*remotePackage, error) {
	key := id.Key()

	p.mu.Lock()
	if rp, ok := p.packages[key]; ok {
		p.mu.Unlock()
		return rp, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(key, func() (any, error) {
		p.mu.Lock()
		if rp, ok := p.packages[key]; ok {
			p.mu.Unlock()
			return rp, nil
		}
		p.mu.Unlock()

		data, err := p.src.FetchArchive(ctx, id.Name, id.Version)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeTransferFailed, err, "download %s", id)
		}
		pkg, err := archive.Read(data)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(pkg.Manifest.ID, id.Name) || !pkg.Manifest.Identity().Version.Equal(id.Version) {
			return nil, errors.New(errors.ErrCodeInvalidManifest, "%s: archive declares %s %s", id, pkg.Manifest.ID, pkg.Manifest.Version)
		}
		rp := &remotePackage{data: data, pkg: pkg}
		p.mu.Lock()
		p.packages[key] = rp
		p.mu.Unlock()
		return rp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*remotePackage), nil
}

// GetDependencies downloads the archive (once) and reads its manifest.
func (p *Remote) GetDependencies(ctx context.Context, id library.Identity, fw library.Framework) ([]library.Dependency, error) {
	rp, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}
	groups, err := rp.pkg.Manifest.DependencyGroups()
	if err != nil {
		return nil, err
	}
	return library.SelectGroup(groups, fw), nil
}

// CopyContent returns the archive bytes.
func (p *Remote) CopyContent(ctx context.Context, id library.Identity) (io.ReadCloser, int64, error) {
	rp, err := p.load(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(rp.data)), int64(len(rp.data)), nil
}

// GetRuntimeGraph returns the archive's runtime.json, or nil.
func (p *Remote) GetRuntimeGraph(ctx context.Context, id library.Identity) (*rid.Graph, error) {
	rp, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return rp.pkg.Runtime, nil
}

var _ Provider = (*Remote)(nil)
