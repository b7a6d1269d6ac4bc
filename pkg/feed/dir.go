package feed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	pkgerrors "github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/provider"
	"github.com/matzehuels/pkgrestore/pkg/repository"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

// Dir is a feed backed by a local directory in install-root layout.
type Dir struct {
	layout repository.Layout
}

// NewDir opens the directory feed at dir.
func NewDir(dir string) (*Dir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidPath, err, "feed %s", dir)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrCodeFileNotFound, err, "feed %s", dir)
	}
	if !info.IsDir() {
		return nil, pkgerrors.New(pkgerrors.ErrCodeInvalidPath, "feed %s is not a directory", dir)
	}
	return &Dir{layout: repository.NewLayout(abs)}, nil
}

// Source implements provider.Source.
func (d *Dir) Source() string { return d.layout.Root }

// IsHTTP implements provider.Source.
func (d *Dir) IsHTTP() bool { return false }

// ListVersions implements provider.Source. Versions without an archive file
// are not listed.
func (d *Dir) ListVersions(ctx context.Context, id string) (string, []versioning.Version, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	return d.layout.Versions(id, false)
}

// FetchArchive implements provider.Source.
func (d *Dir) FetchArchive(ctx context.Context, id string, v versioning.Version) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, name, ok := d.layout.FindIDDir(id)
	if !ok {
		return nil, fmt.Errorf("%s %s from %s: %w", id, v, d.layout.Root, ErrNotFound)
	}
	data, err := os.ReadFile(d.layout.ArchivePath(library.NewIdentity(name, v)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s %s from %s: %w", id, v, d.layout.Root, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s from %s: %w", id, v, d.layout.Root, err)
	}
	return data, nil
}

var _ provider.Source = (*Dir)(nil)
