// Package install materializes resolved packages into the install root.
//
// Installing one package follows a fixed protocol:
//
//  1. If the marker file exists, the package is installed. Nothing else
//     is touched.
//  2. Acquire the cross-process lock for the version directory, waiting up
//     to LockTimeout; the whole sequence is attempted LockAttempts times.
//  3. Re-check the marker under the lock.
//  4. Clear the version directory and stream the archive into a temp file
//     beside it, then rename it into place.
//  5. Extract the archive.
//  6. Write the marker (base64 SHA-512 of the archive) through a temp file
//     and rename. This is the last step: a directory without a marker is
//     never treated as installed, and the next attempt starts over.
//  7. Release the lock.
package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/pkgrestore/pkg/archive"
	pkgerrors "github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/observability"
	"github.com/matzehuels/pkgrestore/pkg/provider"
	"github.com/matzehuels/pkgrestore/pkg/repository"
)

// Defaults applied by Options.
const (
	DefaultMaxConcurrency = 8
	DefaultLockTimeout    = 30 * time.Second
	DefaultLockAttempts   = 3
	DefaultChunkSize      = 4096
)

// Item is a package to install and the provider that serves its content.
type Item struct {
	Identity library.Identity
	Provider provider.Provider
}

// Result is the outcome of installing one item.
type Result struct {
	Identity library.Identity
	// Skipped is true when the package was already installed.
	Skipped  bool
	Duration time.Duration
	Err      error
}

// Options configures an Installer.
type Options struct {
	// MaxConcurrency bounds parallel installs. Values below 1 install
	// sequentially.
	MaxConcurrency int
	// LockDir holds the lock files. Defaults to DefaultLockDir().
	LockDir string
	// LockTimeout bounds one lock wait. Defaults to DefaultLockTimeout.
	LockTimeout time.Duration
	// LockAttempts defaults to DefaultLockAttempts.
	LockAttempts int
	// ChunkSize is the streaming buffer size. Defaults to DefaultChunkSize.
	ChunkSize int
	// Progress, when set, receives the completed fraction after every chunk
	// of an archive whose size is known.
	Progress func(id library.Identity, fraction float64)
	Logger   *log.Logger
	Hooks    observability.InstallHooks
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = 1
	}
	if o.LockDir == "" {
		o.LockDir = DefaultLockDir()
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.LockAttempts < 1 {
		o.LockAttempts = DefaultLockAttempts
	}
	if o.ChunkSize < 1 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	if o.Hooks == nil {
		o.Hooks = observability.NoopInstallHooks{}
	}
	return o
}

// Installer installs packages into one install root. It is safe for
// concurrent use, and several processes may share the same root.
type Installer struct {
	layout repository.Layout
	opts   Options
}

// New creates an installer for root.
func New(root string, opts Options) *Installer {
	return &Installer{layout: repository.NewLayout(root), opts: opts.withDefaults()}
}

// Layout returns the install-root layout.
func (in *Installer) Layout() repository.Layout { return in.layout }

// LockPath returns the lock file guarding id's version directory.
func (in *Installer) LockPath(id library.Identity) string {
	return lockPath(in.opts.LockDir, in.layout.VersionDir(id))
}

// InstallAll installs items with at most MaxConcurrency in flight. A failing
// item does not stop the others. Results are in item order; the returned
// error joins every per-item failure.
func (in *Installer) InstallAll(ctx context.Context, items []Item) ([]Result, error) {
	results := make([]Result, len(items))

	var g errgroup.Group
	g.SetLimit(in.opts.MaxConcurrency)
	for i, item := range items {
		g.Go(func() error {
			results[i] = in.Install(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			in.opts.Logger.Error("Install failed", "package", r.Identity.Name, "version", r.Identity.Version, "error", r.Err)
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

// Install installs one item.
func (in *Installer) Install(ctx context.Context, item Item) Result {
	start := time.Now()
	skipped, err := in.install(ctx, item)
	res := Result{Identity: item.Identity, Skipped: skipped, Duration: time.Since(start), Err: err}
	in.opts.Hooks.OnInstallComplete(ctx, item.Identity.Name, item.Identity.Version.String(), skipped, res.Duration, err)
	return res
}

func (in *Installer) install(ctx context.Context, item Item) (bool, error) {
	id := item.Identity
	if in.layout.IsInstalled(id) {
		in.opts.Logger.Debug("Already installed", "package", id.Name, "version", id.Version)
		return true, nil
	}

	path := in.LockPath(id)
	for attempt := 1; attempt <= in.opts.LockAttempts; attempt++ {
		waitStart := time.Now()
		lock, ok, err := acquire(ctx, path, in.opts.LockTimeout)
		in.opts.Hooks.OnLockWait(ctx, id.Name, time.Since(waitStart))
		if err != nil {
			return false, err
		}
		if !ok {
			in.opts.Logger.Debug("Waiting for install lock", "package", id.Name, "version", id.Version, "attempt", attempt)
			continue
		}

		skipped, err := in.installLocked(ctx, item)
		if rerr := lock.release(); rerr != nil {
			in.opts.Logger.Debug("Lock release failed", "path", path, "error", rerr)
		}
		return skipped, err
	}
	return false, pkgerrors.Wrap(pkgerrors.ErrCodeLockTimeout, ErrLockTimeout,
		"%s: gave up after %d attempts of %s", id, in.opts.LockAttempts, in.opts.LockTimeout)
}

func (in *Installer) installLocked(ctx context.Context, item Item) (bool, error) {
	id := item.Identity
	if in.layout.IsInstalled(id) {
		in.opts.Logger.Debug("Installed by another process", "package", id.Name, "version", id.Version)
		return true, nil
	}
	in.opts.Logger.Info("Installing", "package", id.Name, "version", id.Version)

	dir := in.layout.VersionDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.ErrCodeInternal, err, "clean %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.ErrCodeInternal, err, "create %s", dir)
	}

	archivePath := in.layout.ArchivePath(id)
	if err := in.download(ctx, item, archivePath); err != nil {
		return false, err
	}
	reserved := func(name string) bool { return repository.Reserved(id, name) }
	if _, err := archive.Extract(archivePath, dir, reserved); err != nil {
		return false, fmt.Errorf("%s: %w", id, err)
	}

	hash, err := archive.Hash(archivePath)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.ErrCodeInternal, err, "hash %s", archivePath)
	}
	if err := writeAtomic(in.layout.MarkerPath(id), []byte(hash)); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.ErrCodeInternal, err, "write marker for %s", id)
	}
	return false, nil
}

// download streams the archive into a temp file and renames it into place.
func (in *Installer) download(ctx context.Context, item Item, dest string) error {
	id := item.Identity
	rc, size, err := item.Provider.CopyContent(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrCodeTransferFailed, err, "%s from %s", id, item.Provider.Name())
	}
	defer rc.Close()

	tmp := dest + "." + uuid.NewString() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrCodeInternal, err, "create %s", tmp)
	}

	if err := in.stream(ctx, id, rc, f, size); err != nil {
		f.Close()
		os.Remove(tmp)
		return pkgerrors.Wrap(pkgerrors.ErrCodeTransferFailed, err, "%s from %s", id, item.Provider.Name())
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return pkgerrors.Wrap(pkgerrors.ErrCodeTransferFailed, err, "write %s", tmp)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return pkgerrors.Wrap(pkgerrors.ErrCodeInternal, err, "rename %s", tmp)
	}
	return nil
}

func (in *Installer) stream(ctx context.Context, id library.Identity, r io.Reader, w io.Writer, size int64) error {
	buf := make([]byte, in.opts.ChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			written += int64(n)
			if in.opts.Progress != nil && size > 0 {
				in.opts.Progress(id, float64(written)/float64(size))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	if size >= 0 && written != size {
		return fmt.Errorf("short transfer: got %d of %d bytes", written, size)
	}
	return nil
}

// writeAtomic writes data to path through a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
