package install

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/pkgrestore/internal/testutil"
	"github.com/matzehuels/pkgrestore/pkg/archive"
	pkgerrors "github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/provider"
	"github.com/matzehuels/pkgrestore/pkg/repository"
	"github.com/matzehuels/pkgrestore/pkg/rid"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

// contentProvider serves fixed archive bytes and counts copies.
type contentProvider struct {
	data []byte
	// failAfter, when positive, makes the stream fail after that many bytes.
	failAfter int
	// delay is spent before the first byte is returned.
	delay  time.Duration
	copies atomic.Int64
}

func (p *contentProvider) Name() string        { return "test" }
func (p *contentProvider) Kind() provider.Kind { return provider.KindRemote }
func (p *contentProvider) IsHTTP() bool        { return true }

func (p *contentProvider) FindLibrary(context.Context, library.Range, library.Framework) (library.Identity, bool, error) {
	return library.Identity{}, false, nil
}

func (p *contentProvider) GetDependencies(context.Context, library.Identity, library.Framework) ([]library.Dependency, error) {
	return nil, nil
}

func (p *contentProvider) GetRuntimeGraph(context.Context, library.Identity) (*rid.Graph, error) {
	return nil, nil
}

func (p *contentProvider) CopyContent(context.Context, library.Identity) (io.ReadCloser, int64, error) {
	p.copies.Add(1)
	time.Sleep(p.delay)
	var r io.Reader = bytes.NewReader(p.data)
	if p.failAfter > 0 {
		r = &failingReader{r: io.LimitReader(r, int64(p.failAfter))}
	}
	return io.NopCloser(r), int64(len(p.data)), nil
}

type failingReader struct{ r io.Reader }

func (f *failingReader) Read(b []byte) (int, error) {
	n, err := f.r.Read(b)
	if err == io.EOF {
		return n, errors.New("connection reset by peer")
	}
	return n, err
}

func samplePackage(t *testing.T) []byte {
	t.Helper()
	big := bytes.Repeat([]byte("0123456789abcdef"), 1024)
	return testutil.NewPackage("Sample", "1.0.0").
		File("lib/net/sample.dll", "binary").
		File("content/big.txt", string(big)).
		Build(t)
}

func sampleID() library.Identity {
	return library.NewIdentity("Sample", versioning.MustParse("1.0.0"))
}

func newInstaller(t *testing.T, root, lockDir string, opts Options) *Installer {
	t.Helper()
	opts.LockDir = lockDir
	return New(root, opts)
}

func TestInstall(t *testing.T) {
	root, locks := t.TempDir(), t.TempDir()
	data := samplePackage(t)
	p := &contentProvider{data: data}

	var fractions []float64
	var mu sync.Mutex
	in := newInstaller(t, root, locks, Options{ChunkSize: 64, Progress: func(_ library.Identity, f float64) {
		mu.Lock()
		fractions = append(fractions, f)
		mu.Unlock()
	}})

	res := in.Install(context.Background(), Item{Identity: sampleID(), Provider: p})
	require.NoError(t, res.Err)
	assert.False(t, res.Skipped)

	assert.FileExists(t, filepath.Join(root, "Sample", "1.0.0", "lib", "net", "sample.dll"))
	assert.FileExists(t, filepath.Join(root, "Sample", "1.0.0", "Sample.1.0.0.pkg"))

	marker, err := os.ReadFile(filepath.Join(root, "Sample", "1.0.0", "Sample.1.0.0.pkg.sha512"))
	require.NoError(t, err)
	want, err := archive.HashReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, string(marker))

	require.NotEmpty(t, fractions)
	assert.Greater(t, len(fractions), 1, "archive spans several chunks")
	assert.InDelta(t, 1.0, fractions[len(fractions)-1], 1e-9)

	leftovers, _ := filepath.Glob(filepath.Join(root, "Sample", "1.0.0", "*.tmp"))
	assert.Empty(t, leftovers)
}

func TestInstallSkipsInstalled(t *testing.T) {
	root, locks := t.TempDir(), t.TempDir()
	p := &contentProvider{data: samplePackage(t)}
	in := newInstaller(t, root, locks, Options{})

	require.NoError(t, in.Install(context.Background(), Item{Identity: sampleID(), Provider: p}).Err)
	res := in.Install(context.Background(), Item{Identity: sampleID(), Provider: p})
	require.NoError(t, res.Err)
	assert.True(t, res.Skipped)
	assert.Equal(t, int64(1), p.copies.Load())
}

func TestInstallConcurrentSameIdentity(t *testing.T) {
	root, locks := t.TempDir(), t.TempDir()
	p := &contentProvider{data: samplePackage(t), delay: 50 * time.Millisecond}

	// Separate installers share nothing but the disk, like two processes.
	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := newInstaller(t, root, locks, Options{})
			results[i] = in.Install(context.Background(), Item{Identity: sampleID(), Provider: p})
		}()
	}
	wg.Wait()

	installed := 0
	for _, r := range results {
		require.NoError(t, r.Err)
		if !r.Skipped {
			installed++
		}
	}
	assert.Equal(t, 1, installed)
	assert.Equal(t, int64(1), p.copies.Load())
}

func TestInstallCrashSafety(t *testing.T) {
	root, locks := t.TempDir(), t.TempDir()
	data := samplePackage(t)
	in := newInstaller(t, root, locks, Options{})
	id := sampleID()

	broken := &contentProvider{data: data, failAfter: len(data) / 2}
	res := in.Install(context.Background(), Item{Identity: id, Provider: broken})
	require.Error(t, res.Err)
	assert.True(t, pkgerrors.Is(res.Err, pkgerrors.ErrCodeTransferFailed))
	assert.False(t, in.Layout().IsInstalled(id))
	assert.NoFileExists(t, in.Layout().ArchivePath(id))

	good := &contentProvider{data: data}
	res = in.Install(context.Background(), Item{Identity: id, Provider: good})
	require.NoError(t, res.Err)
	assert.False(t, res.Skipped)

	marker, err := os.ReadFile(in.Layout().MarkerPath(id))
	require.NoError(t, err)
	want, _ := archive.HashReader(bytes.NewReader(data))
	assert.Equal(t, want, string(marker))
	got, err := archive.Hash(in.Layout().ArchivePath(id))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInstallCorruptArchive(t *testing.T) {
	root, locks := t.TempDir(), t.TempDir()
	in := newInstaller(t, root, locks, Options{})
	id := sampleID()

	res := in.Install(context.Background(), Item{Identity: id, Provider: &contentProvider{data: []byte("not a zip")}})
	require.Error(t, res.Err)
	assert.True(t, pkgerrors.Is(res.Err, pkgerrors.ErrCodeExtractFailed))
	assert.False(t, in.Layout().IsInstalled(id))
}

func TestInstallCleansPartialDirectory(t *testing.T) {
	root, locks := t.TempDir(), t.TempDir()
	in := newInstaller(t, root, locks, Options{})
	id := sampleID()

	stale := testutil.WriteFile(t, in.Layout().VersionDir(id), "lib/old.dll", "stale")
	res := in.Install(context.Background(), Item{Identity: id, Provider: &contentProvider{data: samplePackage(t)}})
	require.NoError(t, res.Err)
	assert.NoFileExists(t, stale)
}

func TestInstallLockTimeout(t *testing.T) {
	root, locks := t.TempDir(), t.TempDir()
	in := newInstaller(t, root, locks, Options{LockTimeout: 30 * time.Millisecond, LockAttempts: 3})
	id := sampleID()

	held := flock.New(in.LockPath(id))
	require.NoError(t, os.MkdirAll(filepath.Dir(in.LockPath(id)), 0o755))
	require.NoError(t, held.Lock())
	defer held.Unlock()

	p := &contentProvider{data: samplePackage(t)}
	res := in.Install(context.Background(), Item{Identity: id, Provider: p})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrLockTimeout)
	assert.True(t, pkgerrors.Is(res.Err, pkgerrors.ErrCodeLockTimeout))
	assert.Zero(t, p.copies.Load())
}

func TestInstallCanceledWhileWaitingForLock(t *testing.T) {
	root, locks := t.TempDir(), t.TempDir()
	in := newInstaller(t, root, locks, Options{LockTimeout: time.Minute})
	id := sampleID()

	require.NoError(t, os.MkdirAll(locks, 0o755))
	held := flock.New(in.LockPath(id))
	require.NoError(t, held.Lock())
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := in.Install(ctx, Item{Identity: id, Provider: &contentProvider{data: samplePackage(t)}})
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestInstallAllAggregatesFailures(t *testing.T) {
	root, locks := t.TempDir(), t.TempDir()
	in := newInstaller(t, root, locks, Options{MaxConcurrency: 4})

	good := func(id, ver string) Item {
		data := testutil.NewPackage(id, ver).File("lib/"+id+".dll", id).Build(t)
		return Item{Identity: library.NewIdentity(id, versioning.MustParse(ver)), Provider: &contentProvider{data: data}}
	}
	bad := func(id string) Item {
		return Item{Identity: library.NewIdentity(id, versioning.MustParse("1.0.0")), Provider: &contentProvider{data: []byte("garbage")}}
	}

	items := []Item{good("A", "1.0.0"), bad("Broken1"), good("B", "2.0.0"), bad("Broken2"), good("C", "1.0.0")}
	results, err := in.InstallAll(context.Background(), items)
	require.Error(t, err)
	assert.Equal(t, 2, pkgerrors.Count(err))

	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, items[i].Identity, r.Identity)
	}
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.True(t, in.Layout().IsInstalled(items[4].Identity))
}

func TestLockPathNormalizes(t *testing.T) {
	a := lockPath("/locks", "/root/Sample/1.0.0")
	b := lockPath("/locks", "/root/sample/1.0.0/")
	c := lockPath("/locks", "/root/Other/1.0.0")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "/locks", filepath.Dir(a))
}

func TestInstallIgnoresReservedEntries(t *testing.T) {
	root, locks := t.TempDir(), t.TempDir()
	data := testutil.NewPackage("Sample", "1.0.0").
		File("lib/net/sample.dll", "binary").
		File("Sample.1.0.0.pkg.sha512", "planted").
		File("Sample.1.0.0.pkg", "not the archive").
		File("lib/partial.tmp", "scratch").
		Build(t)
	in := newInstaller(t, root, locks, Options{})
	id := sampleID()

	// Extraction on its own must never produce a marker.
	dir := in.Layout().VersionDir(id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	archivePath := in.Layout().ArchivePath(id)
	require.NoError(t, os.WriteFile(archivePath, data, 0o644))
	files, err := archive.Extract(archivePath, dir, func(name string) bool {
		return repository.Reserved(id, name)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/net/sample.dll", "manifest.json"}, files)
	assert.False(t, in.Layout().IsInstalled(id))

	res := in.Install(context.Background(), Item{Identity: id, Provider: &contentProvider{data: data}})
	require.NoError(t, res.Err)

	marker, err := os.ReadFile(in.Layout().MarkerPath(id))
	require.NoError(t, err)
	want, err := archive.HashReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, string(marker))

	stored, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
	assert.NoFileExists(t, filepath.Join(dir, "lib", "partial.tmp"))
}
