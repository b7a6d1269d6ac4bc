package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/pkgrestore/internal/testutil"
	"github.com/matzehuels/pkgrestore/pkg/cache"
	"github.com/matzehuels/pkgrestore/pkg/httputil"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

func noRetry(_ context.Context, fn func() error) error { return fn() }

func fastRetry(ctx context.Context, fn func() error) error {
	return httputil.Policy{Attempts: 3, Delay: time.Millisecond}.Do(ctx, fn)
}

type feedServer struct {
	*httptest.Server
	hits   atomic.Int64
	status atomic.Int64
}

func newFeedServer(t *testing.T, pkgs ...*testutil.Package) *feedServer {
	t.Helper()
	fs := &feedServer{}
	listings := map[string]Listing{}
	archives := map[string][]byte{}
	for _, p := range pkgs {
		key := strings.ToLower(p.ID)
		l := listings[key]
		l.ID = p.ID
		l.Versions = append(l.Versions, p.Version)
		listings[key] = l
		archives["/"+key+"/"+p.Version+"/"+key+"."+p.Version+".pkg"] = p.Build(t)
	}

	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		if code := fs.status.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		if strings.HasSuffix(r.URL.Path, "/index.json") {
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/index.json")
			l, ok := listings[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(l)
			return
		}
		data, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func TestHTTPListVersions(t *testing.T) {
	srv := newFeedServer(t, testutil.NewPackage("Sample", "1.0.0"), testutil.NewPackage("Sample", "2.0.0"))
	f, err := NewHTTP(srv.URL, Options{Retry: noRetry})
	require.NoError(t, err)

	name, versions, err := f.ListVersions(context.Background(), "sample")
	require.NoError(t, err)
	assert.Equal(t, "Sample", name)
	require.Len(t, versions, 2)
	assert.Equal(t, "1.0.0", versions[0].String())
}

func TestHTTPListVersionsNotFound(t *testing.T) {
	srv := newFeedServer(t)
	f, err := NewHTTP(srv.URL, Options{Retry: noRetry})
	require.NoError(t, err)

	name, versions, err := f.ListVersions(context.Background(), "Missing")
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.Empty(t, versions)
}

func TestHTTPFetchArchive(t *testing.T) {
	p := testutil.NewPackage("Sample", "1.0.0").File("lib/net/sample.dll", "x")
	srv := newFeedServer(t, p)
	f, err := NewHTTP(srv.URL, Options{Retry: noRetry})
	require.NoError(t, err)

	data, err := f.FetchArchive(context.Background(), "Sample", versioning.MustParse("1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, p.Build(t), data)

	_, err = f.FetchArchive(context.Background(), "Sample", versioning.MustParse("9.0.0"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPRetriesServerErrors(t *testing.T) {
	srv := newFeedServer(t, testutil.NewPackage("Sample", "1.0.0"))
	srv.status.Store(http.StatusServiceUnavailable)

	f, err := NewHTTP(srv.URL, Options{Retry: fastRetry})
	require.NoError(t, err)

	_, _, err = f.ListVersions(context.Background(), "Sample")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, int64(3), srv.hits.Load())
}

func TestHTTPDoesNotRetryClientErrors(t *testing.T) {
	srv := newFeedServer(t)
	srv.status.Store(http.StatusForbidden)

	f, err := NewHTTP(srv.URL, Options{Retry: fastRetry})
	require.NoError(t, err)

	_, _, err = f.ListVersions(context.Background(), "Sample")
	require.Error(t, err)
	assert.Equal(t, int64(1), srv.hits.Load())
}

func TestHTTPCircuitBreakerOpens(t *testing.T) {
	srv := newFeedServer(t)
	srv.status.Store(http.StatusInternalServerError)

	f, err := NewHTTP(srv.URL, Options{Retry: noRetry})
	require.NoError(t, err)

	for range 5 {
		_, _, err := f.ListVersions(context.Background(), "Sample")
		require.Error(t, err)
	}
	require.Equal(t, int64(5), srv.hits.Load())

	_, _, err = f.ListVersions(context.Background(), "Sample")
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, int64(5), srv.hits.Load(), "open breaker must not reach the server")
}

func TestHTTPNotFoundDoesNotTripBreaker(t *testing.T) {
	srv := newFeedServer(t)
	f, err := NewHTTP(srv.URL, Options{Retry: noRetry})
	require.NoError(t, err)

	for range 10 {
		_, _, err := f.ListVersions(context.Background(), "Missing")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(10), srv.hits.Load())
}

func TestHTTPCachesResponses(t *testing.T) {
	srv := newFeedServer(t, testutil.NewPackage("Sample", "1.0.0"))
	fc, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)

	hooks := &countingHooks{}
	f, err := NewHTTP(srv.URL, Options{Cache: fc, Retry: noRetry, Hooks: hooks})
	require.NoError(t, err)

	ctx := context.Background()
	for range 3 {
		_, versions, err := f.ListVersions(ctx, "Sample")
		require.NoError(t, err)
		require.Len(t, versions, 1)
	}
	for range 2 {
		_, err := f.FetchArchive(ctx, "Sample", versioning.MustParse("1.0.0"))
		require.NoError(t, err)
	}

	assert.Equal(t, int64(2), srv.hits.Load())
	assert.Equal(t, int64(3), hooks.hits.Load())
	assert.Equal(t, int64(2), hooks.misses.Load())
	assert.Equal(t, int64(1), hooks.downloads.Load())
}

// brokenCache fails every operation, like an unreachable Redis.
type brokenCache struct{ cache.NullCache }

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func TestHTTPCacheFailuresAreLogged(t *testing.T) {
	srv := newFeedServer(t, testutil.NewPackage("Sample", "1.0.0"))
	var buf bytes.Buffer
	logger := log.New(&buf)
	logger.SetLevel(log.DebugLevel)

	f, err := NewHTTP(srv.URL, Options{Cache: brokenCache{}, Retry: noRetry, Logger: logger})
	require.NoError(t, err)

	_, versions, err := f.ListVersions(context.Background(), "Sample")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
	assert.Contains(t, buf.String(), "Cache read failed")
	assert.Contains(t, buf.String(), "Cache write failed")
	assert.Contains(t, buf.String(), "cache down")
}

func TestHTTPNoCacheBypassesCache(t *testing.T) {
	srv := newFeedServer(t, testutil.NewPackage("Sample", "1.0.0"))
	fc, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)

	f, err := NewHTTP(srv.URL, Options{Cache: fc, NoCache: true, Retry: noRetry})
	require.NoError(t, err)

	for range 2 {
		_, _, err := f.ListVersions(context.Background(), "Sample")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), srv.hits.Load())
}

func TestHTTPCoalescesConcurrentFetches(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int64
	data := testutil.NewPackage("Sample", "1.0.0").Build(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	f, err := NewHTTP(srv.URL, Options{Retry: noRetry})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.FetchArchive(context.Background(), "Sample", versioning.MustParse("1.0.0"))
			assert.NoError(t, err)
			assert.Equal(t, data, got)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), hits.Load())
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := NewHTTP("ftp://example.com", Options{})
	assert.Error(t, err)
}

func TestDirFeed(t *testing.T) {
	dir := t.TempDir()
	p := testutil.NewPackage("Sample", "1.0.0").File("lib/net/sample.dll", "x")
	testutil.WriteFeed(t, dir, p, testutil.NewPackage("Sample", "1.1.0"))

	f, err := New(dir, Options{})
	require.NoError(t, err)
	assert.False(t, f.IsHTTP())

	name, versions, err := f.ListVersions(context.Background(), "SAMPLE")
	require.NoError(t, err)
	assert.Equal(t, "Sample", name)
	require.Len(t, versions, 2)
	assert.Equal(t, "1.1.0", versions[1].String())

	data, err := f.FetchArchive(context.Background(), "sample", versioning.MustParse("1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, p.Build(t), data)

	_, err = f.FetchArchive(context.Background(), "sample", versioning.MustParse("3.0.0"))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, versions, err = f.ListVersions(context.Background(), "Unknown")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestNewDirMissing(t *testing.T) {
	_, err := NewDir("/does/not/exist")
	assert.Error(t, err)
}

type countingHooks struct {
	hits, misses, downloads atomic.Int64
}

func (h *countingHooks) OnCacheHit(context.Context, string)  { h.hits.Add(1) }
func (h *countingHooks) OnCacheMiss(context.Context, string) { h.misses.Add(1) }
func (h *countingHooks) OnDownload(context.Context, string, int64, time.Duration) {
	h.downloads.Add(1)
}
