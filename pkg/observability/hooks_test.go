package observability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	h := OrNoop(nil)
	h.OnWalkComplete(ctx, "net8.0", "", 10, time.Second, nil)
	h.OnDowngrade(ctx, "Sample")
	h.OnMissing(ctx, "Missing")
	h.OnRestoreComplete(ctx, true, time.Second)
	h.OnInstallComplete(ctx, "Sample", "1.0.0", false, time.Second, nil)
	h.OnLockWait(ctx, "Sample", time.Millisecond)
	h.OnCacheHit(ctx, "listing")
	h.OnCacheMiss(ctx, "archive")
	h.OnDownload(ctx, "https://feed", 1024, time.Second)
}

func TestOrNoopKeepsCustomHooks(t *testing.T) {
	p := NewPrometheus()
	if OrNoop(p) != Hooks(p) {
		t.Error("OrNoop should return non-nil hooks unchanged")
	}
}

func TestPrometheusCounters(t *testing.T) {
	ctx := context.Background()
	p := NewPrometheus()

	p.OnInstallComplete(ctx, "A", "1.0.0", false, time.Second, nil)
	p.OnInstallComplete(ctx, "B", "1.0.0", true, 0, nil)
	p.OnInstallComplete(ctx, "C", "1.0.0", false, 0, errors.New("boom"))
	p.OnInstallComplete(ctx, "D", "1.0.0", false, time.Second, nil)

	if got := testutil.ToFloat64(p.installs.WithLabelValues("installed")); got != 2 {
		t.Errorf("installed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.installs.WithLabelValues("skipped")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.installs.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}

	p.OnMissing(ctx, "X")
	p.OnMissing(ctx, "Y")
	if got := testutil.ToFloat64(p.missing); got != 2 {
		t.Errorf("missing = %v, want 2", got)
	}

	p.OnCacheHit(ctx, "listing")
	p.OnCacheMiss(ctx, "listing")
	p.OnCacheMiss(ctx, "listing")
	if got := testutil.ToFloat64(p.cache.WithLabelValues("listing", "miss")); got != 2 {
		t.Errorf("listing misses = %v, want 2", got)
	}

	p.OnDownload(ctx, "https://feed", 512, time.Second)
	if got := testutil.ToFloat64(p.downloaded.WithLabelValues("https://feed")); got != 512 {
		t.Errorf("downloaded = %v, want 512", got)
	}

	p.OnRestoreComplete(ctx, false, time.Second)
	if got := testutil.ToFloat64(p.restores.WithLabelValues("failure")); got != 1 {
		t.Errorf("failed restores = %v, want 1", got)
	}
}

func TestPrometheusWriteTextfile(t *testing.T) {
	p := NewPrometheus()
	p.OnWalkComplete(context.Background(), "net8.0", "", 3, time.Millisecond, nil)
	p.OnDowngrade(context.Background(), "B")

	path := filepath.Join(t.TempDir(), "restore.prom")
	if err := p.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"pkgrestore_downgrades_total 1", "pkgrestore_walk_nodes"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q", want)
		}
	}
}
