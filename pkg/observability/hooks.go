// Package observability provides hooks for metrics and tracing.
//
// This package enables optional instrumentation without adding hard
// dependencies on specific observability backends. Hooks are passed
// explicitly into the components that emit events; there is no global
// registry.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Let the caller pass an implementation at construction time
//
// [Prometheus] implements every hook interface on top of client_golang.
//
// # Usage
//
//	metrics := observability.NewPrometheus()
//	result, err := restore.Run(ctx, req, restore.Options{Hooks: metrics})
//	_ = metrics.WriteTextfile("restore.prom")
package observability

import (
	"context"
	"time"
)

// =============================================================================
// Restore Hooks
// =============================================================================

// RestoreHooks receives events from the restore orchestrator.
type RestoreHooks interface {
	// OnWalkComplete records one graph walk. runtime is empty for the base
	// framework walk.
	OnWalkComplete(ctx context.Context, framework, runtime string, nodes int, duration time.Duration, err error)

	// OnDowngrade records a potential downgrade diagnostic.
	OnDowngrade(ctx context.Context, pkg string)

	// OnMissing records an unresolved dependency.
	OnMissing(ctx context.Context, pkg string)

	// OnRestoreComplete records the end of a restore run.
	OnRestoreComplete(ctx context.Context, success bool, duration time.Duration)
}

// =============================================================================
// Install Hooks
// =============================================================================

// InstallHooks receives events from the package installer.
type InstallHooks interface {
	// OnInstallComplete records one install item. skipped is true when the
	// marker was already present.
	OnInstallComplete(ctx context.Context, pkg, version string, skipped bool, duration time.Duration, err error)

	// OnLockWait records time spent waiting for an install lock.
	OnLockWait(ctx context.Context, pkg string, waited time.Duration)
}

// =============================================================================
// Feed Hooks
// =============================================================================

// FeedHooks receives events from feed clients.
type FeedHooks interface {
	// OnCacheHit records a cache hit. kind is "listing" or "archive".
	OnCacheHit(ctx context.Context, kind string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, kind string)

	// OnDownload records a completed archive download.
	OnDownload(ctx context.Context, source string, bytes int64, duration time.Duration)
}

// Hooks bundles every hook category.
type Hooks interface {
	RestoreHooks
	InstallHooks
	FeedHooks
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopRestoreHooks is a no-op implementation of RestoreHooks.
type NoopRestoreHooks struct{}

func (NoopRestoreHooks) OnWalkComplete(context.Context, string, string, int, time.Duration, error) {
}
func (NoopRestoreHooks) OnDowngrade(context.Context, string)                    {}
func (NoopRestoreHooks) OnMissing(context.Context, string)                      {}
func (NoopRestoreHooks) OnRestoreComplete(context.Context, bool, time.Duration) {}

// NoopInstallHooks is a no-op implementation of InstallHooks.
type NoopInstallHooks struct{}

func (NoopInstallHooks) OnInstallComplete(context.Context, string, string, bool, time.Duration, error) {
}
func (NoopInstallHooks) OnLockWait(context.Context, string, time.Duration) {}

// NoopFeedHooks is a no-op implementation of FeedHooks.
type NoopFeedHooks struct{}

func (NoopFeedHooks) OnCacheHit(context.Context, string)                            {}
func (NoopFeedHooks) OnCacheMiss(context.Context, string)                           {}
func (NoopFeedHooks) OnDownload(context.Context, string, int64, time.Duration) {}

// Noop implements Hooks and does nothing.
type Noop struct {
	NoopRestoreHooks
	NoopInstallHooks
	NoopFeedHooks
}

var _ Hooks = Noop{}

// OrNoop returns h, or Noop when h is nil.
func OrNoop(h Hooks) Hooks {
	if h == nil {
		return Noop{}
	}
	return h
}
