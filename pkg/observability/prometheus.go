package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records restore metrics in its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	walks       *prometheus.HistogramVec
	walkNodes   *prometheus.GaugeVec
	downgrades  prometheus.Counter
	missing     prometheus.Counter
	restores    *prometheus.CounterVec
	installs    *prometheus.CounterVec
	installTime prometheus.Histogram
	lockWait    prometheus.Histogram
	cache       *prometheus.CounterVec
	downloaded  *prometheus.CounterVec
}

// NewPrometheus creates and registers the restore metrics.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		walks: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "pkgrestore_walk_duration_seconds",
			Help: "Duration of dependency graph walks.",
		}, []string{"framework", "runtime", "result"}),
		walkNodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pkgrestore_walk_nodes",
			Help: "Number of nodes in the last walked graph.",
		}, []string{"framework", "runtime"}),
		downgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pkgrestore_downgrades_total",
			Help: "Potential downgrades detected during conflict resolution.",
		}),
		missing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pkgrestore_missing_total",
			Help: "Dependencies that no provider could resolve.",
		}),
		restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgrestore_restores_total",
			Help: "Completed restore runs by result.",
		}, []string{"result"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgrestore_installs_total",
			Help: "Install items by outcome (installed, skipped, failed).",
		}, []string{"outcome"}),
		installTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "pkgrestore_install_duration_seconds",
			Help: "Duration of package installs that did work.",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "pkgrestore_lock_wait_seconds",
			Help: "Time spent waiting for install locks.",
		}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgrestore_feed_cache_total",
			Help: "Feed cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		downloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgrestore_downloaded_bytes_total",
			Help: "Archive bytes downloaded per source.",
		}, []string{"source"}),
	}
	p.registry.MustRegister(p.walks, p.walkNodes, p.downgrades, p.missing, p.restores,
		p.installs, p.installTime, p.lockWait, p.cache, p.downloaded)
	return p
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// WriteTextfile writes the metrics in text exposition format, for the node
// exporter textfile collector.
func (p *Prometheus) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, p.registry)
}

func (p *Prometheus) OnWalkComplete(_ context.Context, framework, runtime string, nodes int, d time.Duration, err error) {
	p.walks.WithLabelValues(framework, runtime, result(err == nil)).Observe(d.Seconds())
	p.walkNodes.WithLabelValues(framework, runtime).Set(float64(nodes))
}

func (p *Prometheus) OnDowngrade(context.Context, string) { p.downgrades.Inc() }
func (p *Prometheus) OnMissing(context.Context, string)   { p.missing.Inc() }

func (p *Prometheus) OnRestoreComplete(_ context.Context, success bool, _ time.Duration) {
	p.restores.WithLabelValues(result(success)).Inc()
}

func (p *Prometheus) OnInstallComplete(_ context.Context, _, _ string, skipped bool, d time.Duration, err error) {
	switch {
	case err != nil:
		p.installs.WithLabelValues("failed").Inc()
	case skipped:
		p.installs.WithLabelValues("skipped").Inc()
	default:
		p.installs.WithLabelValues("installed").Inc()
		p.installTime.Observe(d.Seconds())
	}
}

func (p *Prometheus) OnLockWait(_ context.Context, _ string, waited time.Duration) {
	p.lockWait.Observe(waited.Seconds())
}

func (p *Prometheus) OnCacheHit(_ context.Context, kind string) {
	p.cache.WithLabelValues(kind, "hit").Inc()
}

func (p *Prometheus) OnCacheMiss(_ context.Context, kind string) {
	p.cache.WithLabelValues(kind, "miss").Inc()
}

func (p *Prometheus) OnDownload(_ context.Context, source string, bytes int64, _ time.Duration) {
	p.downloaded.WithLabelValues(source).Add(float64(bytes))
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

var _ Hooks = (*Prometheus)(nil)
