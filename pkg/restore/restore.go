// Package restore drives a package restore for a project: it walks the
// dependency graph for every framework and runtime, resolves version
// conflicts, installs what the feeds provide and writes the lock file.
//
// A restore succeeds when every non-reference range resolved and every
// install succeeded. Provider errors and cancellation abort the run and are
// returned as errors; missing packages and per-item install failures are
// reported on the Result.
package restore

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	pkgerrors "github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/feed"
	"github.com/matzehuels/pkgrestore/pkg/graph"
	"github.com/matzehuels/pkgrestore/pkg/install"
	"github.com/matzehuels/pkgrestore/pkg/library"
	"github.com/matzehuels/pkgrestore/pkg/lockfile"
	"github.com/matzehuels/pkgrestore/pkg/observability"
	"github.com/matzehuels/pkgrestore/pkg/project"
	"github.com/matzehuels/pkgrestore/pkg/provider"
	"github.com/matzehuels/pkgrestore/pkg/repository"
	"github.com/matzehuels/pkgrestore/pkg/rid"
)

// Request describes one project restore.
type Request struct {
	Project *project.Project
	// Resolver finds referenced projects. Nil searches the project's sibling
	// directories.
	Resolver project.Resolver
	// Sources and FallbackSources are feed URLs or directories. Fallback
	// sources are consulted after all primary sources.
	Sources         []string
	FallbackSources []string
	// PackagesDir is the install root.
	PackagesDir string
	// LockFilePath defaults to project.lock.json in the project directory.
	LockFilePath string
	// NoLockFile skips writing the lock file.
	NoLockFile bool
	// DryRun resolves and reports without installing or writing anything.
	DryRun bool
}

// Options configures a Restorer.
type Options struct {
	// MaxConcurrency bounds both provider lookups and installs. Values
	// below 1 run sequentially.
	MaxConcurrency int
	// Feed configures the feeds opened for request sources.
	Feed feed.Options
	// LockDir and LockTimeout configure install locks.
	LockDir     string
	LockTimeout time.Duration
	// Progress receives download progress for each package.
	Progress func(id library.Identity, fraction float64)
	Logger   *log.Logger
	Hooks    observability.Hooks
	// OpenSource opens a package source. Nil uses feed.New with Feed.
	OpenSource func(source string) (provider.Source, error)
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = 1
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	o.Hooks = observability.OrNoop(o.Hooks)
	if o.Feed.Logger == nil {
		o.Feed.Logger = o.Logger
	}
	if o.Feed.Hooks == nil {
		o.Feed.Hooks = o.Hooks
	}
	if o.OpenSource == nil {
		opts := o.Feed
		o.OpenSource = func(source string) (provider.Source, error) {
			return feed.New(source, opts)
		}
	}
	return o
}

// Restorer runs restores. It holds no per-run state and is safe for
// concurrent use.
type Restorer struct {
	opts Options
}

// New creates a Restorer.
func New(opts Options) *Restorer {
	return &Restorer{opts: opts.withDefaults()}
}

// Result is the outcome of a restore.
type Result struct {
	// RunID identifies the run in logs.
	RunID   string
	Success bool
	// Graphs holds the framework graphs followed by the runtime graphs.
	Graphs       []*graph.Graph
	Libraries    []library.Identity
	InstallItems []install.Item
	Installed    []install.Result
	Missing      []library.Range
	Downgrades   []graph.Downgrade
	// LockFile is nil for dry runs and failed restores.
	LockFile     *lockfile.LockFile
	LockFilePath string
	// Err joins the install and lock file failures.
	Err      error
	Duration time.Duration
}

// Restore restores req.Project.
func (r *Restorer) Restore(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	logger := r.opts.Logger.With("project", req.Project.Name)

	chain, err := r.providers(req)
	if err != nil {
		return nil, err
	}
	walker := graph.NewWalker(chain, graph.WalkerOptions{MaxConcurrency: r.opts.MaxConcurrency, Logger: logger})

	logger.Debug("Starting restore", "run", res.RunID, "frameworks", len(req.Project.Frameworks))
	for _, fw := range req.Project.Frameworks {
		logger.Infof("Restoring packages for %s", fw)
		g, err := r.walk(ctx, walker, req.Project, fw, "", nil, res)
		if err != nil {
			return nil, r.abort(ctx, res, start, err)
		}
		if err := r.walkRuntimes(ctx, walker, req.Project, g, res, logger); err != nil {
			return nil, r.abort(ctx, res, start, err)
		}
	}

	flat := Flatten(res.Graphs)
	res.Libraries = flat.Libraries
	res.InstallItems = flat.InstallItems
	res.Missing = flat.Missing
	for _, m := range res.Missing {
		logger.Errorf("Unable to locate %s %s", m.Name, m.VersionRange)
		r.opts.Hooks.OnMissing(ctx, m.Name)
	}

	var errs []error
	if req.DryRun {
		for _, item := range res.InstallItems {
			logger.Infof("Would install %s %s", item.Identity.Name, item.Identity.Version)
		}
	} else {
		installer := install.New(req.PackagesDir, install.Options{
			MaxConcurrency: r.opts.MaxConcurrency,
			LockDir:        r.opts.LockDir,
			LockTimeout:    r.opts.LockTimeout,
			Progress:       r.opts.Progress,
			Logger:         logger,
			Hooks:          r.opts.Hooks,
		})
		installed, err := installer.InstallAll(ctx, res.InstallItems)
		res.Installed = installed
		if ctx.Err() != nil {
			return nil, r.abort(ctx, res, start, ctx.Err())
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	res.Success = len(res.Missing) == 0 && len(errs) == 0
	if res.Success && !req.DryRun && !req.NoLockFile {
		res.LockFilePath = lockFilePath(req)
		lf, err := buildLockFile(res.Graphs, flat, repository.NewLocal(req.PackagesDir))
		if err == nil {
			err = lf.Write(res.LockFilePath)
		}
		if err != nil {
			errs = append(errs, pkgerrors.Wrap(pkgerrors.ErrCodeInternal, err, "write lock file %s", res.LockFilePath))
			res.Success = false
		} else {
			res.LockFile = lf
			logger.Debug("Wrote lock file", "path", res.LockFilePath)
		}
	}

	res.Err = errors.Join(errs...)
	res.Duration = time.Since(start)
	r.opts.Hooks.OnRestoreComplete(ctx, res.Success, res.Duration)
	return res, nil
}

func (r *Restorer) abort(ctx context.Context, res *Result, start time.Time, err error) error {
	res.Duration = time.Since(start)
	r.opts.Hooks.OnRestoreComplete(ctx, false, res.Duration)
	return err
}

// walk builds and conflict-resolves one graph and records it on res.
func (r *Restorer) walk(ctx context.Context, w *graph.Walker, p *project.Project, fw library.Framework, runtimeID string, runtimes *rid.Graph, res *Result) (*graph.Graph, error) {
	start := time.Now()
	g, err := w.Walk(ctx, p.Range(), fw, runtimeID, runtimes)
	if err != nil {
		r.opts.Hooks.OnWalkComplete(ctx, string(fw), runtimeID, 0, time.Since(start), err)
		return nil, err
	}
	downgrades := g.ResolveConflicts()
	r.opts.Hooks.OnWalkComplete(ctx, string(fw), runtimeID, g.Len(), time.Since(start), nil)

	logger := r.opts.Logger.With("project", p.Name, "graph", g.Name())
	for _, c := range g.Cycles() {
		logger.Warnf("Cycle detected %s", c.Key)
	}
	for _, d := range downgrades {
		logger.Warnf("Detected package downgrade: %s from %s to %s", d.Accepted.Name, requestedVersion(d), d.Accepted.Version)
		r.opts.Hooks.OnDowngrade(ctx, d.Accepted.Name)
	}

	res.Graphs = append(res.Graphs, g)
	res.Downgrades = append(res.Downgrades, downgrades...)
	return g, nil
}

// requestedVersion is the version the downgraded edge asked for: the lower
// bound of its range, else the version it resolved to.
func requestedVersion(d graph.Downgrade) string {
	if v, ok := d.Node.Key.VersionRange.MinVersion(); ok {
		return v.String()
	}
	if d.Node.Item != nil {
		return d.Node.Item.Identity.Version.String()
	}
	return d.Node.Key.VersionRange.String()
}

// walkRuntimes walks fw once per runtime the project targets, using the
// runtime graph merged from the project and every package accepted in base.
func (r *Restorer) walkRuntimes(ctx context.Context, w *graph.Walker, p *project.Project, base *graph.Graph, res *Result, logger *log.Logger) error {
	ids := p.RuntimeIDs()
	if len(ids) == 0 {
		logger.Debug("Skipping runtime dependency walk, no runtimes defined")
		return nil
	}
	runtimes, err := graph.CollectRuntimeGraph(ctx, base, p.Runtimes, r.opts.MaxConcurrency)
	if err != nil {
		return err
	}
	for _, id := range ids {
		logger.Infof("Restoring packages for %s on %s", base.Framework, id)
		if _, err := r.walk(ctx, w, p, base.Framework, id, runtimes, res); err != nil {
			return err
		}
	}
	return nil
}

// providers builds the chain: projects, the install root, then primary and
// fallback sources in order.
func (r *Restorer) providers(req Request) (provider.Chain, error) {
	resolver := req.Resolver
	if resolver == nil {
		dr := project.NewDirResolver(req.Project.Dir)
		dr.Add(req.Project, false)
		resolver = dr
	}

	var remote []provider.Provider
	for _, s := range append(append([]string{}, req.Sources...), req.FallbackSources...) {
		src, err := r.opts.OpenSource(s)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidInput, err, "open source %s", s)
		}
		remote = append(remote, provider.NewRemote(src, r.opts.Logger))
	}

	return provider.NewChain(
		[]provider.Provider{provider.NewProject(resolver)},
		[]provider.Provider{provider.NewLocal(repository.NewLocal(req.PackagesDir))},
		remote,
	), nil
}

func validateRequest(req Request) error {
	if req.Project == nil {
		return pkgerrors.New(pkgerrors.ErrCodeInvalidInput, "no project to restore")
	}
	if req.PackagesDir == "" {
		return pkgerrors.New(pkgerrors.ErrCodeInvalidInput, "no packages directory")
	}
	if len(req.Project.Frameworks) == 0 {
		return pkgerrors.New(pkgerrors.ErrCodeInvalidProject, "project %s declares no frameworks", req.Project.Name)
	}
	return nil
}

func lockFilePath(req Request) string {
	if req.LockFilePath != "" {
		return req.LockFilePath
	}
	return filepath.Join(req.Project.Dir, lockfile.FileName)
}
