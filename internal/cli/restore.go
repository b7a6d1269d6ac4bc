package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/matzehuels/pkgrestore/internal/config"
	"github.com/matzehuels/pkgrestore/pkg/cache"
	"github.com/matzehuels/pkgrestore/pkg/feed"
	"github.com/matzehuels/pkgrestore/pkg/observability"
	"github.com/matzehuels/pkgrestore/pkg/restore"
)

// sourceFlags are the flags shared by commands that resolve packages.
type sourceFlags struct {
	configFile  string
	solutionDir string
}

func (f *sourceFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceP("source", "s", nil, "package source URL or directory (repeatable)")
	fs.StringSliceP("fallback-source", "f", nil, "fallback package source, consulted after all sources (repeatable)")
	fs.String("packages", "", "install root (default ~/.pkgrestore/packages)")
	fs.String("parallel", "", `maximum concurrent lookups and installs, or "none"`)
	fs.Bool("no-cache", false, "bypass the feed response cache")
	fs.Duration("lock-timeout", 0, "maximum wait for one install lock")
	fs.String("http-cache", "", "feed response cache: file, redis or none")
	fs.String("redis-url", "", "redis URL for --http-cache redis")
	fs.String("cache-dir", "", "directory for the file cache")
	fs.StringVar(&f.configFile, "config", "", "settings file (default pkgrestore.toml in the project directory)")
	fs.StringVar(&f.solutionDir, "solution-dir", "", "restore every project of the workspace in this directory")
}

// session is the configured state a command needs to run restores.
type session struct {
	cfg   *config.Config
	cache cache.Cache
	tgt   *target
}

func (f *sourceFlags) open(ctx context.Context, fs *pflag.FlagSet, args []string) (*session, error) {
	var path string
	if len(args) > 0 {
		path = args[0]
	}
	tgt, err := resolveTarget(path, f.solutionDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.LoadOptions{ConfigFile: f.configFile, Dir: tgt.dir, Flags: fs})
	if err != nil {
		return nil, err
	}
	c, err := cfg.Cache(ctx)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, cache: c, tgt: tgt}, nil
}

func (s *session) Close() error { return s.cache.Close() }

func (s *session) restorer(c *CLI, hooks observability.Hooks) *restore.Restorer {
	return restore.New(restore.Options{
		MaxConcurrency: s.cfg.MaxConcurrency,
		Feed: feed.Options{
			Cache:   s.cache,
			Keyer:   cache.NewScopedKeyer(cache.NewDefaultKeyer(), appName+":"),
			NoCache: s.cfg.NoCache,
			Logger:  c.Logger,
		},
		LockTimeout: s.cfg.LockTimeout,
		Logger:      c.Logger,
		Hooks:       hooks,
	})
}

func (s *session) request() restore.Request {
	return restore.Request{
		Project:         s.tgt.project,
		Sources:         s.cfg.Sources,
		FallbackSources: s.cfg.FallbackSources,
		PackagesDir:     absOrEmpty(s.cfg.PackagesDir),
	}
}

// restoreCommand creates the restore command.
func (c *CLI) restoreCommand() *cobra.Command {
	var (
		flags       sourceFlags
		dryRun      bool
		lockFile    string
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "restore [project]",
		Short: "Restore the packages a project depends on",
		Long: `Restore resolves the dependencies of a project for every target framework
and runtime, installs the missing packages into the install root and writes
project.lock.json beside the project.

The project argument is a project file, or a directory holding project.toml
or workspace.toml. It defaults to the working directory.`,
		Example: `  pkgrestore restore
  pkgrestore restore src/App --source https://feed.example.com/v1
  pkgrestore restore --solution-dir . --parallel none
  pkgrestore restore --dry-run -v`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			sess, err := flags.open(ctx, cmd.Flags(), args)
			if err != nil {
				return err
			}
			defer sess.Close()
			if sess.cfg.File != "" {
				logger.Debug("Loaded settings", "file", sess.cfg.File)
			}

			var hooks observability.Hooks
			var prom *observability.Prometheus
			if metricsFile != "" {
				prom = observability.NewPrometheus()
				hooks = prom
			}

			r := sess.restorer(c, hooks)
			req := sess.request()
			req.DryRun = dryRun
			req.LockFilePath = absOrEmpty(lockFile)

			prog := newProgress(logger)
			var results []*restore.Result
			if sess.tgt.workspace != nil {
				req.LockFilePath = ""
				results, err = r.RestoreWorkspace(ctx, sess.tgt.workspace, req)
			} else {
				var res *restore.Result
				res, err = r.Restore(ctx, req)
				if res != nil {
					results = append(results, res)
				}
			}

			if prom != nil {
				if werr := prom.WriteTextfile(metricsFile); werr != nil {
					logger.Warn("Failed to write metrics", "file", metricsFile, "err", werr)
				}
			}
			if err != nil {
				return err
			}

			ok := true
			for _, res := range results {
				printResult(c.Out, res, dryRun)
				ok = ok && res.Success
			}
			if !ok {
				return ErrRestoreFailed
			}
			prog.done("Restore complete")
			return nil
		},
	}

	flags.register(cmd.Flags())
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and report without installing")
	cmd.Flags().StringVar(&lockFile, "lock-file", "", "lock file path (default project.lock.json beside the project)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file")

	return cmd
}

// printResult summarizes one project restore.
func printResult(w io.Writer, res *restore.Result, dryRun bool) {
	name := "project"
	if len(res.Graphs) > 0 && res.Graphs[0].Root != nil {
		name = res.Graphs[0].Root.Key.Name
	}

	installed, skipped := 0, 0
	for _, r := range res.Installed {
		switch {
		case r.Err != nil:
		case r.Skipped:
			skipped++
		default:
			installed++
		}
	}

	switch {
	case res.Success && dryRun:
		printSuccess(w, "Resolved %s (dry run, %d to install)", StyleTitle.Render(name), len(res.InstallItems))
	case res.Success:
		printSuccess(w, "Restored %s in %s", StyleTitle.Render(name), res.Duration.Round(time.Millisecond))
	default:
		printError(w, "Failed to restore %s", StyleTitle.Render(name))
	}
	printStats(w, len(res.Libraries), installed, skipped)

	for _, m := range res.Missing {
		printDetail(w, "missing %s %s", m.Name, m.VersionRange)
	}
	for _, d := range res.Downgrades {
		printWarning(w, "%s downgraded to %s", d.Node.Key, d.Accepted.Version)
	}
	for _, r := range res.Installed {
		if r.Err != nil {
			printDetail(w, "failed %s: %v", r.Identity, r.Err)
		}
	}
	if res.LockFile != nil {
		printFile(w, res.LockFilePath)
	}
}
