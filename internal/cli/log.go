// Package cli implements the pkgrestore command-line interface.
//
// The commands restore packages for projects and workspaces, export resolved
// dependency graphs, serve a directory feed over HTTP and manage the feed
// response cache. The CLI is built using cobra, settings are layered with
// viper (see internal/config) and logging uses charmbracelet/log.
//
// # Commands
//
// The main commands are:
//   - restore: Resolve, install and lock a project's dependencies
//   - graph: Export resolved graphs as DOT, SVG or JSON
//   - serve: Expose a directory feed over the HTTP feed protocol
//   - cache: Manage the feed response cache
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. Loggers are
// passed through context.Context to the commands.
//
// # Exit codes
//
// Execute returns ErrRestoreFailed when a restore left missing packages or
// failed installs; main maps every error to exit code 1.
package cli

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates the CLI logger. Timestamps are formatted as
// "HH:MM:SS.ms" (e.g., "14:32:01.45"); debug output also reports the caller
// so lookups and lock waits can be traced to their package.
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		ReportCaller:    level <= log.DebugLevel,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// setLevel changes the level of l, toggling caller reporting with it.
func setLevel(l *log.Logger, level log.Level) {
	l.SetLevel(level)
	l.SetReportCaller(level <= log.DebugLevel)
}

// progress measures one command and logs its completion with the elapsed
// time. It is not safe for concurrent use.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg with the elapsed time rounded to the millisecond.
// Example output: "Restore complete (1.234s)"
func (p *progress) done(msg string) {
	p.logger.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
}

type ctxKey int

const loggerKey ctxKey = 0

// withLogger attaches l to ctx for loggerFromContext.
func withLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// loggerFromContext returns the logger attached to ctx. Without one it
// returns a logger that discards everything, so a command run outside
// Execute stays quiet instead of writing to the global logger.
func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.New(io.Discard)
}
