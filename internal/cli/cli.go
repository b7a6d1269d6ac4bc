package cli

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/pkgrestore/internal/config"
	"github.com/matzehuels/pkgrestore/pkg/buildinfo"
	"github.com/matzehuels/pkgrestore/pkg/project"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = config.AppName

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// ErrRestoreFailed is returned when a restore finished but left missing
// packages or failed installs. The details have already been reported.
var ErrRestoreFailed = errors.New("restore failed")

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
	// Out receives command output (summaries, exported graphs).
	Out io.Writer
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level), Out: os.Stdout}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	setLevel(c.Logger, level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "pkgrestore restores package dependencies of projects",
		Long:         `pkgrestore resolves the dependency graph of a project for every target framework and runtime, installs the packages it needs from the configured feeds and writes a lock file.`,
		Version:      buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetVersionTemplate(buildinfo.Template())

	root.AddCommand(c.restoreCommand())
	root.AddCommand(c.graphCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Project Lookup
// =============================================================================

// target is what a command operates on: one project or a workspace.
type target struct {
	dir       string
	project   *project.Project
	workspace *project.Workspace
}

// resolveTarget loads the workspace in solutionDir when set, else the
// project or workspace at path (a project file, or a directory holding a
// project or workspace file). An empty path means the working directory.
func resolveTarget(path, solutionDir string) (*target, error) {
	if solutionDir != "" {
		ws, err := project.LoadWorkspace(solutionDir)
		if err != nil {
			return nil, err
		}
		return &target{dir: ws.Dir, workspace: ws}, nil
	}
	if path == "" {
		path = "."
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		p, err := project.Load(path)
		if err != nil {
			return nil, err
		}
		return &target{dir: p.Dir, project: p}, nil
	}
	if project.IsWorkspace(path) {
		ws, err := project.LoadWorkspace(path)
		if err != nil {
			return nil, err
		}
		return &target{dir: ws.Dir, workspace: ws}, nil
	}
	p, err := project.LoadDir(path)
	if err != nil {
		return nil, err
	}
	return &target{dir: p.Dir, project: p}, nil
}

// absOrEmpty makes a non-empty path absolute.
func absOrEmpty(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
