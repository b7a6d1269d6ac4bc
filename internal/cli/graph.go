package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/graph"
)

// Graph output formats.
const (
	formatDOT  = "dot"
	formatSVG  = "svg"
	formatJSON = "json"
)

// graphCommand creates the graph command.
func (c *CLI) graphCommand() *cobra.Command {
	var (
		flags  sourceFlags
		format string
		output string
		only   string
	)

	cmd := &cobra.Command{
		Use:   "graph [project]",
		Short: "Resolve a project and export its dependency graphs",
		Long: `Graph resolves the dependencies of a project without installing anything and
writes the resolved graphs as Graphviz DOT, SVG or JSON. Nodes are colored by
how conflict resolution decided them.`,
		Example: `  pkgrestore graph src/App > app.dot
  pkgrestore graph src/App --format svg --graph net8.0 -o app.svg
  pkgrestore graph --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			sess, err := flags.open(ctx, cmd.Flags(), args)
			if err != nil {
				return err
			}
			defer sess.Close()
			if sess.tgt.project == nil {
				return errors.New(errors.ErrCodeInvalidInput, "graph works on a single project, not a workspace")
			}

			spinner := newSpinnerWithContext(ctx, cmd.ErrOrStderr(), "Resolving "+sess.tgt.project.Name+"...")
			spin := logger.GetLevel() > LogDebug
			if spin {
				spinner.Start()
			}

			req := sess.request()
			req.DryRun = true
			req.NoLockFile = true
			res, err := sess.restorer(c, nil).Restore(ctx, req)
			if spin {
				spinner.Stop()
			}
			if err != nil {
				return err
			}

			graphs := selectGraphs(res.Graphs, only)
			if len(graphs) == 0 {
				return errors.New(errors.ErrCodeNotFound, "no graph named %q", only)
			}

			data, err := exportGraphs(cmd, graphs, format)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = c.Out.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			printFile(c.Out, output)
			return nil
		},
	}

	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&format, "format", formatDOT, "output format: dot, svg or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&only, "graph", "", `export only this graph, e.g. "net8.0" or "net8.0/rid-A"`)

	return cmd
}

// selectGraphs returns the graph named name, or all graphs when name is empty.
func selectGraphs(graphs []*graph.Graph, name string) []*graph.Graph {
	if name == "" {
		return graphs
	}
	for _, g := range graphs {
		if strings.EqualFold(g.Name(), name) {
			return []*graph.Graph{g}
		}
	}
	return nil
}

func exportGraphs(cmd *cobra.Command, graphs []*graph.Graph, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case formatJSON:
		if err := graph.WriteJSON(&buf, graphs...); err != nil {
			return nil, err
		}
	case formatDOT:
		writeDOT(&buf, graphs)
	case formatSVG:
		if len(graphs) != 1 {
			return nil, errors.New(errors.ErrCodeInvalidInput, "svg output needs a single graph, pick one with --graph")
		}
		svg, err := graph.RenderSVG(cmd.Context(), graph.ToDOT(graphs[0]))
		if err != nil {
			return nil, err
		}
		buf.Write(svg)
	default:
		return nil, errors.New(errors.ErrCodeInvalidInput, "unknown format %q", format)
	}
	return buf.Bytes(), nil
}

func writeDOT(w io.Writer, graphs []*graph.Graph) {
	for i, g := range graphs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		io.WriteString(w, graph.ToDOT(g))
	}
}
