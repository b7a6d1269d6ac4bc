package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// Execute runs the pkgrestore CLI with args and returns an error if the
// command fails. Logs go to logOut; --verbose switches to debug level.
//
// Example:
//
//	func main() {
//	    if err := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
//	        os.Exit(1)
//	    }
//	}
func Execute(ctx context.Context, args []string, out, logOut io.Writer) error {
	var verbose bool

	c := New(logOut, LogInfo)
	c.Out = out
	root := c.RootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(logOut)
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level := LogInfo
		if verbose {
			level = LogDebug
		}
		c.SetLogLevel(level)
		cmd.SetContext(withLogger(cmd.Context(), c.Logger))
		return nil
	}

	return root.ExecuteContext(ctx)
}
