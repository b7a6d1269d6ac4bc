package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/pkgrestore/pkg/feed"
	"github.com/matzehuels/pkgrestore/pkg/feedserver"
	"github.com/matzehuels/pkgrestore/pkg/observability"
)

const shutdownTimeout = 10 * time.Second

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve <dir>",
		Short: "Serve a directory feed over HTTP",
		Long: `Serve exposes a directory feed (<dir>/<id>/<version>/<id>.<version>.pkg)
over the HTTP feed protocol, so other machines can restore from it with
--source http://host:port. Prometheus metrics are served on /metrics.`,
		Example: `  pkgrestore serve ./feed --addr :8080`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			f, err := feed.NewDir(args[0])
			if err != nil {
				return err
			}
			prom := observability.NewPrometheus()
			handler := feedserver.New(f,
				feedserver.WithLogger(logger),
				feedserver.WithMetrics(prom.Registry()),
			).Handler()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			printInfo(c.Out, "Serving %s", f.Source())
			printKeyValue(c.Out, "address", "http://"+ln.Addr().String())
			return runServer(ctx, handler, ln, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

// runServer serves handler on ln until ctx is done, then shuts down
// gracefully.
func runServer(ctx context.Context, handler http.Handler, ln net.Listener, logger *log.Logger) error {
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
