package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the deployment server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(opts.configPath)
			if err != nil {
				return err
			}

			app, err := wireApp(s, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			addr := s.Server.Addr()
			if listen != "" {
				addr = listen
			}
			l, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}

			if s.Source != "" {
				app.logger.Info("loaded settings", "file", s.Source)
			}
			app.logger.Info("deployment config file", "path", s.ConfigFile)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, app, l)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides server.host and server.port")
	return cmd
}

// runServer serves on l until ctx is done, then shuts the server down and
// waits for every session to disconnect.
func runServer(ctx context.Context, app *app, l net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.server.Serve(l); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		app.logger.Info("server stopped")
		return nil
	})

	return g.Wait()
}
