package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/membank/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the store over a local read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			cfg := st.Config()
			if addr == "" {
				addr = cfg.ListenAddr()
			}

			opts := []server.Option{server.WithLogger(a.log())}
			if a.federated {
				opts = append(opts, server.WithFederation(a.fed(st)))
			}
			srv := server.New(st, VersionString(), opts...)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := srv.Watch(ctx); err != nil {
					a.log().Warn("store watcher stopped; responses may be stale", zap.Error(err))
				}
			}()

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv,
				ReadHeaderTimeout: 5 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				fmt.Fprintf(cmd.ErrOrStderr(), "membank serving on %s\n", addr)
				fmt.Fprintf(cmd.ErrOrStderr(), "  store: %s\n", st.Root())
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "\nshutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.bind:server.port)")
	return cmd
}
