package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/queuesched/api"
	"github.com/xraph/queuesched/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.withStore(ctx, func(st store.Store) error {
				if migrate {
					if err := st.Migrate(ctx); err != nil {
						return fmt.Errorf("migrate: %w", err)
					}
				}
				if err := st.Ping(ctx); err != nil {
					return fmt.Errorf("ping store: %w", err)
				}
				return serve(ctx, a.cfg.Addr, api.New(st, api.WithLogger(a.logger)), a.logger)
			})
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Migrate the store before serving")
	return cmd
}

// serve runs an HTTP server until ctx is done, then drains it.
func serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("admin api listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logger.Info("admin api stopping")
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}
