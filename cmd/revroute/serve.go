package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/revroute/internal/adapters/http/api"
	"github.com/okian/revroute/internal/adapters/http/swagger"
	app "github.com/okian/revroute/internal/app"
	"github.com/okian/revroute/pkg/logger"
)

// HTTP server timeout constants. Write covers backtests posted to /v1/runs.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 5 * time.Minute
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the routing, evaluation and registry HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			ctx := cmd.Context()
			log := logger.Get()

			svc := app.New(cfg, app.WithLogger(log))
			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer svc.Stop()

			go startServiceMetricsUpdater(ctx, svc)

			mux := http.NewServeMux()
			swagger.Register(ctx, mux)
			api.NewServer(svc, svc).Register(ctx, mux)

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           mux,
				ReadTimeout:       readTimeout,
				WriteTimeout:      writeTimeout,
				IdleTimeout:       idleTimeout,
				ReadHeaderTimeout: readHeaderTimeout,
			}

			errc := make(chan error, 1)
			go func() {
				log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}
			log.Info(ctx, "shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error(ctx, "server shutdown failed", logger.Error(err))
				return err
			}
			log.Info(ctx, "server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override the listen address")
	return cmd
}

// startServiceMetricsUpdater refreshes the service gauges until ctx ends.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = svc.GetStats()
		}
	}
}
