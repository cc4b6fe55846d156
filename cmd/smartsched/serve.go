package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"smartsched/internal/async"
	httpserver "smartsched/internal/delivery/server/http"
	"smartsched/internal/logging"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, meta, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			app, err := buildApplication(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := app.Close(ctx); err != nil {
					app.logger.Warn("releasing resources: %v", err)
				}
			}()
			slog.SetDefault(app.obsLogger.Slog())
			gin.SetMode(gin.ReleaseMode)
			if meta.File != "" {
				app.logger.Info("loaded config from %s", meta.File)
			}

			srv := httpserver.NewServer(cfg.Server, httpserver.Deps{
				Service:              app.service,
				Formatter:            app.formatter,
				Calendar:             app.calendar,
				Breaker:              app.breaker,
				Metrics:              app.metrics,
				Tracer:               app.tracer,
				Logger:               app.component("http"),
				Version:              appVersion(),
				MaxAvailabilityRange: time.Duration(cfg.Scheduling.MaxHorizonDays) * 24 * time.Hour,
			})
			return serveUntilDone(cmd.Context(), srv, cfg.Server.ShutdownTimeout, app.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	return cmd
}

type server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serveUntilDone runs srv until ctx is cancelled (SIGINT/SIGTERM) or the
// listener fails, then shuts it down within timeout.
func serveUntilDone(ctx context.Context, srv server, timeout time.Duration, logger logging.Logger) error {
	logger = logging.OrNop(logger)
	errCh := async.Run(logger, "server.listen", srv.Start)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutting down server...")
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		shutdownErr := srv.Shutdown(shutdownCtx)
		serveErr := <-errCh
		if shutdownErr != nil {
			return shutdownErr
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}
		return nil
	}
}
