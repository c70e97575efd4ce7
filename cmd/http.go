package cmd

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"

	"github.com/seuros/solid-mcp-go/config"
	"github.com/seuros/solid-mcp-go/pubsub"
	"github.com/seuros/solid-mcp-go/transport/sse"
)

// RegisterHTTPServer mounts the SSE demo surface and starts listening on
// cfg.HTTPAddr, shutting down gracefully on OnStop.
func RegisterHTTPServer(lc fx.Lifecycle, engine *pubsub.Engine, cfg *config.AppConfig, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	sse.New(engine, cfg.Engine.MaxWaitTime, logger).Routes(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.HTTPAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("sse server stopped unexpectedly", "error", err)
				}
			}()
			logger.Info("sse demo surface listening", "addr", cfg.HTTPAddr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
