package cmd

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/seuros/solid-mcp-go/config"
	"github.com/seuros/solid-mcp-go/pubsub"
)

// RegisterRetentionSweeper starts the C6 retention sweep on a ticker and
// stops it on shutdown. The core engine never schedules its own Cleanup;
// this is the external scheduler spec §5 expects callers to supply.
func RegisterRetentionSweeper(lc fx.Lifecycle, engine *pubsub.Engine, cfg *config.AppConfig, logger *slog.Logger) {
	stop := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go sweepLoop(engine, cfg.RetentionSweepInterval, logger, stop)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(stop)
			return nil
		},
	})
}

func sweepLoop(engine *pubsub.Engine, interval time.Duration, logger *slog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			delivered, undelivered, err := engine.Cleanup(ctx)
			cancel()
			if err != nil {
				logger.Error("retention sweep failed", "error", err)
				continue
			}
			logger.Info("retention sweep complete", "delivered_removed", delivered, "undelivered_removed", undelivered)
		}
	}
}
