package cmd

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/seuros/solid-mcp-go/config"
	"github.com/seuros/solid-mcp-go/pubsub"
)

// ProvideEngine opens the configured store and starts the writer; the
// lifecycle hook only covers shutdown, since the engine itself is ready
// to use the moment New returns.
func ProvideEngine(lc fx.Lifecycle, cfg *config.AppConfig, logger *slog.Logger) (*pubsub.Engine, error) {
	engineCfg := cfg.Engine

	engine, err := pubsub.New(context.Background(), &engineCfg,
		pubsub.WithLogger(logger),
		pubsub.WithAutoMigrateSQLite(true),
	)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return engine.Shutdown(ctx)
		},
	})

	return engine, nil
}
