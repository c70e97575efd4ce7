package cmd

import (
	"context"

	"github.com/seuros/solid-mcp-go/config"
	"github.com/seuros/solid-mcp-go/pubsub"
)

// newStandaloneEngine opens the engine outside the fx graph, for
// one-shot commands like cleanup that don't need the HTTP surface or
// AMQP ingress.
func newStandaloneEngine(ctx context.Context, cfg *config.AppConfig) (*pubsub.Engine, error) {
	engineCfg := cfg.Engine
	return pubsub.New(ctx, &engineCfg, pubsub.WithAutoMigrateSQLite(true))
}
