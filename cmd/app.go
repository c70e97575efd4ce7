package cmd

import (
	"go.uber.org/fx"

	"github.com/seuros/solid-mcp-go/config"
)

// NewApp assembles the fx graph for one run of the server command.
func NewApp(cfg *config.AppConfig) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.AppConfig { return cfg },
			ProvideLogger,
			ProvideEngine,
		),
		fx.Invoke(
			RegisterRetentionSweeper,
			RegisterHTTPServer,
			RegisterAMQPIngress,
		),
	)
}
