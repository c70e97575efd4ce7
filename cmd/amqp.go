package cmd

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/seuros/solid-mcp-go/config"
	ingressamqp "github.com/seuros/solid-mcp-go/ingress/amqp"
	"github.com/seuros/solid-mcp-go/pubsub"
)

// RegisterAMQPIngress wires the C7 AMQP ingress adapter when cfg.AMQPEnabled
// is set. With it disabled (the default, since no broker is assumed to be
// present), this is a no-op so the rest of the process runs standalone.
func RegisterAMQPIngress(lc fx.Lifecycle, engine *pubsub.Engine, cfg *config.AppConfig, logger *slog.Logger) error {
	if !cfg.AMQPEnabled {
		return nil
	}

	adapterCfg := ingressamqp.DefaultConfig(cfg.AMQPURI, cfg.AMQPExchange)
	adapter, err := ingressamqp.New(adapterCfg, engine, logger)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := adapter.Run(context.Background()); err != nil {
					logger.Error("amqp ingress router stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return adapter.Close()
		},
	})

	return nil
}
