package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/seuros/solid-mcp-go/config"
)

const (
	ServiceName = "solid-mcp"
)

var (
	version = "0.0.0"
	commit  = "hash"
)

// Run is the process entrypoint: it builds the CLI app and runs it
// against os.Args.
func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "durable session-scoped pub/sub engine for MCP notifications",
		Version: version,
		Commands: []*cli.Command{
			serverCmd(),
			cleanupCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "run the engine with the AMQP ingress and SSE demo surface",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "path to a YAML/JSON/TOML config file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"))
			if err != nil {
				return err
			}

			app := NewApp(cfg)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
			defer cancel()
			return app.Stop(shutdownCtx)
		},
	}
}

// cleanupCmd runs the retention sweep once and exits, for use from cron
// or a Kubernetes CronJob instead of the always-on server's ticker.
func cleanupCmd() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "run the retention sweep once and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "path to a YAML/JSON/TOML config file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, 2*time.Minute)
			defer cancel()

			engine, err := newStandaloneEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer engine.Shutdown(context.Background())

			delivered, undelivered, err := engine.Cleanup(ctx)
			if err != nil {
				return err
			}
			slog.Info("cleanup complete", "delivered_removed", delivered, "undelivered_removed", undelivered)
			return nil
		},
	}
}
