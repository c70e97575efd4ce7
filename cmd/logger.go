package cmd

import (
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/seuros/solid-mcp-go/config"
)

// ProvideLogger builds the process-wide structured logger. Every log
// record also flows through the OTel bridge so a collector can pick it
// up; when no OTel exporter is configured the bridge is a harmless no-op
// forwarder. A non-empty DEBUG_SOLID_MCP environment variable raises the
// level to debug regardless of cfg.LogLevel.
func ProvideLogger(cfg *config.AppConfig) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	if os.Getenv("DEBUG_SOLID_MCP") != "" {
		level = slog.LevelDebug
	}

	otelHandler := otelslog.NewHandler(ServiceName)
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	return slog.New(fanoutHandler{handlers: []slog.Handler{textHandler, otelHandler}})
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
