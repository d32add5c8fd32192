package app

import (
	"io"
	"log/slog"
	"os"
)

const serviceName = "odyssey-retail"

// NewLogger returns the process logger. LOG_FORMAT=json selects the JSON
// handler for log shippers; anything else prints text. Debug records are
// dropped in production.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: slog.LevelDebug}
	env := "development"
	if cfg != nil {
		env = cfg.AppEnv
	}
	if cfg.IsProduction() {
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("env", env),
	)
}
