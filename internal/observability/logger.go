// Package observability provides structured logging and request ID
// propagation for the gateway core. Log aggregation and tracing
// backends are external; this package only produces the events they
// consume.
package observability

import (
	"io"
	"log/slog"
	"strings"
)

// LoggerConfig contains configuration for the logger. Level accepts a
// plain slog.Level or a *slog.LevelVar when the level must change at
// runtime.
type LoggerConfig struct {
	Level      slog.Leveler
	Output     io.Writer
	AddSource  bool
	JSONFormat bool
}

// NewLogger builds a slog.Logger from the given configuration.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSONFormat {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// ParseLevel converts a config string into a slog.Level.
// Unknown values default to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
