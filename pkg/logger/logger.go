// Package logger configures the process-wide slog handler. Components
// derive their loggers from slog.Default, so Setup must run before anything
// is built.
package logger

import (
	"io"
	"log/slog"
)

// Setup installs a handler writing to w as the default logger.
func Setup(w io.Writer, level string, format string) {
	slog.SetDefault(New(w, level, format))
}

// New builds a logger writing to w without touching the default. Format
// "json" selects the JSON handler, anything else the text handler.
func New(w io.Writer, level string, format string) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(level string) slog.Level {
	switch level {
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
