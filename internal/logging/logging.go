package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

type contextKey struct{}

// New creates a logger writing to w. Format "json" selects the JSON handler;
// anything else gets colored console output, with colors turned off when w
// is not a terminal-like *os.File.
func New(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	logLevel := ParseLevel(level)

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	default:
		_, isFile := w.(*os.File)
		handler = tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
			NoColor:    !isFile,
		})
	}
	return slog.New(handler)
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown values
// mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// ContextWithLogger attaches the command logger to ctx so the migrator and
// executor log through it when they were not given one explicitly.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger attached by ContextWithLogger, or nil.
func FromContext(ctx context.Context) *slog.Logger {
	logger, _ := ctx.Value(contextKey{}).(*slog.Logger)
	return logger
}

// FromContextOrDefault returns the attached logger or slog.Default.
func FromContextOrDefault(ctx context.Context) *slog.Logger {
	if logger := FromContext(ctx); logger != nil {
		return logger
	}
	return slog.Default()
}
