// Package logger provides structured logging functionality for the
// application using Go's standard library log/slog package, including the
// push handler and collector that carry worker-process log records back to
// the caller.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Setup initializes the application's logging system from the configured
// level. It creates a structured JSON logger writing to stdout, sets it as
// the process default and returns it.
func Setup(level string) (*slog.Logger, error) {
	parsed, err := ParseLevel(level)
	if err != nil {
		// Fall back to info rather than failing startup over a typo, but
		// make the fallback visible.
		parsed = slog.LevelInfo
		tmp := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmp.Warn("invalid log level configured, using default level",
			"configured_level", level,
			"default_level", "info")
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parsed})
	log := slog.New(handler)
	slog.SetDefault(log)

	return log, nil
}

// ParseLevel converts a textual log level (case-insensitive) to slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// contextKey is the private type for logger values stored in a context.
type contextKey struct{}

// WithContext returns a context carrying the given logger.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, log)
}

// FromContext returns the logger carried by ctx, or slog.Default when none
// is present.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
