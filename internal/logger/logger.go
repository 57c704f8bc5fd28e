// Package logger sets up the engine's slog JSON logging and carries a
// per-start trace id through context.Context, so one risk-management
// request can be followed from the API handler through the supervisor to
// the monitor goroutine it spawned.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey struct{}

var traceIDKey ctxKey

// Init installs a JSON slog logger tagged with the service name as the
// process default and returns it.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a LOG_LEVEL string to a slog level. Unknown values fall
// back to info rather than failing startup.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// NewTrace mints the trace id for one start request: the strategy id plus
// the start instant, so concurrent restarts of the same strategy stay
// distinguishable in the logs.
func NewTrace(strategyID string) string {
	return fmt.Sprintf("%s-%d", strategyID, time.Now().UnixNano())
}

// WithTraceID stores a trace id in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace id from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// LogWithTrace returns slog attributes carrying the context's trace id.
// Usage: slog.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
