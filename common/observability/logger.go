// Package observability provides structured logging helpers for the gateway.
//
// It wraps log/slog with trace ID propagation and secret redaction so that
// every log line emitted during a request carries the trace context.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/torbobase/torbo-base/common/redact"
	"github.com/torbobase/torbo-base/common/trace"
)

// Setup configures the global slog logger according to the provided level and
// format strings (e.g. level="info", format="json").
func Setup(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithTrace returns a child logger that always includes the trace_id from ctx.
func WithTrace(ctx context.Context) *slog.Logger {
	return WithTraceLogger(ctx, slog.Default())
}

// WithTraceLogger is WithTrace against an explicit base logger instead of
// the global default, for components (like the provider multiplexer) that
// are handed their own *slog.Logger at construction time.
func WithTraceLogger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return base
	}
	return base.With("trace_id", traceID)
}

// RedactSecrets replaces known-sensitive values in a log message with "[REDACTED]".
func RedactSecrets(msg string, sensitiveValues ...string) string {
	return redact.String(msg, sensitiveValues...)
}
