// Package logging provides a slog wrapper that injects trace/span IDs
// from context, grounded on the teacher's engine/telemetry/logging.go
// correlatedLogger.
package logging

import (
	"context"
	"log/slog"

	"github.com/namd-sim/engine/internal/telemetry/tracing"
)

// Logger is the minimal correlated-logging surface the simulation core
// depends on.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
}

type correlatedLogger struct{ base *slog.Logger }

// New returns a correlated Logger wrapping base, or slog.Default() if nil.
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base}
}

func (l *correlatedLogger) withTrace(ctx context.Context, attrs []any) []any {
	traceID, spanID := tracing.IDs(ctx)
	if traceID == "" && spanID == "" {
		return attrs
	}
	return append(attrs, slog.String("trace_id", traceID), slog.String("span_id", spanID))
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.InfoContext(ctx, msg, l.withTrace(ctx, attrs)...)
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.WarnContext(ctx, msg, l.withTrace(ctx, attrs)...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.ErrorContext(ctx, msg, l.withTrace(ctx, attrs)...)
}
