// Package logging wraps log/slog with trace/span correlation: every log
// line produced through a component's Logger carries the active trace
// and span IDs extracted from context.
package logging

import (
	"context"
	"log/slog"

	"github.com/raceops/ingest/engine/internal/telemetry/tracing"
)

// Logger is the ambient logging contract every component depends on.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)
	DebugCtx(ctx context.Context, msg string, args ...any)
}

type correlatedLogger struct {
	base *slog.Logger
}

// New wraps a *slog.Logger with trace/span correlation.
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base}
}

func (l *correlatedLogger) withTrace(ctx context.Context, args []any) []any {
	traceID, spanID := tracing.ExtractIDs(ctx)
	if traceID == "" && spanID == "" {
		return args
	}
	extra := make([]any, 0, len(args)+4)
	if traceID != "" {
		extra = append(extra, "trace_id", traceID)
	}
	if spanID != "" {
		extra = append(extra, "span_id", spanID)
	}
	return append(extra, args...)
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	l.base.InfoContext(ctx, msg, l.withTrace(ctx, args)...)
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	l.base.WarnContext(ctx, msg, l.withTrace(ctx, args)...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	l.base.ErrorContext(ctx, msg, l.withTrace(ctx, args)...)
}

func (l *correlatedLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	l.base.DebugContext(ctx, msg, l.withTrace(ctx, args)...)
}
