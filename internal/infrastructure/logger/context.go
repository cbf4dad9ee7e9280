package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

// Context keys for the batch identifiers the poller stamps before driving a
// run. The gorm logger reads them back so statement logs name the batch
// that issued them.
const (
	BatchIDKey contextKey = "batch_id"
	ChannelKey contextKey = "channel"
)

// WithBatchID stamps the batch ID on the context and returns a logger with
// the matching field attached.
func WithBatchID(ctx context.Context, log *zap.Logger, batchID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, BatchIDKey, batchID)
	return ctx, log.With(zap.String("batch_id", batchID))
}

// WithChannel stamps the origin channel on the context and returns a logger
// with the matching field attached.
func WithChannel(ctx context.Context, log *zap.Logger, channel string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, ChannelKey, channel)
	return ctx, log.With(zap.String("channel", channel))
}

// GetBatchID returns the batch ID stamped on the context, or "".
func GetBatchID(ctx context.Context) string {
	batchID, _ := ctx.Value(BatchIDKey).(string)
	return batchID
}

// GetChannel returns the origin channel stamped on the context, or "".
func GetChannel(ctx context.Context) string {
	channel, _ := ctx.Value(ChannelKey).(string)
	return channel
}

// GetTraceID returns the trace ID of the span on the context, or "" when
// no span is active.
func GetTraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// GetSpanID returns the span ID of the span on the context, or "" when no
// span is active.
func GetSpanID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.SpanID().String()
}

// WithTraceContext attaches trace_id and span_id fields from the active
// span so log lines can be joined to the exported trace. The logger is
// returned unchanged when the context carries no span.
func WithTraceContext(ctx context.Context, log *zap.Logger) *zap.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return log
	}
	return log.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)
}
