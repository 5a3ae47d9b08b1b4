package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the vocello tracer.
const tracerName = "github.com/vocello/vocello"

// Span attribute keys correlating telemetry that belongs to one utterance.
const (
	AttrUtteranceID = "vocello.utterance.id"
	AttrVoiceID     = "vocello.voice.id"
)

// Tracer returns the package-level [trace.Tracer] for vocello. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartUtteranceSpan starts a span for one stage of an utterance's lifecycle,
// stamped with the utterance and voice ids so every stage of one delivery
// correlates in the trace backend.
func StartUtteranceSpan(ctx context.Context, stage, utteranceID, voiceID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, stage,
		trace.WithAttributes(
			attribute.String(AttrUtteranceID, utteranceID),
			attribute.String(AttrVoiceID, voiceID),
		),
	)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// The trace ID doubles as the request correlation identifier exposed in the
// X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
