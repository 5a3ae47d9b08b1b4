package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installSpanRecorder registers an in-memory exporter as the global tracer
// provider for the duration of the test and returns it.
func installSpanRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default slog logger into a buffer for the
// duration of the test.
func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	installSpanRecorder(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	want := span.SpanContext().TraceID().String()
	if got := CorrelationID(ctx); got != want {
		t.Errorf("CorrelationID = %q, want span trace id %q", got, want)
	}
}

func TestStartSpanRecordsName(t *testing.T) {
	exp := installSpanRecorder(t)

	_, span := StartSpan(context.Background(), "preset.load")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "preset.load" {
		t.Errorf("span name = %q, want preset.load", spans[0].Name)
	}
}

func TestStartUtteranceSpanCarriesIdentity(t *testing.T) {
	exp := installSpanRecorder(t)

	_, span := StartUtteranceSpan(context.Background(), "speech.connect", "utt-1", "aria")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "speech.connect" {
		t.Errorf("span name = %q, want speech.connect", spans[0].Name)
	}

	got := map[string]string{}
	for _, a := range spans[0].Attributes {
		got[string(a.Key)] = a.Value.AsString()
	}
	if got[AttrUtteranceID] != "utt-1" {
		t.Errorf("%s = %q, want utt-1", AttrUtteranceID, got[AttrUtteranceID])
	}
	if got[AttrVoiceID] != "aria" {
		t.Errorf("%s = %q, want aria", AttrVoiceID, got[AttrVoiceID])
	}
}

func TestLoggerEnrichment(t *testing.T) {
	installSpanRecorder(t)

	t.Run("with active span", func(t *testing.T) {
		buf := captureLogs(t, slog.LevelInfo)
		ctx, span := StartSpan(context.Background(), "log-op")
		defer span.End()

		Logger(ctx).Info("hello")

		out := buf.String()
		sc := span.SpanContext()
		if !strings.Contains(out, "trace_id="+sc.TraceID().String()) {
			t.Errorf("log output missing trace_id, got: %s", out)
		}
		if !strings.Contains(out, "span_id="+sc.SpanID().String()) {
			t.Errorf("log output missing span_id, got: %s", out)
		}
	})

	t.Run("without span", func(t *testing.T) {
		buf := captureLogs(t, slog.LevelInfo)

		Logger(context.Background()).Info("hello")

		if out := buf.String(); strings.Contains(out, "trace_id") {
			t.Errorf("log output has trace_id without a span: %s", out)
		}
	})
}
