package observe

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// serveThrough runs one request through the middleware in front of handler
// and returns the recorded response.
func serveThrough(t *testing.T, m *Metrics, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	Middleware(m)(handler).ServeHTTP(rec, req)
	return rec
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func middlewareSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)
	exp := installSpanRecorder(t)
	return m, reader, exp
}

func TestMiddlewareCorrelationHeaderMatchesTraceID(t *testing.T) {
	m, _, _ := middlewareSetup(t)

	var inContext string
	rec := serveThrough(t, m, func(w http.ResponseWriter, r *http.Request) {
		inContext = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}, httptest.NewRequest("GET", "/voices", nil))

	if inContext == "" {
		t.Fatal("no correlation id in the handler context")
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inContext {
		t.Errorf("X-Correlation-ID = %q, want %q", got, inContext)
	}
}

func TestMiddlewareContinuesIncomingTrace(t *testing.T) {
	m, _, _ := middlewareSetup(t)
	const remoteTrace = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest("GET", "/voices", nil)
	req.Header.Set("traceparent", "00-"+remoteTrace+"-00f067aa0ba902b7-01")

	rec := serveThrough(t, m, okHandler, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != remoteTrace {
		t.Errorf("X-Correlation-ID = %q, want the incoming trace id %q", got, remoteTrace)
	}
}

func TestMiddlewareRecordsRequestDuration(t *testing.T) {
	m, reader, _ := middlewareSetup(t)

	serveThrough(t, m, okHandler, httptest.NewRequest("POST", "/voices", nil))

	rm := collect(t, reader)
	met := findMetric(rm, "vocello.http.request.duration")
	if met == nil {
		t.Fatal("request duration histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("request duration metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	attrs := map[string]string{}
	for _, kv := range dp.Attributes.ToSlice() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["method"] != "POST" || attrs["path"] != "/voices" {
		t.Errorf("attributes = %v, want method=POST path=/voices", attrs)
	}
}

func TestMiddlewareSpanStatus(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantError bool
	}{
		{"success", http.StatusOK, false},
		{"client error", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _, exp := middlewareSetup(t)

			serveThrough(t, m, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}, httptest.NewRequest("GET", "/probe", nil))

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded spans = %d, want 1", len(spans))
			}
			span := spans[0]
			if span.Name != "HTTP GET /probe" {
				t.Errorf("span name = %q, want %q", span.Name, "HTTP GET /probe")
			}

			var gotStatus int64 = -1
			for _, a := range span.Attributes {
				if string(a.Key) == "http.response.status_code" {
					gotStatus = a.Value.AsInt64()
				}
			}
			if gotStatus != int64(tc.status) {
				t.Errorf("http.response.status_code = %d, want %d", gotStatus, tc.status)
			}

			isError := span.Status.Code.String() == "Error"
			if isError != tc.wantError {
				t.Errorf("span error status = %v, want %v", isError, tc.wantError)
			}
		})
	}
}

func TestMiddlewareDemotesScrapeLogs(t *testing.T) {
	m, _, _ := middlewareSetup(t)
	buf := captureLogs(t, slog.LevelInfo)

	serveThrough(t, m, okHandler, httptest.NewRequest("GET", "/metrics", nil))
	if out := buf.String(); strings.Contains(out, "request served") {
		t.Errorf("scrape request logged at info level: %s", out)
	}

	serveThrough(t, m, okHandler, httptest.NewRequest("GET", "/voices", nil))
	out := buf.String()
	if !strings.Contains(out, "request served") {
		t.Fatalf("regular request not logged at info level: %s", out)
	}
	if !strings.Contains(out, "trace_id=") {
		t.Errorf("completion log missing trace correlation: %s", out)
	}
}
