package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// statusMux mirrors the routes of the parley status server.
func statusMux() *http.ServeMux {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	mux.HandleFunc("GET /healthz", ok)
	mux.HandleFunc("GET /statusz", ok)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return mux
}

func serve(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func onlySpan(t *testing.T, exp *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	return spans[0]
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	tests := []struct {
		path       string
		wantRoute  string
		wantStatus int
	}{
		{"/statusz", "GET /statusz", http.StatusOK},
		{"/readyz", "GET /readyz", http.StatusServiceUnavailable},
		{"/wp-login.php", unmatchedRoute, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			exp := installTracer(t)
			m, reader := newTestMetrics(t)
			h := Middleware(m)(statusMux())

			if rec := serve(h, tc.path, nil); rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}

			span := onlySpan(t, exp)
			if want := "status " + tc.wantRoute; span.Name != want {
				t.Errorf("span name = %q, want %q", span.Name, want)
			}
			attrs := spanAttrs(span)
			if got := attrs["http.route"].AsString(); got != tc.wantRoute {
				t.Errorf("http.route = %q, want %q", got, tc.wantRoute)
			}
			if got := attrs["http.response.status_code"].AsInt64(); got != int64(tc.wantStatus) {
				t.Errorf("http.response.status_code = %d, want %d", got, tc.wantStatus)
			}

			met := findMetric(collect(t, reader), "parley.http.request.duration")
			if met == nil {
				t.Fatal("parley.http.request.duration not recorded")
			}
			dp := met.Data.(metricdata.Histogram[float64]).DataPoints[0]
			if v, _ := dp.Attributes.Value("route"); v.AsString() != tc.wantRoute {
				t.Errorf("route label = %q, want %q", v.AsString(), tc.wantRoute)
			}
			if v, _ := dp.Attributes.Value("status"); v.AsInt64() != int64(tc.wantStatus) {
				t.Errorf("status label = %d, want %d", v.AsInt64(), tc.wantStatus)
			}
		})
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	exp := installTracer(t)
	m, _ := newTestMetrics(t)
	h := Middleware(m)(statusMux())

	serve(h, "/readyz", nil)
	serve(h, "/statusz", nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("/readyz span status = %v, want Error", spans[0].Status.Code)
	}
	if spans[1].Status.Code == codes.Error {
		t.Error("/statusz span marked as error")
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	exp := installTracer(t)
	m, _ := newTestMetrics(t)
	h := Middleware(m)(statusMux())

	serve(h, "/statusz", http.Header{
		"Traceparent": {"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
	})

	span := onlySpan(t, exp)
	if got := span.SpanContext.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id = %s, want the caller's", got)
	}
	if got := span.Parent.SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("parent span id = %s, want the caller's", got)
	}
}

func TestMiddleware_PollRoutesLogAtDebug(t *testing.T) {
	tests := []struct {
		path  string
		level string
	}{
		{"/healthz", "level=DEBUG"},
		{"/readyz", "level=DEBUG"},
		{"/statusz", "level=INFO"},
		{"/nope", "level=INFO"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			installTracer(t)
			buf := captureLogs(t)
			m, _ := newTestMetrics(t)

			serve(Middleware(m)(statusMux()), tc.path, nil)

			line := buf.String()
			if !strings.Contains(line, "status server request") || !strings.Contains(line, tc.level) {
				t.Errorf("log = %q, want a %s request line", line, tc.level)
			}
			if !strings.Contains(line, "trace_id=") {
				t.Errorf("log = %q, want trace_id", line)
			}
		})
	}
}
