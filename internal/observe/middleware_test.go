package observe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// middlewareSetup returns metrics backed by a manual reader and installs an
// in-memory tracer.
func middlewareSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader, useTracer(t)
}

// sessionMux mimics the gateway's routes.
func sessionMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions/{id}/transcript", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	return mux
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := middlewareSetup(t)

	var captured string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/sessions", nil))

	if len(captured) != 32 {
		t.Fatalf("correlation ID %q, want a 32-char trace ID", captured)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != captured {
		t.Errorf("X-Correlation-ID = %q, want %q", got, captured)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	m, _, _ := middlewareSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var captured string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))
	req := httptest.NewRequest("POST", "/v1/chat", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if captured != traceID {
		t.Errorf("correlation ID = %q, want %q", captured, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	m, _, exp := middlewareSetup(t)
	h := Middleware(m)(sessionMux())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/sessions/abc/transcript", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nowhere", nil))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	want := []struct {
		name   string
		status int64
	}{
		{"HTTP GET /v1/sessions/{id}/transcript", 200},
		{"HTTP GET unmatched", 404},
	}
	for i, w := range want {
		if spans[i].Name != w.name {
			t.Errorf("span %d name = %q, want %q", i, spans[i].Name, w.name)
		}
		var status int64
		for _, a := range spans[i].Attributes {
			if a.Key == "http.response.status_code" {
				status = a.Value.AsInt64()
			}
		}
		if status != w.status {
			t.Errorf("span %d status = %d, want %d", i, status, w.status)
		}
	}
}

func TestMiddleware_RecordsDurationPerRoute(t *testing.T) {
	m, reader, _ := middlewareSetup(t)
	h := Middleware(m)(sessionMux())

	for _, id := range []string{"a", "b", "c"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/sessions/"+id+"/transcript", nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/chat", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "aura.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		rt, _ := dp.Attributes.Value(attribute.Key("route"))
		st, _ := dp.Attributes.Value(attribute.Key("status"))
		counts[rt.AsString()+" "+st.Emit()] += dp.Count
	}
	if got := counts["/v1/sessions/{id}/transcript 200"]; got != 3 {
		t.Errorf("transcript route count = %d, want 3 (series: %v)", got, counts)
	}
	if got := counts["/v1/chat 502"]; got != 1 {
		t.Errorf("chat route count = %d, want 1 (series: %v)", got, counts)
	}
	if len(counts) != 2 {
		t.Errorf("got %d series, want 2: %v", len(counts), counts)
	}
}

func TestMiddleware_UnwrapReachesUnderlyingWriter(t *testing.T) {
	m, _, _ := middlewareSetup(t)

	var flushErr error
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial"))
		flushErr = http.NewResponseController(w).Flush()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/voice", nil))

	if flushErr != nil {
		t.Fatalf("Flush through middleware: %v", flushErr)
	}
	if !rec.Flushed {
		t.Error("underlying recorder was not flushed")
	}
}

func TestMiddleware_ExposesHijacker(t *testing.T) {
	m, _, _ := middlewareSetup(t)

	var (
		isHijacker bool
		hijackErr  error
	)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		isHijacker = ok
		if ok {
			_, _, hijackErr = hj.Hijack()
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/voice", nil))

	if !isHijacker {
		t.Fatal("wrapped writer does not implement http.Hijacker")
	}
	// httptest.ResponseRecorder cannot be hijacked.
	if !errors.Is(hijackErr, http.ErrNotSupported) {
		t.Errorf("Hijack error = %v, want http.ErrNotSupported", hijackErr)
	}
}

func TestRoute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pattern string
		want    string
	}{
		{"", unmatchedRoute},
		{"GET /v1/voice", "/v1/voice"},
		{"/metrics", "/metrics"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.Pattern = tt.pattern
		if got := route(r); got != tt.want {
			t.Errorf("route(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}
