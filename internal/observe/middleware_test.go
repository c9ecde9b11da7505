package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// mwHarness bundles the instrumented middleware with the in-memory metric
// reader and span exporter it reports into.
type mwHarness struct {
	mw     func(http.Handler) http.Handler
	reader *sdkmetric.ManualReader
	spans  *tracetest.InMemoryExporter
}

func newMWHarness(t *testing.T) *mwHarness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return &mwHarness{mw: Middleware(m), reader: reader, spans: exp}
}

// serve runs one request through the middleware and returns the recorder
// plus the correlation ID the wrapped handler observed.
func (h *mwHarness) serve(method, path string, inner http.HandlerFunc, header http.Header) (*httptest.ResponseRecorder, string) {
	var cid string
	handler := h.mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		if inner != nil {
			inner(w, r)
		}
	}))

	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, cid
}

func TestMiddlewareCorrelationID(t *testing.T) {
	h := newMWHarness(t)

	rec, cid := h.serve("GET", "/healthz", nil, nil)

	if len(cid) != 32 {
		t.Errorf("handler saw correlation ID %q, want 32 hex chars", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want the handler's %q", got, cid)
	}
}

func TestMiddlewareAdoptsIncomingTraceContext(t *testing.T) {
	h := newMWHarness(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	hdr := http.Header{}
	hdr.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	rec, cid := h.serve("GET", "/ws", nil, hdr)

	if cid != traceID {
		t.Errorf("correlation ID = %q, want incoming trace ID %q", cid, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddlewareSpans(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		inner      http.HandlerFunc
		wantName   string
		wantStatus int64
	}{
		{
			name:       "upgrade endpoint",
			method:     "GET",
			path:       "/ws",
			inner:      func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusSwitchingProtocols) },
			wantName:   "HTTP GET /ws",
			wantStatus: 101,
		},
		{
			name:       "probe failure",
			method:     "GET",
			path:       "/readyz",
			inner:      func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			wantName:   "HTTP GET /readyz",
			wantStatus: 503,
		},
		{
			name:       "implicit 200 when the handler never writes a header",
			method:     "GET",
			path:       "/metrics",
			inner:      nil,
			wantName:   "HTTP GET /metrics",
			wantStatus: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMWHarness(t)
			h.serve(tt.method, tt.path, tt.inner, nil)

			spans := h.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			span := spans[0]
			if span.Name != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name, tt.wantName)
			}

			var status int64 = -1
			for _, a := range span.Attributes {
				if string(a.Key) == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != tt.wantStatus {
				t.Errorf("http.response.status_code = %d, want %d", status, tt.wantStatus)
			}
		})
	}
}

func TestMiddlewareRequestDuration(t *testing.T) {
	h := newMWHarness(t)
	h.serve("GET", "/ws", nil, nil)

	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	met := findMetric(rm, "vocalink.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric was not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want Histogram[float64]", met.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("recorded %d data points, want 1", len(hist.DataPoints))
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	want := map[string]string{"method": "GET", "path": "/ws"}
	for _, kv := range dp.Attributes.ToSlice() {
		if v, ok := want[string(kv.Key)]; ok && kv.Value.AsString() == v {
			delete(want, string(kv.Key))
		}
	}
	for k, v := range want {
		t.Errorf("data point missing attribute %s=%q", k, v)
	}
}
