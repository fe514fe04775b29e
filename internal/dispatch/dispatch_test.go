package dispatch_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"

	"github.com/torosent/bffbench/internal/config"
	"github.com/torosent/bffbench/internal/dispatch"
	"github.com/torosent/bffbench/internal/metrics"
	"github.com/torosent/bffbench/internal/tracing"
	"github.com/torosent/bffbench/internal/workapi"
)

func setupTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp.Tracer("dispatch-test")
}

func newWorkAPI(t *testing.T) *workapi.Server {
	t.Helper()
	srv, err := workapi.NewServer(workapi.Options{})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}

func startGRPC(t *testing.T, srv *workapi.Server) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	gs := grpc.NewServer(srv.GRPCServerOptions(0)...)
	if err := srv.RegisterGRPC(gs); err != nil {
		t.Fatalf("RegisterGRPC() error = %v", err)
	}
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	return lis.Addr().String()
}

func mustNew(t *testing.T, cfg dispatch.Config) *dispatch.Dispatcher {
	t.Helper()
	d, err := dispatch.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestNewRejectsGRPCWithoutTarget(t *testing.T) {
	_, err := dispatch.New(dispatch.Config{
		Backend:  config.Backend{Name: "framework", RESTURL: "http://localhost:5001"},
		Protocol: config.ProtocolGRPC,
	})
	if err == nil {
		t.Fatal("New() error = nil, want unsupported gRPC error")
	}
	if !strings.Contains(err.Error(), "gRPC is not supported by backend framework") {
		t.Errorf("error = %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  dispatch.Config
	}{
		{"unknown protocol", dispatch.Config{Backend: config.Backend{Name: "x", RESTURL: "http://x"}, Protocol: "soap"}},
		{"relative url", dispatch.Config{Backend: config.Backend{Name: "x", RESTURL: "localhost:5001"}, Protocol: config.ProtocolREST}},
		{"empty url", dispatch.Config{Backend: config.Backend{Name: "x"}, Protocol: config.ProtocolREST}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := dispatch.New(tt.cfg); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestRESTDispatchSuccess(t *testing.T) {
	exporter, tracer := setupTracer(t)
	ts := httptest.NewServer(newWorkAPI(t).Handler())
	defer ts.Close()

	d := mustNew(t, dispatch.Config{
		Backend:     config.Backend{Name: "net10", RESTURL: ts.URL + "/"},
		Protocol:    config.ProtocolREST,
		PayloadSize: 256,
		Timeout:     5 * time.Second,
		Tracer:      tracer,
	})

	out := d.Dispatch(context.Background(), "corr-1")
	if !out.Succeeded || out.Err != nil {
		t.Fatalf("Dispatch() = %+v, want success", out)
	}
	if out.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q", out.CorrelationID)
	}
	if out.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", out.Elapsed)
	}

	stats := d.Stats()
	if stats.Calls != 1 || stats.Failures != 0 || stats.BytesReceived == 0 {
		t.Errorf("Stats() = %+v", stats)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != tracing.RequestSpanName || span.SpanKind != trace.SpanKindClient {
		t.Errorf("span = %s (%v)", span.Name, span.SpanKind)
	}
	attrs := attrMap(span.Attributes)
	want := map[string]string{
		"backend":                   "net10",
		"protocol":                  "rest",
		"payload.size":              "256",
		"correlationId":             "corr-1",
		"http.response.status_code": "200",
		"items.count":               "10",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("span attribute %s = %q, want %q", k, attrs[k], v)
		}
	}
	if span.Status.Code != codes.Ok {
		t.Errorf("span status = %v", span.Status.Code)
	}
}

func TestRESTDispatchPropagatesTraceContext(t *testing.T) {
	_, tracer := setupTracer(t)
	var traceparent atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent.Store(r.Header.Get("traceparent"))
		_, _ = io.WriteString(w, `{"items":[]}`)
	}))
	defer ts.Close()

	d := mustNew(t, dispatch.Config{
		Backend:  config.Backend{Name: "stub", RESTURL: ts.URL},
		Protocol: config.ProtocolREST,
		Tracer:   tracer,
	})
	if out := d.Dispatch(context.Background(), "tp"); !out.Succeeded {
		t.Fatalf("Dispatch() = %+v", out)
	}
	if got, _ := traceparent.Load().(string); got == "" {
		t.Error("traceparent header not sent")
	}
}

func TestRESTDispatchStatusFailure(t *testing.T) {
	exporter, tracer := setupTracer(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("e", 1000), http.StatusInternalServerError)
	}))
	defer ts.Close()

	d := mustNew(t, dispatch.Config{
		Backend:  config.Backend{Name: "stub", RESTURL: ts.URL},
		Protocol: config.ProtocolREST,
		Tracer:   tracer,
	})
	out := d.Dispatch(context.Background(), "fail")
	if out.Succeeded {
		t.Fatal("Dispatch() succeeded on a 500")
	}
	if !dispatch.IsStatus(out.Err, http.StatusInternalServerError) {
		t.Fatalf("Err = %v, want StatusError 500", out.Err)
	}
	var se *dispatch.StatusError
	if errors.As(out.Err, &se) && len(se.Body) > 256 {
		t.Errorf("error body len = %d, want capped at 256", len(se.Body))
	}
	if got := metrics.ErrorCategory(out.Err); got != "HTTP 500" {
		t.Errorf("ErrorCategory() = %q, want HTTP 500", got)
	}
	if d.Stats().Failures != 1 {
		t.Errorf("Stats().Failures = %d, want 1", d.Stats().Failures)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Errorf("want one errored span, got %+v", spans)
	}
}

func TestRESTDispatchTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	d := mustNew(t, dispatch.Config{
		Backend:  config.Backend{Name: "slow", RESTURL: ts.URL},
		Protocol: config.ProtocolREST,
		Timeout:  50 * time.Millisecond,
	})
	out := d.Dispatch(context.Background(), "slow")
	if out.Succeeded {
		t.Fatal("Dispatch() succeeded past the timeout")
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want deadline exceeded", out.Err)
	}
}

func TestRESTDispatchConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	d := mustNew(t, dispatch.Config{
		Backend:  config.Backend{Name: "down", RESTURL: url},
		Protocol: config.ProtocolREST,
		Timeout:  time.Second,
	})
	out := d.Dispatch(context.Background(), "down")
	if out.Succeeded || out.Err == nil {
		t.Fatalf("Dispatch() = %+v, want failure", out)
	}
}

func TestGRPCDispatchSuccess(t *testing.T) {
	exporter, tracer := setupTracer(t)
	target := startGRPC(t, newWorkAPI(t))

	d := mustNew(t, dispatch.Config{
		Backend:     config.Backend{Name: "net10", GRPCTarget: target},
		Protocol:    config.ProtocolGRPC,
		PayloadSize: 4096,
		Timeout:     5 * time.Second,
		Tracer:      tracer,
	})
	out := d.Dispatch(context.Background(), "g-1")
	if !out.Succeeded {
		t.Fatalf("Dispatch() = %+v, want success", out)
	}
	if d.Stats().Calls != 1 {
		t.Errorf("Stats().Calls = %d", d.Stats().Calls)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	attrs := attrMap(spans[0].Attributes)
	if attrs["protocol"] != "grpc" || attrs["rpc.grpc.status_code"] != "OK" || attrs["items.count"] != "128" {
		t.Errorf("span attributes = %v", attrs)
	}
}

func TestGRPCDispatchUnavailable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	target := lis.Addr().String()
	lis.Close()

	d := mustNew(t, dispatch.Config{
		Backend:  config.Backend{Name: "down", GRPCTarget: target},
		Protocol: config.ProtocolGRPC,
		Timeout:  2 * time.Second,
	})
	out := d.Dispatch(context.Background(), "g-down")
	if out.Succeeded {
		t.Fatal("Dispatch() succeeded against a closed port")
	}
	var rpcErr *dispatch.RPCError
	if !errors.As(out.Err, &rpcErr) {
		t.Fatalf("Err = %T %v, want *RPCError", out.Err, out.Err)
	}
	if rpcErr.Code != grpccodes.Unavailable && rpcErr.Code != grpccodes.DeadlineExceeded {
		t.Errorf("Code = %v", rpcErr.Code)
	}
	if !strings.HasPrefix(metrics.ErrorCategory(out.Err), "gRPC ") {
		t.Errorf("ErrorCategory() = %q", metrics.ErrorCategory(out.Err))
	}
}

func TestDispatchConcurrent(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"items":["a"]}`)
	}))
	defer ts.Close()

	d := mustNew(t, dispatch.Config{
		Backend:  config.Backend{Name: "stub", RESTURL: ts.URL},
		Protocol: config.ProtocolREST,
	})

	done := make(chan dispatch.Outcome)
	for i := 0; i < 20; i++ {
		go func() { done <- d.Dispatch(context.Background(), "c") }()
	}
	for i := 0; i < 20; i++ {
		if out := <-done; !out.Succeeded {
			t.Errorf("Dispatch() = %+v", out)
		}
	}
	if hits.Load() != 20 || d.Stats().Calls != 20 {
		t.Errorf("hits = %d, calls = %d, want 20", hits.Load(), d.Stats().Calls)
	}
}

func attrMap(kvs []attribute.KeyValue) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}
