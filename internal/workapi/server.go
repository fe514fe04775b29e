// Package workapi is a reference target for load runs: it serves the work
// endpoint over REST and gRPC with server spans and request metrics.
package workapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/bffbench/internal/grpcclient"
	"github.com/torosent/bffbench/internal/httpclient"
	"github.com/torosent/bffbench/internal/tracing"
	"github.com/torosent/bffbench/internal/workproto"
)

const (
	instrumentationName = "github.com/torosent/bffbench/internal/workapi"
	banner              = "workapi running. Use /api/work or gRPC WorkService.GetWork."
	maxRequestBody      = 1 << 20

	// responseHeadroom leaves room for items and metadata next to the
	// payload string inside one message.
	responseHeadroom = 64 << 10
)

// ErrPayloadTooLarge rejects payload sizes whose response would not fit in
// one message.
var ErrPayloadTooLarge = errors.New("payloadSize exceeds the server limit")

// Options configures a Server. Zero values fall back to the global OTel
// providers and a no-op logger.
type Options struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger *zap.Logger
	Now    func() time.Time
	// MaxMessageBytes caps response messages; payload sizes are bounded to
	// fit. Zero means grpcclient.DefaultMaxMessageBytes.
	MaxMessageBytes int
}

// Server implements both transports on top of the same generator.
type Server struct {
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
	maxSize  int
	latency  metric.Float64Histogram
	requests metric.Int64Counter
}

func NewServer(opts Options) (*Server, error) {
	s := &Server{
		tracer: opts.Tracer,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(instrumentationName)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	limit := opts.MaxMessageBytes
	if limit <= 0 {
		limit = grpcclient.DefaultMaxMessageBytes
	}
	s.maxSize = max(0, limit-responseHeadroom)
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	var err error
	s.latency, err = meter.Float64Histogram("api.request_latency_ms",
		metric.WithDescription("Server-side request latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}
	s.requests, err = meter.Int64Counter("api.request_count",
		metric.WithDescription("Requests handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	return s, nil
}

// Handler returns the REST mux wrapped in the server span middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+httpclient.WorkPath, s.handleWork)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, banner)
	})
	return s.middleware(mux)
}

func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	var req workproto.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid work request: "+err.Error(), http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("correlationId", req.CorrelationID),
		attribute.Int("payload.size", req.PayloadSize),
	)

	if err := s.checkSize(req.PayloadSize); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := s.generate(r.Context(), req.PayloadSize)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("write work response", zap.String("correlationId", req.CorrelationID), zap.Error(err))
	}
}

// MaxPayloadSize is the largest payloadSize the server will generate.
func (s *Server) MaxPayloadSize() int {
	return s.maxSize
}

func (s *Server) checkSize(size int) error {
	if size > s.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, size, s.maxSize)
	}
	return nil
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// middleware joins the caller's trace, opens a server span and records
// request latency and count tagged by method and status code.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := tracing.ExtractHTTPHeaders(r.Context(), r.Header)
		ctx, span := tracing.StartServerSpan(ctx, s.tracer, "HTTP "+r.Method,
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		span.End()

		s.observe(r.Context(), r.Method, strconv.Itoa(rec.status), time.Since(start))
	})
}

func (s *Server) observe(ctx context.Context, method, statusCode string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status_code", statusCode),
	)
	s.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	s.requests.Add(ctx, 1, attrs)
	s.logger.Debug("request served",
		zap.String("method", method),
		zap.String("status_code", statusCode),
		zap.Duration("elapsed", elapsed),
	)
}
