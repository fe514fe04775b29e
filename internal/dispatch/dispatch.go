// Package dispatch performs single work requests against a backend over REST
// or gRPC and reports how long each one took.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/bffbench/internal/clientmetrics"
	"github.com/torosent/bffbench/internal/config"
	"github.com/torosent/bffbench/internal/tracing"
)

// Config describes the target of every request a Dispatcher sends.
type Config struct {
	Backend         config.Backend
	Protocol        config.Protocol
	PayloadSize     int
	Timeout         time.Duration
	MaxMessageBytes int
	Tracer          trace.Tracer
	// HTTPClient overrides the REST client. Its Timeout is left untouched.
	HTTPClient *http.Client
}

// Outcome is the result of one request. Elapsed covers the round trip only.
type Outcome struct {
	CorrelationID string
	Elapsed       time.Duration
	Succeeded     bool
	Err           error
}

// transport is implemented only by restTransport and grpcTransport.
type transport interface {
	roundTrip(ctx context.Context, correlationID string) ([]attribute.KeyValue, error)
	stats() clientmetrics.Snapshot
	close() error
}

// Dispatcher is safe for concurrent use by many workers.
type Dispatcher struct {
	transport transport
	tracer    trace.Tracer
	timeout   time.Duration
	attrs     []attribute.KeyValue
}

// New validates cfg and builds the transport. No connection is opened yet.
func New(cfg Config) (*Dispatcher, error) {
	var (
		t   transport
		err error
	)
	switch cfg.Protocol {
	case config.ProtocolREST:
		t, err = newRESTTransport(cfg)
	case config.ProtocolGRPC:
		if !cfg.Backend.SupportsGRPC() {
			return nil, fmt.Errorf("gRPC is not supported by backend %s", cfg.Backend.Name)
		}
		t, err = newGRPCTransport(cfg)
	default:
		return nil, fmt.Errorf("unsupported protocol %q", cfg.Protocol)
	}
	if err != nil {
		return nil, err
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/torosent/bffbench/internal/dispatch")
	}
	return &Dispatcher{
		transport: t,
		tracer:    tracer,
		timeout:   cfg.Timeout,
		attrs: []attribute.KeyValue{
			attribute.String("backend", cfg.Backend.Name),
			attribute.String("protocol", string(cfg.Protocol)),
			attribute.Int("payload.size", cfg.PayloadSize),
		},
	}, nil
}

// Dispatch sends one request and waits for it to finish. Failures are
// reported in the Outcome; Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, correlationID string) (out Outcome) {
	out.CorrelationID = correlationID

	attrs := make([]attribute.KeyValue, 0, len(d.attrs)+1)
	attrs = append(attrs, d.attrs...)
	attrs = append(attrs, attribute.String("correlationId", correlationID))
	ctx, span := tracing.StartRequestSpan(ctx, d.tracer, attrs...)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		extra []attribute.KeyValue
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dispatch panic: %v", r)
			}
		}()
		extra, err = d.transport.roundTrip(ctx, correlationID)
	}()
	out.Elapsed = time.Since(start)

	tracing.EndSpan(span, err, extra...)
	out.Succeeded = err == nil
	out.Err = err
	return out
}

// Stats returns wire counters for the underlying transport.
func (d *Dispatcher) Stats() clientmetrics.Snapshot {
	return d.transport.stats()
}

// Close releases the connection pool or gRPC channel.
func (d *Dispatcher) Close() error {
	return d.transport.close()
}

// StatusError reports a non-2xx REST response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Category buckets the failure by status code.
func (e *StatusError) Category() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
