package tracing

import (
	"context"
	"maps"
	"net/http"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

// RequestSpanName names the client span wrapped around every work request.
const RequestSpanName = "BffRequest"

func start(ctx context.Context, tracer trace.Tracer, name string, kind trace.SpanKind, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// StartRequestSpan opens the client span for one outgoing work request.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, tracer, RequestSpanName, trace.SpanKindClient, attrs)
}

// StartServerSpan opens a server span. Its parent is the remote span context
// already extracted into ctx, when there is one.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, tracer, name, trace.SpanKindServer, attrs)
}

// EndSpan sets the final attributes and status, then ends the span.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	switch err {
	case nil:
		span.SetStatus(codes.Ok, "")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

func ExtractHTTPHeaders(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// mdCarrier lets the propagator read and write gRPC metadata.
type mdCarrier metadata.MD

func (c mdCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c mdCarrier) Set(key, value string) { metadata.MD(c).Set(key, value) }

func (c mdCarrier) Keys() []string { return slices.Collect(maps.Keys(c)) }

// InjectGRPCMetadata writes the W3C trace context of ctx into md.
func InjectGRPCMetadata(ctx context.Context, md metadata.MD) {
	otel.GetTextMapPropagator().Inject(ctx, mdCarrier(md))
}

// ExtractGRPCMetadata picks up a remote span context from incoming metadata.
func ExtractGRPCMetadata(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, mdCarrier(md))
}
