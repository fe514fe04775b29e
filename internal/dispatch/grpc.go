package dispatch

import (
	"context"
	"fmt"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"

	"github.com/torosent/bffbench/internal/clientmetrics"
	"github.com/torosent/bffbench/internal/grpcclient"
	"github.com/torosent/bffbench/internal/tracing"
	"github.com/torosent/bffbench/internal/workproto"
)

type grpcTransport struct {
	client      *grpcclient.Client
	method      *desc.MethodDescriptor
	payloadSize int
}

func newGRPCTransport(cfg Config) (*grpcTransport, error) {
	method, err := workproto.GetWork()
	if err != nil {
		return nil, err
	}
	client, err := grpcclient.NewClient(grpcclient.Config{
		Target:          cfg.Backend.GRPCTarget,
		UseTLS:          cfg.Backend.GRPCTLS,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", cfg.Backend.Name, err)
	}
	return &grpcTransport{client: client, method: method, payloadSize: cfg.PayloadSize}, nil
}

func (t *grpcTransport) roundTrip(ctx context.Context, correlationID string) ([]attribute.KeyValue, error) {
	req, err := workproto.Request{PayloadSize: t.payloadSize, CorrelationID: correlationID}.Message(t.method)
	if err != nil {
		return nil, err
	}
	resp := dynamic.NewMessage(t.method.GetOutputType())

	md := metadata.MD{}
	tracing.InjectGRPCMetadata(ctx, md)

	err = t.client.Invoke(ctx, workproto.FullMethod, md, protoadapt.MessageV2Of(req), protoadapt.MessageV2Of(resp))
	if err != nil {
		code := status.Code(err)
		return []attribute.KeyValue{attribute.String("rpc.grpc.status_code", code.String())}, &RPCError{Code: code, Err: err}
	}

	work, err := workproto.ResponseFromMessage(resp)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return []attribute.KeyValue{
		attribute.String("rpc.grpc.status_code", codes.OK.String()),
		attribute.Int("items.count", len(work.Items)),
	}, nil
}

func (t *grpcTransport) stats() clientmetrics.Snapshot {
	return t.client.Metrics()
}

func (t *grpcTransport) close() error {
	return t.client.Close()
}

// RPCError reports a failed gRPC call with its status code.
type RPCError struct {
	Code codes.Code
	Err  error
}

func (e *RPCError) Error() string { return e.Err.Error() }

func (e *RPCError) Unwrap() error { return e.Err }

// Category buckets the failure by gRPC status code.
func (e *RPCError) Category() string {
	return "gRPC " + e.Code.String()
}
