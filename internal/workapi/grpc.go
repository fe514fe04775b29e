package workapi

import (
	"context"
	"fmt"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/torosent/bffbench/internal/tracing"
	"github.com/torosent/bffbench/internal/workproto"
)

type workService interface{}

type workHandler struct{}

// GRPCServerOptions returns the options a grpc.Server needs to host the work
// service: message size limits and the tracing/metrics interceptor.
func (s *Server) GRPCServerOptions(maxMessageBytes int) []grpc.ServerOption {
	opts := []grpc.ServerOption{grpc.UnaryInterceptor(s.unaryInterceptor)}
	if maxMessageBytes > 0 {
		opts = append(opts,
			grpc.MaxRecvMsgSize(maxMessageBytes),
			grpc.MaxSendMsgSize(maxMessageBytes),
		)
	}
	return opts
}

// RegisterGRPC registers WorkService on server using dynamic messages built
// from the embedded descriptor.
func (s *Server) RegisterGRPC(server *grpc.Server) error {
	svc, err := workproto.Service()
	if err != nil {
		return err
	}

	serviceDesc := grpc.ServiceDesc{
		ServiceName: svc.GetFullyQualifiedName(),
		HandlerType: (*workService)(nil),
		Metadata:    svc.GetFile().GetName(),
	}
	for _, method := range svc.GetMethods() {
		m := method
		serviceDesc.Methods = append(serviceDesc.Methods, grpc.MethodDesc{
			MethodName: m.GetName(),
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := dynamic.NewMessage(m.GetInputType())
				if err := dec(req); err != nil {
					return nil, err
				}
				invoke := func(ctx context.Context, req interface{}) (interface{}, error) {
					return s.respond(ctx, m, req.(*dynamic.Message))
				}
				if interceptor == nil {
					return invoke(ctx, req)
				}
				info := &grpc.UnaryServerInfo{
					Server:     srv,
					FullMethod: fmt.Sprintf("/%s/%s", svc.GetFullyQualifiedName(), m.GetName()),
				}
				return interceptor(ctx, req, info, invoke)
			},
		})
	}

	server.RegisterService(&serviceDesc, &workHandler{})
	return nil
}

func (s *Server) respond(ctx context.Context, method *desc.MethodDescriptor, msg *dynamic.Message) (*dynamic.Message, error) {
	if method.GetName() != workproto.MethodName {
		return nil, status.Errorf(codes.Unimplemented, "method %s not supported", method.GetFullyQualifiedName())
	}
	req, err := workproto.RequestFromMessage(msg)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("correlationId", req.CorrelationID),
		attribute.Int("payload.size", req.PayloadSize),
	)

	if err := s.checkSize(req.PayloadSize); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp, err := s.generate(ctx, req.PayloadSize).Message(method)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return resp, nil
}

// unaryInterceptor is the gRPC counterpart of the REST middleware.
func (s *Server) unaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	ctx = tracing.ExtractGRPCMetadata(ctx)
	ctx, span := tracing.StartServerSpan(ctx, s.tracer, info.FullMethod,
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.method", info.FullMethod),
	)

	resp, err := handler(ctx, req)
	code := status.Code(err)
	tracing.EndSpan(span, err, attribute.String("rpc.grpc.status_code", code.String()))

	s.observe(ctx, info.FullMethod, code.String(), time.Since(start))
	if err != nil {
		s.logger.Debug("grpc call failed", zap.String("method", info.FullMethod), zap.Error(err))
	}
	return resp, err
}
