package grpcclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const echoMethod = "/test.Echo/Say"

// startEchoServer serves test.Echo/Say, which echoes the request string
// prefixed by the "x-prefix" metadata value. A request of "fail" returns
// Unavailable.
func startEchoServer(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := grpc.NewServer()
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: "test.Echo",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Say",
			Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(wrapperspb.StringValue)
				if err := dec(in); err != nil {
					return nil, err
				}
				if in.GetValue() == "fail" {
					return nil, status.Error(codes.Unavailable, "induced failure")
				}
				prefix := ""
				if md, ok := metadata.FromIncomingContext(ctx); ok {
					if vals := md.Get("x-prefix"); len(vals) > 0 {
						prefix = vals[0]
					}
				}
				return wrapperspb.String(prefix + in.GetValue()), nil
			},
		}},
	}, struct{}{})
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)
	return lis.Addr().String()
}

func TestDialRequiresTarget(t *testing.T) {
	if _, err := Dial(Config{}); err == nil {
		t.Fatal("expected error for empty target")
	}
}

func TestNewClientDoesNotConnectEagerly(t *testing.T) {
	client, err := NewClient(Config{Target: "localhost:1"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()
	if client.Target() != "localhost:1" {
		t.Errorf("Target() = %q", client.Target())
	}
	if client.LastStatus() != "UNSET" {
		t.Errorf("LastStatus() = %q, want UNSET", client.LastStatus())
	}
}

func TestClientInvokeWithMetadata(t *testing.T) {
	addr := startEchoServer(t)
	client, err := NewClient(Config{Target: addr})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := new(wrapperspb.StringValue)
	md := metadata.Pairs("x-prefix", "hi-")
	if err := client.Invoke(ctx, echoMethod, md, wrapperspb.String("there"), resp); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if resp.GetValue() != "hi-there" {
		t.Errorf("response = %q, want hi-there", resp.GetValue())
	}
	if client.LastStatus() != codes.OK.String() {
		t.Errorf("LastStatus() = %q, want OK", client.LastStatus())
	}

	snap := client.Metrics()
	if snap.Calls != 1 || snap.Failures != 0 {
		t.Errorf("metrics = %+v", snap)
	}
	if snap.BytesSent == 0 || snap.BytesReceived == 0 {
		t.Errorf("expected byte counters to move, got %+v", snap)
	}
}

func TestClientInvokeStatusError(t *testing.T) {
	addr := startEchoServer(t)
	client, err := NewClient(Config{Target: addr})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = client.Invoke(ctx, echoMethod, nil, wrapperspb.String("fail"), new(wrapperspb.StringValue))
	if err == nil {
		t.Fatal("expected error")
	}
	if status.Code(errors.Unwrap(err)) != codes.Unavailable {
		t.Errorf("status = %v, want Unavailable", status.Code(errors.Unwrap(err)))
	}
	if client.LastStatus() != codes.Unavailable.String() {
		t.Errorf("LastStatus() = %q", client.LastStatus())
	}
	if snap := client.Metrics(); snap.Failures != 1 || snap.BytesReceived != 0 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestClientInvokeNilMessages(t *testing.T) {
	client, err := NewClient(Config{Target: "localhost:1"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	if err := client.Invoke(context.Background(), echoMethod, nil, nil, &emptypb.Empty{}); err == nil {
		t.Error("expected error for nil request")
	}
	if err := client.Invoke(context.Background(), echoMethod, nil, &emptypb.Empty{}, nil); err == nil {
		t.Error("expected error for nil response")
	}
}

func TestClientInvokeAfterClose(t *testing.T) {
	client, err := NewClient(Config{Target: "localhost:1"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	err = client.Invoke(context.Background(), echoMethod, nil, &emptypb.Empty{}, &emptypb.Empty{})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Invoke after Close = %v, want ErrClosed", err)
	}
}

func TestClientConcurrentInvoke(t *testing.T) {
	addr := startEchoServer(t)
	client, err := NewClient(Config{Target: addr})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = client.Invoke(ctx, echoMethod, nil, wrapperspb.String("ping"), new(wrapperspb.StringValue))
			_ = client.Metrics()
			_ = client.LastStatus()
		}()
	}
	wg.Wait()
	if snap := client.Metrics(); snap.Calls != 20 {
		t.Errorf("Calls = %d, want 20", snap.Calls)
	}
}
