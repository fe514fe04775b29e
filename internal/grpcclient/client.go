// Package grpcclient wraps a shared gRPC connection for unary work calls.
package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/torosent/bffbench/internal/clientmetrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// DefaultMaxMessageBytes bounds request and response messages.
const DefaultMaxMessageBytes = 50 * 1024 * 1024

// ErrClosed is returned by Invoke after Close.
var ErrClosed = errors.New("grpc client closed")

type Config struct {
	Target          string
	UseTLS          bool
	MaxMessageBytes int
}

// Client issues unary calls over one connection. It is safe for concurrent use.
type Client struct {
	target     string
	conn       atomic.Pointer[grpc.ClientConn]
	metrics    *clientmetrics.ClientMetrics
	lastStatus atomic.Value // string
}

// Dial builds a lazily connecting client connection; it never blocks.
func Dial(cfg Config) (*grpc.ClientConn, error) {
	if cfg.Target == "" {
		return nil, errors.New("grpc target is required")
	}
	limit := cfg.MaxMessageBytes
	if limit <= 0 {
		limit = DefaultMaxMessageBytes
	}
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewClientTLSFromCert(nil, "")
	}
	return grpc.NewClient(cfg.Target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(limit), grpc.MaxCallSendMsgSize(limit)),
	)
}

func NewClient(cfg Config) (*Client, error) {
	conn, err := Dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", cfg.Target, err)
	}
	return NewClientWithConn(conn, cfg.Target), nil
}

// NewClientWithConn takes ownership of conn; Close closes it.
func NewClientWithConn(conn *grpc.ClientConn, target string) *Client {
	c := &Client{target: target, metrics: clientmetrics.New()}
	c.conn.Store(conn)
	c.lastStatus.Store("UNSET")
	return c
}

// Invoke performs one unary call, attaching md as outgoing metadata when set.
func (c *Client) Invoke(ctx context.Context, fullMethod string, md metadata.MD, req, resp proto.Message) error {
	switch {
	case req == nil:
		return errors.New("request cannot be nil")
	case resp == nil:
		return errors.New("response cannot be nil")
	}
	conn := c.conn.Load()
	if conn == nil {
		return ErrClosed
	}
	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	err := conn.Invoke(ctx, fullMethod, req, resp)
	c.lastStatus.Store(status.Code(err).String())
	if err != nil {
		c.metrics.ObserveCall(int64(proto.Size(req)), 0, true)
		return fmt.Errorf("RPC call failed: %w", err)
	}
	c.metrics.ObserveCall(int64(proto.Size(req)), int64(proto.Size(resp)), false)
	return nil
}

// Close releases the connection. Later calls return nil.
func (c *Client) Close() error {
	if conn := c.conn.Swap(nil); conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) Target() string { return c.target }

// LastStatus returns the status code name of the most recent call.
func (c *Client) LastStatus() string { return c.lastStatus.Load().(string) }

func (c *Client) Metrics() clientmetrics.Snapshot { return c.metrics.Snapshot() }
