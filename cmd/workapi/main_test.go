package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/bffbench/internal/config"
	"github.com/torosent/bffbench/internal/workapi"
)

func TestRunHelp(t *testing.T) {
	if err := run([]string{"--help"}); err != nil {
		t.Errorf("run(--help) error = %v", err)
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	if err := run([]string{"--no-such-flag"}); err == nil {
		t.Error("run() error = nil for an unknown flag")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, err := workapi.NewServer(workapi.Options{})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	cfg := &config.ServerConfig{
		RESTAddr:        "127.0.0.1:0",
		GRPCAddr:        "127.0.0.1:0",
		MaxMessageBytes: config.DefaultMaxMessageBytes,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, srv, zap.NewNop()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not return after cancel")
	}
}
