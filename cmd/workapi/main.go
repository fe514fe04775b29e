package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/torosent/bffbench/internal/config"
	"github.com/torosent/bffbench/internal/logging"
	"github.com/torosent/bffbench/internal/tracing"
	"github.com/torosent/bffbench/internal/workapi"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.NewLoader().LoadServer(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	telemetry, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	srv, err := workapi.NewServer(workapi.Options{
		Tracer: telemetry.Tracer(),
		Meter:  telemetry.Meter(),
		Logger: logger,

		MaxMessageBytes: cfg.MaxMessageBytes,
	})
	if err != nil {
		return err
	}
	return serve(ctx, cfg, srv, logger)
}

// serve runs the REST listener and, when configured, the gRPC listener until
// ctx is cancelled or either one fails.
func serve(ctx context.Context, cfg *config.ServerConfig, srv *workapi.Server, logger *zap.Logger) error {
	httpServer := &http.Server{
		Addr:              cfg.RESTAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcServer *grpc.Server
	var grpcListener net.Listener
	if cfg.GRPCAddr != "" {
		grpcServer = grpc.NewServer(srv.GRPCServerOptions(cfg.MaxMessageBytes)...)
		if err := srv.RegisterGRPC(grpcServer); err != nil {
			return err
		}
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
		}
		grpcListener = lis
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("REST listening", zap.String("addr", cfg.RESTAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rest server: %w", err)
		}
		return nil
	})
	if grpcServer != nil {
		g.Go(func() error {
			logger.Info("gRPC listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(grpcListener); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
