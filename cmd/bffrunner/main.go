package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/torosent/bffbench/internal/config"
	"github.com/torosent/bffbench/internal/dispatch"
	"github.com/torosent/bffbench/internal/grpcclient"
	"github.com/torosent/bffbench/internal/logging"
	"github.com/torosent/bffbench/internal/metrics"
	"github.com/torosent/bffbench/internal/output"
	"github.com/torosent/bffbench/internal/runner"
	"github.com/torosent/bffbench/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

// usageError marks failures that should be followed by the usage text.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	err := execute(args, stdout, stderr)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	var ue usageError
	if errors.As(err, &ue) {
		config.PrintUsage(stderr)
	}
	return 1
}

func execute(args []string, stdout, stderr io.Writer) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return usageError{err}
	}
	if err := cfg.Validate(); err != nil {
		return usageError{err}
	}
	backend, err := cfg.ResolveBackend()
	if err != nil {
		return usageError{err}
	}
	cfg.Backend = backend.Name

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return usageError{err}
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

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

	collectorOpts := []metrics.Option{}
	if !cfg.DurationMode() {
		collectorOpts = append(collectorOpts, metrics.WithCapacity(cfg.Iterations))
	}
	if telemetry.Enabled() {
		hist, err := metrics.NewLatencyHistogram(telemetry.Meter())
		if err != nil {
			return err
		}
		collectorOpts = append(collectorOpts, metrics.WithLatencyHistogram(hist,
			attribute.String("backend", backend.Name),
			attribute.String("protocol", string(cfg.Protocol)),
		))
	}
	collector := metrics.NewCollector(collectorOpts...)

	dispatcher, err := dispatch.New(dispatch.Config{
		Backend:         backend,
		Protocol:        cfg.Protocol,
		PayloadSize:     cfg.PayloadSize,
		Timeout:         cfg.Timeout,
		MaxMessageBytes: grpcclient.DefaultMaxMessageBytes,
		Tracer:          telemetry.Tracer(),
	})
	if err != nil {
		return usageError{err}
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Debug("close dispatcher", zap.Error(err))
		}
	}()

	opts := runner.Options{
		Concurrency:   cfg.Concurrency,
		Iterations:    cfg.Iterations,
		Duration:      cfg.Duration(),
		Warmup:        cfg.Warmup(),
		RatePerSecond: cfg.Rate,
		Dispatcher:    dispatcher,
		Collector:     collector,
		Logger:        logger,
	}
	if cfg.LogErrors {
		opts.FailureLogger = runner.NewZapFailureLogger(logger)
	}
	r, err := runner.New(opts)
	if err != nil {
		return err
	}

	logger.Debug("run starting",
		zap.String("backend", backend.Name),
		zap.String("protocol", string(cfg.Protocol)),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Bool("durationMode", cfg.DurationMode()),
	)

	var progress *output.ProgressReporter
	if cfg.Progress {
		progress = output.NewProgressReporter(collector, progressInterval, stderr)
		progress.Start()
	}
	result, err := r.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	stats := dispatcher.Stats()
	logger.Debug("run finished",
		zap.Int64("calls", stats.Calls),
		zap.Int64("bytesSent", stats.BytesSent),
		zap.Int64("bytesReceived", stats.BytesReceived),
	)

	report := output.NewReport(*cfg, result)
	if err := output.Print(stdout, cfg.Output, *cfg, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if cfg.HistoryFile != "" {
		if err := output.AppendHistory(cfg.HistoryFile, report, time.Now()); err != nil {
			logger.Warn("append history failed", zap.String("path", cfg.HistoryFile), zap.Error(err))
		}
	}
	return nil
}
