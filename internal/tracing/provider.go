// Package tracing provides OpenTelemetry initialization and W3C trace context propagation.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/bffbench/internal/config"
)

const instrumentationName = "github.com/torosent/bffbench"

// Provider owns the trace and meter providers for one process.
type Provider struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer trace.Tracer
	meter  metric.Meter
}

// Init builds exporters from cfg. With no endpoint and no local metric sink
// it returns a provider whose tracer and meter are no-ops.
func Init(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	serviceName := cfg.ServiceName
	if envName := os.Getenv("OTEL_SERVICE_NAME"); serviceName == "" && envName != "" {
		serviceName = envName
	}
	if serviceName == "" {
		serviceName = "bffbench"
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	if endpoint == "" && !cfg.ConsoleMetrics && !cfg.RuntimeMetrics {
		return &Provider{}, nil
	}

	if cfg.SampleRate < 0 || cfg.SampleRate > 1.0 {
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", cfg.SampleRate)
	}
	protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	if protocol == "" {
		protocol = "http"
	}
	if protocol != "grpc" && protocol != "http" {
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", cfg.Protocol)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("system.name", cfg.SystemName),
			attribute.String("system.code", cfg.SystemCode),
			attribute.String("deployment.environment", cfg.DeploymentEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	p := &Provider{}
	host := endpointHost(endpoint)

	if host != "" {
		exporter, err := newSpanExporter(ctx, protocol, host, cfg.Insecure)
		if err != nil {
			return nil, fmt.Errorf("tracing exporter: %w", err)
		}
		p.tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
		)
		otel.SetTracerProvider(p.tp)
		p.tracer = p.tp.Tracer(instrumentationName)
	}

	interval := cfg.MetricExportInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if host != "" {
		exporter, err := newMetricExporter(ctx, protocol, host, cfg.Insecure)
		if err != nil {
			p.shutdownTraces(ctx)
			return nil, fmt.Errorf("metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))))
	}
	if cfg.ConsoleMetrics {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr), stdoutmetric.WithPrettyPrint())
		if err != nil {
			p.shutdownTraces(ctx)
			return nil, fmt.Errorf("console metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))))
	}
	p.mp = sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetMeterProvider(p.mp)
	p.meter = p.mp.Meter(instrumentationName)

	if cfg.RuntimeMetrics {
		if err := otelruntime.Start(otelruntime.WithMeterProvider(p.mp)); err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("runtime metrics: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return p, nil
}

// Tracer returns the configured tracer. Returns a no-op tracer if tracing is disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter. Returns a no-op meter if metrics are disabled.
func (p *Provider) Meter() metric.Meter {
	if p == nil || p.meter == nil {
		return metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	return p.meter
}

// Enabled reports whether any exporter is installed.
func (p *Provider) Enabled() bool {
	return p != nil && (p.tp != nil || p.mp != nil)
}

// Shutdown flushes pending spans and metrics and shuts down both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	if p.mp != nil {
		errs = append(errs, p.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (p *Provider) shutdownTraces(ctx context.Context) {
	if p.tp != nil {
		_ = p.tp.Shutdown(ctx)
	}
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate == 0:
		return sdktrace.NeverSample()
	case rate < 1.0:
		return sdktrace.TraceIDRatioBased(rate)
	default:
		return sdktrace.AlwaysSample()
	}
}

// endpointHost accepts either host:port or a URL and returns host:port.
func endpointHost(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	if u, err := url.Parse(endpoint); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return u.Host
	}
	return endpoint
}

func newSpanExporter(ctx context.Context, protocol, host string, insecureConn bool) (sdktrace.SpanExporter, error) {
	if protocol == "grpc" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(host)}
		if insecureConn {
			opts = append(opts,
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
				otlptracegrpc.WithInsecure(),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(host)}
	if insecureConn {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

func newMetricExporter(ctx context.Context, protocol, host string, insecureConn bool) (sdkmetric.Exporter, error) {
	if protocol == "grpc" {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(host)}
		if insecureConn {
			opts = append(opts,
				otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
				otlpmetricgrpc.WithInsecure(),
			)
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecureConn {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}
