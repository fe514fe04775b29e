package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

type Protocol string

const (
	ProtocolREST Protocol = "rest"
	ProtocolGRPC Protocol = "grpc"
)

type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

const (
	BackendFramework = "framework"
	BackendNet10     = "net10"
)

// Config is the immutable description of one load run.
type Config struct {
	Iterations      int                `mapstructure:"iterations"`
	Concurrency     int                `mapstructure:"concurrency"`
	Backend         string             `mapstructure:"backend"`
	Protocol        Protocol           `mapstructure:"protocol"`
	PayloadSize     int                `mapstructure:"payload"`
	DurationSeconds int                `mapstructure:"duration_seconds"`
	WarmupSeconds   int                `mapstructure:"warmup_seconds"`
	Rate            int                `mapstructure:"rate"`
	Timeout         time.Duration      `mapstructure:"timeout"`
	Output          OutputFormat       `mapstructure:"output"`
	LogErrors       bool               `mapstructure:"log_errors"`
	LogLevel        string             `mapstructure:"log_level"`
	Progress        bool               `mapstructure:"progress"`
	HistoryFile     string             `mapstructure:"history_file"`
	ConfigFile      string             `mapstructure:"-"`
	Backends        map[string]Backend `mapstructure:"backends"`
	Telemetry       TelemetryConfig    `mapstructure:"telemetry"`
}

// Backend names a target deployment and where its endpoints live.
type Backend struct {
	Name       string `mapstructure:"-"`
	RESTURL    string `mapstructure:"rest_url"`
	GRPCTarget string `mapstructure:"grpc_target"`
	GRPCTLS    bool   `mapstructure:"grpc_tls"`
}

// SupportsGRPC reports whether the deployment exposes the gRPC work service.
func (b Backend) SupportsGRPC() bool {
	return strings.TrimSpace(b.GRPCTarget) != ""
}

type TelemetryConfig struct {
	ServiceName           string        `mapstructure:"service_name"`
	Endpoint              string        `mapstructure:"endpoint"`
	Protocol              string        `mapstructure:"protocol"` // "grpc" or "http"
	Insecure              bool          `mapstructure:"insecure"`
	SystemName            string        `mapstructure:"system_name"`
	SystemCode            string        `mapstructure:"system_code"`
	DeploymentEnvironment string        `mapstructure:"deployment_environment"`
	MetricExportInterval  time.Duration `mapstructure:"metric_export_interval"`
	ConsoleMetrics        bool          `mapstructure:"console_metrics"`
	RuntimeMetrics        bool          `mapstructure:"runtime_metrics"`
	SampleRate            float64       `mapstructure:"sample_rate"`
}

// Enabled reports whether any telemetry signal leaves the process.
func (t TelemetryConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || t.ConsoleMetrics || t.RuntimeMetrics
}

func defaultTelemetry(serviceName string) TelemetryConfig {
	return TelemetryConfig{
		ServiceName:           serviceName,
		Protocol:              "http",
		Insecure:              true,
		SystemName:            "OnlineSalesMotorSE",
		SystemCode:            "MOTOR",
		DeploymentEnvironment: "local",
		MetricExportInterval:  5 * time.Second,
		SampleRate:            1.0,
	}
}

// DefaultBackends returns the two deployments known out of the box.
func DefaultBackends() map[string]Backend {
	return map[string]Backend{
		BackendFramework: {Name: BackendFramework, RESTURL: "http://localhost:5001"},
		BackendNet10:     {Name: BackendNet10, RESTURL: "http://localhost:6001", GRPCTarget: "localhost:6002"},
	}
}

// DurationMode reports whether the run is time bounded rather than count bounded.
func (c Config) DurationMode() bool {
	return c.DurationSeconds > 0
}

func (c Config) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

func (c Config) Warmup() time.Duration {
	if c.WarmupSeconds <= 0 {
		return 0
	}
	return time.Duration(c.WarmupSeconds) * time.Second
}

// ResolveBackend looks up the configured backend by name, case-insensitively.
func (c Config) ResolveBackend() (Backend, error) {
	name := strings.ToLower(strings.TrimSpace(c.Backend))
	for key, b := range c.Backends {
		if strings.ToLower(key) == name {
			b.Name = key
			return b, nil
		}
	}
	return Backend{}, fmt.Errorf("unknown backend %q (known: %s)", c.Backend, strings.Join(c.backendNames(), ", "))
}

func (c Config) backendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.Concurrency < 1 {
		issues = append(issues, "concurrency must be >= 1")
	}
	if c.DurationSeconds < 0 {
		issues = append(issues, "durationSeconds must be >= 0")
	}
	if c.DurationMode() {
		if c.WarmupSeconds < 0 {
			issues = append(issues, "warmupSeconds must be >= 0")
		}
	} else if c.Iterations < 1 {
		issues = append(issues, "iterations must be >= 1")
	}
	if c.PayloadSize < 0 {
		issues = append(issues, "payload must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}

	switch c.Protocol {
	case ProtocolREST, ProtocolGRPC:
	default:
		issues = append(issues, fmt.Sprintf("protocol %q is not supported (use rest or grpc)", c.Protocol))
	}

	switch c.Output {
	case OutputText, OutputJSON, OutputYAML:
	default:
		issues = append(issues, fmt.Sprintf("output %q is not supported (use text, json or yaml)", c.Output))
	}

	backend, err := c.ResolveBackend()
	if err != nil {
		issues = append(issues, err.Error())
	} else {
		issues = append(issues, validateBackend(backend, c.Protocol)...)
	}

	issues = append(issues, validateTelemetry(c.Telemetry)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings lists settings that are valid but deserve the operator's attention.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Rate > 1000 {
		warnings = append(warnings, fmt.Sprintf("High rate limit configured (%d RPS). Ensure you have authorization to test the target system.", c.Rate))
	}
	if c.Concurrency > 500 {
		warnings = append(warnings, fmt.Sprintf("High concurrency configured (%d workers). Ensure you have authorization to test the target system.", c.Concurrency))
	}
	return warnings
}

func validateBackend(b Backend, protocol Protocol) []string {
	var issues []string
	switch protocol {
	case ProtocolREST:
		u, err := url.Parse(strings.TrimSpace(b.RESTURL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, fmt.Sprintf("backend %s: rest_url %q must be an absolute URL", b.Name, b.RESTURL))
		}
	case ProtocolGRPC:
		if !b.SupportsGRPC() {
			issues = append(issues, fmt.Sprintf("gRPC is not supported by backend %s (no grpc_target configured)", b.Name))
		}
	}
	return issues
}

func validateTelemetry(t TelemetryConfig) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("telemetry protocol %q is not supported (use grpc or http)", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("telemetry sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	if t.MetricExportInterval < 0 {
		issues = append(issues, "telemetry metric_export_interval must be >= 0")
	}
	return issues
}
