package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files, environment and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

const envPrefix = "BFFBENCH"

// Keys that may be supplied as BFFBENCH_* environment variables.
var runEnvKeys = []string{
	"iterations", "concurrency", "backend", "protocol", "payload",
	"duration_seconds", "warmup_seconds", "rate", "timeout", "output",
	"log_errors", "log_level", "progress", "history_file",
}

var telemetryEnvKeys = []string{
	"telemetry.service_name", "telemetry.endpoint", "telemetry.protocol", "telemetry.insecure",
	"telemetry.system_name", "telemetry.system_code", "telemetry.deployment_environment",
	"telemetry.metric_export_interval", "telemetry.console_metrics", "telemetry.runtime_metrics",
	"telemetry.sample_rate",
}

var serverEnvKeys = []string{"rest_addr", "grpc_addr", "log_level"}

func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration sources to produce a Config.
// Precedence, lowest first: built-in defaults, config file, environment, flags.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(os.Stdout, cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}
	flagSet := cmd.Flags()

	configPath := flagSet.Lookup("config").Value.String()
	settings, err := readSettings(configPath, append(append([]string{}, runEnvKeys...), telemetryEnvKeys...))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Iterations:  100,
		Concurrency: 10,
		Backend:     BackendFramework,
		Protocol:    ProtocolREST,
		PayloadSize: 4096,
		Timeout:     30 * time.Second,
		Output:      OutputText,
		LogLevel:    "info",
		ConfigFile:  configPath,
		Backends:    DefaultBackends(),
		Telemetry:   defaultTelemetry("bffrunner"),
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Protocol = Protocol(strings.ToLower(string(cfg.Protocol)))
	cfg.Output = OutputFormat(strings.ToLower(string(cfg.Output)))
	return cfg, nil
}

// LoadServer parses arguments for the work service.
func (Loader) LoadServer(args []string) (*ServerConfig, error) {
	cmd := newServerFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fs := cmd.Flags()
			fs.SetOutput(os.Stdout)
			fs.PrintDefaults()
			return nil, ErrHelpRequested
		}
		return nil, err
	}
	flagSet := cmd.Flags()

	configPath := flagSet.Lookup("config").Value.String()
	settings, err := readSettings(configPath, append(append([]string{}, serverEnvKeys...), telemetryEnvKeys...))
	if err != nil {
		return nil, err
	}

	cfg := &ServerConfig{
		RESTAddr:        "localhost:6001",
		GRPCAddr:        "localhost:6002",
		MaxMessageBytes: DefaultMaxMessageBytes,
		LogLevel:        "info",
		Telemetry:       defaultTelemetry("workapi"),
	}
	if err := applyServerSettings(cfg, settings); err != nil {
		return nil, err
	}
	if err := applyServerFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSettings(configPath string, envKeys []string) (map[string]any, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	return v.AllSettings(), nil
}

// applyConfigSettings applies settings from a config file or environment to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}

	ints := []struct {
		keys []string
		dst  *int
	}{
		{[]string{"iterations"}, &cfg.Iterations},
		{[]string{"concurrency"}, &cfg.Concurrency},
		{[]string{"payload", "payload_size", "payloadsize"}, &cfg.PayloadSize},
		{[]string{"duration_seconds", "durationseconds", "duration-seconds"}, &cfg.DurationSeconds},
		{[]string{"warmup_seconds", "warmupseconds", "warmup-seconds"}, &cfg.WarmupSeconds},
		{[]string{"rate"}, &cfg.Rate},
	}
	for _, item := range ints {
		raw, ok := lookupSetting(settings, item.keys...)
		if !ok {
			continue
		}
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", item.keys[0], err)
		}
		*item.dst = val
	}

	if raw, ok := lookupSetting(settings, "backend"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("backend: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			cfg.Backend = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			cfg.Protocol = Protocol(strings.ToLower(strings.TrimSpace(val)))
		}
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}

	if raw, ok := lookupSetting(settings, "output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			cfg.Output = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
		}
	}

	if raw, ok := lookupSetting(settings, "progress"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("progress: %w", err)
		}
		cfg.Progress = val
	}

	if raw, ok := lookupSetting(settings, "log_errors", "logerrors", "log-errors"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("log_errors: %w", err)
		}
		cfg.LogErrors = val
	}

	if raw, ok := lookupSetting(settings, "log_level", "loglevel", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
		}
	}

	if raw, ok := lookupSetting(settings, "history_file", "historyfile", "history-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("history_file: %w", err)
		}
		cfg.HistoryFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "backends"); ok {
		if err := applyBackendSettings(cfg, raw); err != nil {
			return fmt.Errorf("backends: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "telemetry"); ok {
		if err := applyTelemetrySettings(&cfg.Telemetry, raw); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	return nil
}

// applyBackendSettings merges configured backends over the built-in ones.
func applyBackendSettings(cfg *Config, raw any) error {
	entries, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}
	if cfg.Backends == nil {
		cfg.Backends = map[string]Backend{}
	}
	for name, entry := range entries {
		if name == "" {
			return fmt.Errorf("backend name cannot be empty")
		}
		fields, err := toStringKeyMap(entry)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		b := cfg.Backends[name]
		b.Name = name
		if v, ok := lookupSetting(fields, "rest_url", "resturl", "rest-url"); ok {
			s, err := asString(v)
			if err != nil {
				return fmt.Errorf("%s.rest_url: %w", name, err)
			}
			b.RESTURL = strings.TrimRight(strings.TrimSpace(s), "/")
		}
		if v, ok := lookupSetting(fields, "grpc_target", "grpctarget", "grpc-target"); ok {
			s, err := asString(v)
			if err != nil {
				return fmt.Errorf("%s.grpc_target: %w", name, err)
			}
			b.GRPCTarget = strings.TrimSpace(s)
		}
		if v, ok := lookupSetting(fields, "grpc_tls", "grpctls", "grpc-tls"); ok {
			tls, err := asBool(v)
			if err != nil {
				return fmt.Errorf("%s.grpc_tls: %w", name, err)
			}
			b.GRPCTLS = tls
		}
		cfg.Backends[name] = b
	}
	return nil
}

func applyTelemetrySettings(t *TelemetryConfig, raw any) error {
	fields, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}

	strs := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"service_name", "servicename"}, &t.ServiceName},
		{[]string{"endpoint", "otlp_endpoint"}, &t.Endpoint},
		{[]string{"protocol", "otlp_protocol"}, &t.Protocol},
		{[]string{"system_name", "systemname"}, &t.SystemName},
		{[]string{"system_code", "systemcode"}, &t.SystemCode},
		{[]string{"deployment_environment", "deploymentenvironment"}, &t.DeploymentEnvironment},
	}
	for _, item := range strs {
		raw, ok := lookupSetting(fields, item.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", item.keys[0], err)
		}
		*item.dst = strings.TrimSpace(val)
	}

	bools := []struct {
		keys []string
		dst  *bool
	}{
		{[]string{"insecure"}, &t.Insecure},
		{[]string{"console_metrics", "consolemetrics"}, &t.ConsoleMetrics},
		{[]string{"runtime_metrics", "runtimemetrics", "gc_counters"}, &t.RuntimeMetrics},
	}
	for _, item := range bools {
		raw, ok := lookupSetting(fields, item.keys...)
		if !ok {
			continue
		}
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", item.keys[0], err)
		}
		*item.dst = val
	}

	if raw, ok := lookupSetting(fields, "metric_export_interval", "metricexportinterval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("metric_export_interval: %w", err)
		}
		// Non-positive intervals fall back to the default export cadence.
		if dur > 0 {
			t.MetricExportInterval = dur
		}
	}

	if raw, ok := lookupSetting(fields, "sample_rate", "samplerate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	return nil
}

func applyServerSettings(cfg *ServerConfig, settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}
	if raw, ok := lookupSetting(settings, "rest_addr", "restaddr", "rest-addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("rest_addr: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			cfg.RESTAddr = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(settings, "grpc_addr", "grpcaddr", "grpc-addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("grpc_addr: %w", err)
		}
		cfg.GRPCAddr = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "max_message_bytes", "maxmessagebytes"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("max_message_bytes: %w", err)
		}
		cfg.MaxMessageBytes = val
	}
	if raw, ok := lookupSetting(settings, "log_level", "loglevel", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
		}
	}
	if raw, ok := lookupSetting(settings, "telemetry"); ok {
		if err := applyTelemetrySettings(&cfg.Telemetry, raw); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}
