package config

import (
	"fmt"
	"strings"
)

// DefaultMaxMessageBytes bounds gRPC messages in both directions.
const DefaultMaxMessageBytes = 50 * 1024 * 1024

// ServerConfig configures the work service binary.
type ServerConfig struct {
	RESTAddr        string          `mapstructure:"rest_addr"`
	GRPCAddr        string          `mapstructure:"grpc_addr"` // empty disables gRPC
	MaxMessageBytes int             `mapstructure:"max_message_bytes"`
	LogLevel        string          `mapstructure:"log_level"`
	Telemetry       TelemetryConfig `mapstructure:"telemetry"`
}

func (c ServerConfig) Validate() error {
	var issues []string
	if strings.TrimSpace(c.RESTAddr) == "" {
		issues = append(issues, "rest_addr is required")
	}
	if c.MaxMessageBytes <= 0 {
		issues = append(issues, fmt.Sprintf("max_message_bytes must be > 0, got %d", c.MaxMessageBytes))
	}
	issues = append(issues, validateTelemetry(c.Telemetry)...)
	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
