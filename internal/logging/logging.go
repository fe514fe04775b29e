// Package logging builds the zap loggers used by both binaries.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production JSON logger writing to stderr at level.
func New(level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return NewWithSink(lvl, zapcore.Lock(os.Stderr)), nil
}

// NewWithSink is New with an explicit destination.
func NewWithSink(level zapcore.Level, sink zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level)
	return zap.New(core, zap.AddCaller())
}

// ParseLevel accepts debug, info, warn or error. An empty string means info.
func ParseLevel(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log level %q is not supported (use debug, info, warn or error)", level)
	}
	return lvl, nil
}
