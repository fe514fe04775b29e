package runner

import (
	"go.uber.org/zap"

	"github.com/torosent/bffbench/internal/dispatch"
)

// FailureLogger logs failed requests.
type FailureLogger interface {
	LogFailure(out dispatch.Outcome)
}

type zapFailureLogger struct {
	logger *zap.Logger
}

// NewZapFailureLogger logs each failure at warn level on logger.
func NewZapFailureLogger(logger *zap.Logger) FailureLogger {
	if logger == nil {
		return nil
	}
	return &zapFailureLogger{logger: logger}
}

func (l *zapFailureLogger) LogFailure(out dispatch.Outcome) {
	l.logger.Warn("request failed",
		zap.String("correlationId", out.CorrelationID),
		zap.Duration("elapsed", out.Elapsed),
		zap.Error(out.Err),
	)
}
