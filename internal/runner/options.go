package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/bffbench/internal/dispatch"
	"github.com/torosent/bffbench/internal/metrics"
)

// Dispatcher performs one work request. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, correlationID string) dispatch.Outcome
}

// Options configure the Runner.
type Options struct {
	Concurrency   int           // in-flight ceiling; workers in duration mode
	Iterations    int           // work items in count mode
	Duration      time.Duration // measured phase; > 0 selects duration mode
	Warmup        time.Duration // unrecorded phase before Duration
	RatePerSecond int           // shared pacing ceiling (0 means unlimited)
	Dispatcher    Dispatcher    // required
	Collector     *metrics.Collector
	FailureLogger FailureLogger
	Logger        *zap.Logger

	// NewID replaces the default ULIDs. Every worker calls it, so it must be
	// safe for concurrent use.
	NewID          func() string
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

// DurationMode reports whether the run is time bounded.
func (o Options) DurationMode() bool {
	return o.Duration > 0
}

func (o Options) validate() error {
	var issues []error
	if o.Dispatcher == nil {
		issues = append(issues, errors.New("dispatcher is required"))
	}
	if o.Concurrency <= 0 {
		issues = append(issues, fmt.Errorf("concurrency must be > 0, got %d", o.Concurrency))
	}
	if o.Duration < 0 {
		issues = append(issues, fmt.Errorf("duration must be >= 0, got %s", o.Duration))
	}
	if o.Warmup < 0 {
		issues = append(issues, fmt.Errorf("warmup must be >= 0, got %s", o.Warmup))
	}
	if !o.DurationMode() && o.Iterations <= 0 {
		issues = append(issues, fmt.Errorf("iterations must be > 0, got %d", o.Iterations))
	}
	if o.RatePerSecond < 0 {
		issues = append(issues, fmt.Errorf("rate must be >= 0, got %d", o.RatePerSecond))
	}
	return errors.Join(issues...)
}

func (o *Options) normalize() {
	if o.Collector == nil {
		o.Collector = metrics.NewCollector()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if !o.DurationMode() {
		o.Warmup = 0
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return nil
			}
			return rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}
