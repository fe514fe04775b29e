package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/torosent/bffbench/internal/metrics"
)

// ErrInterrupted is returned when the run is cancelled before it completes.
// No statistics accompany it.
var ErrInterrupted = errors.New("run interrupted")

// Runner drives one load run.
type Runner struct {
	opt     Options
	limiter *rate.Limiter
	ids     atomic.Int64
}

// New validates opt. No worker starts on a configuration error.
func New(opt Options) (*Runner, error) {
	if err := opt.validate(); err != nil {
		return nil, fmt.Errorf("invalid runner options: %w", err)
	}
	opt.normalize()
	return &Runner{opt: opt, limiter: opt.LimiterFactory(opt.RatePerSecond)}, nil
}

// Collector returns the aggregator the run records into.
func (r *Runner) Collector() *metrics.Collector {
	return r.opt.Collector
}

// Run executes the configured mode and returns the frozen statistics once
// every in-flight request has finished.
func (r *Runner) Run(ctx context.Context) (metrics.Result, error) {
	var (
		wall time.Duration
		err  error
	)
	if r.opt.DurationMode() {
		wall, err = r.runDuration(ctx)
	} else {
		wall, err = r.runCount(ctx)
	}
	if err != nil {
		return metrics.Result{}, err
	}
	return r.opt.Collector.Snapshot(wall), nil
}

// runCount dispatches exactly Iterations items, gated by a weighted
// semaphore of size Concurrency, then waits for all of them.
func (r *Runner) runCount(ctx context.Context) (time.Duration, error) {
	sem := semaphore.NewWeighted(int64(r.opt.Concurrency))
	ids := r.newIDs()
	detached := context.WithoutCancel(ctx)

	var (
		g   errgroup.Group
		err error
	)
	start := time.Now()
	for i := 0; i < r.opt.Iterations; i++ {
		if err = r.pace(ctx); err != nil {
			break
		}
		if err = sem.Acquire(ctx, 1); err != nil {
			break
		}
		id := ids()
		g.Go(func() error {
			defer sem.Release(1)
			r.execute(detached, id, true)
			return nil
		})
	}
	_ = g.Wait()
	wall := time.Since(start)

	if err != nil {
		return wall, r.fatal(ctx, err)
	}
	return wall, nil
}

// runDuration runs Concurrency workers through an optional warm-up and then
// the measured phase. Only requests started after the warm-up boundary are
// recorded.
func (r *Runner) runDuration(ctx context.Context) (time.Duration, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	detached := context.WithoutCancel(ctx)

	var measuring atomic.Bool
	measuring.Store(r.opt.Warmup <= 0)

	for w := 0; w < r.opt.Concurrency; w++ {
		ids := r.newIDs()
		g.Go(func() error {
			for gctx.Err() == nil {
				if err := r.pace(gctx); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return err
				}
				record := measuring.Load()
				r.execute(detached, ids(), record)
			}
			return nil
		})
	}

	start := time.Now()
	if r.opt.Warmup > 0 {
		r.opt.Logger.Debug("warm-up started", zap.Duration("warmup", r.opt.Warmup))
		if err := wait(gctx, r.opt.Warmup); err != nil {
			stop()
			return r.finish(ctx, g, start)
		}
		r.opt.Collector.Reset()
		measuring.Store(true)
		start = time.Now()
	}

	r.opt.Logger.Debug("measuring", zap.Duration("duration", r.opt.Duration))
	_ = wait(gctx, r.opt.Duration)
	stop()
	r.opt.Logger.Debug("draining in-flight requests")
	return r.finish(ctx, g, start)
}

// finish waits for every worker to return its in-flight request.
func (r *Runner) finish(ctx context.Context, g *errgroup.Group, start time.Time) (time.Duration, error) {
	err := g.Wait()
	wall := time.Since(start)
	if err != nil {
		return wall, r.fatal(ctx, err)
	}
	if ctx.Err() != nil {
		return wall, r.fatal(ctx, ctx.Err())
	}
	return wall, nil
}

func (r *Runner) fatal(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
	}
	return fmt.Errorf("run aborted: %w", err)
}

// execute performs one request on a context that ignores the stop signal.
func (r *Runner) execute(ctx context.Context, id string, record bool) {
	out := r.opt.Dispatcher.Dispatch(ctx, id)
	if out.Succeeded {
		if record {
			r.opt.Collector.Record(out.Elapsed)
		}
		return
	}
	if record {
		r.opt.Collector.RecordFailure(out.Elapsed, out.Err)
	}
	if r.opt.FailureLogger != nil {
		r.opt.FailureLogger.LogFailure(out)
	}
}

func (r *Runner) pace(ctx context.Context) error {
	if r.limiter == nil {
		return ctx.Err()
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (r *Runner) newIDs() func() string {
	if r.opt.NewID != nil {
		return r.opt.NewID
	}
	return newIDSource(r.ids.Add(1)).next
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
