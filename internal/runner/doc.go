// Package runner is the load driver: it drives work requests through a
// Dispatcher with bounded concurrency and records their latency into a
// metrics.Collector.
//
// # Modes
//
// Count mode (Duration == 0) dispatches exactly Iterations requests. A
// weighted semaphore of size Concurrency is acquired before each one, so no
// more than Concurrency are ever in flight.
//
// Duration mode starts Concurrency long-lived workers. With a Warmup, the
// workers first run unrecorded; at the boundary the collector is reset and
// recording is switched on, and only requests started afterwards count. When
// the measured phase expires the workers are told to stop, finish their
// current request and exit.
//
//	r, err := runner.New(runner.Options{
//		Concurrency: 10,
//		Duration:    30 * time.Second,
//		Warmup:      5 * time.Second,
//		Dispatcher:  d,
//	})
//	if err != nil {
//		return err
//	}
//	result, err := r.Run(ctx)
//
// In-flight requests are never aborted by the stop signal; only their own
// timeout applies. Cancelling ctx while the driver waits for a permit or a
// phase timer ends the run with ErrInterrupted and no statistics.
//
// # Failures
//
// Failed requests are counted, left out of the latency samples and handed
// to the FailureLogger. They are never retried and never stop the run.
package runner
