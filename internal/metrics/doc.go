// Package metrics aggregates request latencies for a load run.
//
// The [Collector] keeps every successful latency sample so that percentiles
// are exact, and counts failures by category without sampling them:
//
//	collector := metrics.NewCollector(metrics.WithCapacity(iterations))
//	collector.Record(elapsed)
//	collector.RecordFailure(elapsed, err)
//	result := collector.Snapshot(wallClock)
//
// # Percentiles
//
// [Collector.Snapshot] sorts a private copy of the samples and applies the
// nearest-rank rule in [Percentile]. For the ten samples 10ms..100ms it yields
// p50 = 50ms, p95 = 100ms and p99 = 100ms. An empty sample set produces a
// zero [Result].
//
// # Live view
//
// [Collector.Live] reads running counters and an HDR histogram estimate of
// p99 for progress output. It never copies the sample set.
//
// # Export
//
// [WithLatencyHistogram] mirrors each successful sample into an OpenTelemetry
// histogram (see [NewLatencyHistogram]) with a fixed attribute set.
package metrics
