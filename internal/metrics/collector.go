package metrics

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LatencyHistogramName is the exported OpenTelemetry instrument for successful request latency.
const LatencyHistogramName = "bff.request_latency_ms"

// Collector records per-request latency in a thread-safe manner.
type Collector struct {
	mu           sync.Mutex
	samples      []time.Duration
	sum          time.Duration
	hist         *hdrhistogram.Histogram
	attempts     int64
	failures     int64
	errorsByType map[string]int64

	latency      metric.Float64Histogram
	latencyAttrs metric.MeasurementOption

	now     func() time.Time
	resetAt time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithLatencyHistogram mirrors every successful sample into h, tagged with attrs.
func WithLatencyHistogram(h metric.Float64Histogram, attrs ...attribute.KeyValue) Option {
	return func(c *Collector) {
		c.latency = h
		c.latencyAttrs = metric.WithAttributeSet(attribute.NewSet(attrs...))
	}
}

// WithCapacity preallocates room for n samples.
func WithCapacity(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.samples = make([]time.Duration, 0, n)
		}
	}
}

// WithClock replaces time.Now for the reset timestamp Live measures from.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewLatencyHistogram creates the request latency instrument on meter.
func NewLatencyHistogram(meter metric.Meter) (metric.Float64Histogram, error) {
	return meter.Float64Histogram(LatencyHistogramName,
		metric.WithDescription("Round-trip latency of successful work requests"),
		metric.WithUnit("ms"),
	)
}

func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		// Track latencies from 1µs up to 60s with 3 significant figures.
		hist:         hdrhistogram.New(1, 60_000_000, 3),
		errorsByType: make(map[string]int64),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record adds one successful request latency to the sample set.
func (c *Collector) Record(elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	c.mu.Lock()
	c.samples = append(c.samples, elapsed)
	c.sum += elapsed
	c.attempts++
	c.recordHist(elapsed)
	c.mu.Unlock()

	if c.latency != nil {
		c.latency.Record(context.Background(), float64(elapsed)/float64(time.Millisecond), c.latencyAttrs)
	}
}

// RecordFailure counts a failed request. Its latency never enters the sample set.
func (c *Collector) RecordFailure(_ time.Duration, err error) {
	name := ErrorCategory(err)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	c.failures++
	c.errorsByType[name]++
}

func (c *Collector) recordHist(elapsed time.Duration) {
	us := elapsed.Microseconds()
	if us < c.hist.LowestTrackableValue() {
		us = c.hist.LowestTrackableValue()
	}
	if us > c.hist.HighestTrackableValue() {
		us = c.hist.HighestTrackableValue()
	}
	_ = c.hist.RecordValue(us)
}

// Reset discards everything recorded so far. The driver calls it at the
// warm-up boundary; later Live rates cover only the time since then.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetAt = c.now()
	c.samples = c.samples[:0]
	c.sum = 0
	c.attempts = 0
	c.failures = 0
	c.hist.Reset()
	clear(c.errorsByType)
}

// Snapshot computes the final statistics. The sample set is copied under the
// lock and sorted outside it, so the result does not depend on completion order.
func (c *Collector) Snapshot(wallClock time.Duration) Result {
	c.mu.Lock()
	sorted := slices.Clone(c.samples)
	sum := c.sum
	res := Result{
		Attempts: c.attempts,
		Failures: c.failures,
	}
	if len(c.errorsByType) > 0 {
		res.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			res.Errors[k] = int(v)
		}
	}
	c.mu.Unlock()

	slices.Sort(sorted)
	n := len(sorted)
	res.Count = int64(n)
	res.Duration = wallClock
	if n > 0 {
		res.Average = sum / time.Duration(n)
		res.Min = sorted[0]
		res.Max = sorted[n-1]
		res.P50 = Percentile(sorted, 50)
		res.P95 = Percentile(sorted, 95)
		res.P99 = Percentile(sorted, 99)
		if wallClock > 0 {
			res.RequestsPerSec = float64(n) / wallClock.Seconds()
		}
	}
	res.fillMillis()
	return res
}

// Percentile returns the nearest-rank p-th percentile of an ascending slice:
// the element at index ceil(p/100*n)-1, clamped to the slice bounds.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(n)/100)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank > n-1 {
		rank = n - 1
	}
	return sorted[rank]
}

// Progress is a cheap running view used for live output.
type Progress struct {
	Elapsed        time.Duration
	Attempts       int64
	Successes      int64
	Failures       int64
	RequestsPerSec float64
	ApproxP99      time.Duration
}

// Live returns running totals without copying samples. ApproxP99 comes from
// the HDR histogram and is only an estimate. After a Reset the rate is taken
// over the time since the reset rather than over elapsed.
func (c *Collector) Live(elapsed time.Duration) Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := Progress{
		Elapsed:   elapsed,
		Attempts:  c.attempts,
		Successes: c.attempts - c.failures,
		Failures:  c.failures,
	}
	if c.hist.TotalCount() > 0 {
		p.ApproxP99 = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	window := elapsed
	if !c.resetAt.IsZero() {
		window = c.now().Sub(c.resetAt)
	}
	if window > 0 {
		p.RequestsPerSec = float64(p.Successes) / window.Seconds()
	}
	return p
}
