package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/torosent/bffbench/internal/metrics"
)

// ProgressReporter rewrites a single status line from the collector's live
// counters at a fixed interval.
type ProgressReporter struct {
	collector *metrics.Collector
	interval  time.Duration
	writer    io.Writer

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		interval:  interval,
		writer:    writer,
		stop:      make(chan struct{}),
	}
}

// Start launches the update loop. Later calls do nothing.
func (p *ProgressReporter) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.loop(time.Now())
	})
}

// Stop ends the update loop and terminates the line. Safe to call twice.
func (p *ProgressReporter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		fmt.Fprintln(p.writer)
	})
}

func (p *ProgressReporter) loop(start time.Time) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			fmt.Fprint(p.writer, "\r"+FormatProgress(p.collector.Live(now.Sub(start))))
		}
	}
}

// FormatProgress renders one progress line without the leading carriage return.
func FormatProgress(pr metrics.Progress) string {
	return fmt.Sprintf("Elapsed: %s | Requests: %d | Failures: %d | RPS: %.1f | p99~ %.1f ms",
		pr.Elapsed.Truncate(time.Second), pr.Attempts, pr.Failures, pr.RequestsPerSec,
		float64(pr.ApproxP99)/float64(time.Millisecond))
}
