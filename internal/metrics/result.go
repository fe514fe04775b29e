package metrics

import "time"

// Result is the frozen outcome of one run.
type Result struct {
	Count          int64         `json:"count" yaml:"count"`
	Attempts       int64         `json:"attempts" yaml:"attempts"`
	Failures       int64         `json:"failures" yaml:"failures"`
	Duration       time.Duration `json:"-" yaml:"-"`
	Average        time.Duration `json:"-" yaml:"-"`
	P50            time.Duration `json:"-" yaml:"-"`
	P95            time.Duration `json:"-" yaml:"-"`
	P99            time.Duration `json:"-" yaml:"-"`
	Min            time.Duration `json:"-" yaml:"-"`
	Max            time.Duration `json:"-" yaml:"-"`
	RequestsPerSec float64       `json:"requests_per_sec" yaml:"requests_per_sec"`

	// JSON-friendly millisecond fields.
	DurationMs float64        `json:"duration_ms" yaml:"duration_ms"`
	AverageMs  float64        `json:"avg_ms" yaml:"avg_ms"`
	P50Ms      float64        `json:"p50_ms" yaml:"p50_ms"`
	P95Ms      float64        `json:"p95_ms" yaml:"p95_ms"`
	P99Ms      float64        `json:"p99_ms" yaml:"p99_ms"`
	MinMs      float64        `json:"min_ms" yaml:"min_ms"`
	MaxMs      float64        `json:"max_ms" yaml:"max_ms"`
	Errors     map[string]int `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func (r *Result) fillMillis() {
	r.DurationMs = millis(r.Duration)
	r.AverageMs = millis(r.Average)
	r.P50Ms = millis(r.P50)
	r.P95Ms = millis(r.P95)
	r.P99Ms = millis(r.P99)
	r.MinMs = millis(r.Min)
	r.MaxMs = millis(r.Max)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Empty reports whether no successful request was measured.
func (r Result) Empty() bool {
	return r.Count == 0
}
