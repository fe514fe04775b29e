package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/bffbench/internal/config"
	"github.com/torosent/bffbench/internal/metrics"
)

// Report is the machine-readable form of one run: what was driven and what
// came back.
type Report struct {
	Timestamp       time.Time      `json:"timestamp,omitzero" yaml:"timestamp,omitempty"`
	Backend         string         `json:"backend" yaml:"backend"`
	Protocol        string         `json:"protocol" yaml:"protocol"`
	Mode            string         `json:"mode" yaml:"mode"`
	Iterations      int            `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	DurationSeconds int            `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	WarmupSeconds   int            `json:"warmup_seconds,omitempty" yaml:"warmup_seconds,omitempty"`
	Concurrency     int            `json:"concurrency" yaml:"concurrency"`
	Payload         int            `json:"payload" yaml:"payload"`
	Result          metrics.Result `json:"result" yaml:"result"`
}

// NewReport pairs a run configuration with its result.
func NewReport(cfg config.Config, res metrics.Result) Report {
	rep := Report{
		Backend:     cfg.Backend,
		Protocol:    string(cfg.Protocol),
		Concurrency: cfg.Concurrency,
		Payload:     cfg.PayloadSize,
		Result:      res,
	}
	if cfg.DurationMode() {
		rep.Mode = "duration"
		rep.DurationSeconds = cfg.DurationSeconds
		rep.WarmupSeconds = cfg.WarmupSeconds
	} else {
		rep.Mode = "count"
		rep.Iterations = cfg.Iterations
	}
	return rep
}

// PrintReport outputs the human-readable summary.
func PrintReport(w io.Writer, cfg config.Config, res metrics.Result) {
	if res.Empty() {
		fmt.Fprintln(w, "No latencies recorded.")
		writeFailures(w, res)
		return
	}

	fmt.Fprintf(w, "Backend: %s | Protocol: %s\n", cfg.Backend, cfg.Protocol)
	if cfg.DurationMode() {
		fmt.Fprintf(w, "Duration: %ds | Concurrency: %d | Payload: %d\n", cfg.DurationSeconds, cfg.Concurrency, cfg.PayloadSize)
		if cfg.WarmupSeconds > 0 {
			fmt.Fprintf(w, "Warmup: %ds\n", cfg.WarmupSeconds)
		}
	} else {
		fmt.Fprintf(w, "Iterations: %d | Concurrency: %d | Payload: %d\n", cfg.Iterations, cfg.Concurrency, cfg.PayloadSize)
	}
	fmt.Fprintf(w, "Total: %.0f ms | RPS: %.2f\n", res.DurationMs, res.RequestsPerSec)
	fmt.Fprintf(w, "Avg: %.2f ms | p50: %.2f ms | p95: %.2f ms | p99: %.2f ms\n",
		res.AverageMs, res.P50Ms, res.P95Ms, res.P99Ms)
	writeFailures(w, res)
}

func writeFailures(w io.Writer, res metrics.Result) {
	if res.Failures == 0 {
		return
	}
	fmt.Fprintf(w, "Failures: %d of %d\n", res.Failures, res.Attempts)
	for _, bucket := range res.SortedErrors() {
		fmt.Fprintf(w, "  %s: %d\n", bucket.Category, bucket.Count)
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, rep Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return enc.Close()
}

// Print writes rep in the configured format.
func Print(w io.Writer, format config.OutputFormat, cfg config.Config, rep Report) error {
	switch format {
	case config.OutputJSON:
		return PrintJSONReport(w, rep)
	case config.OutputYAML:
		return PrintYAMLReport(w, rep)
	default:
		PrintReport(w, cfg, rep.Result)
		return nil
	}
}
