package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/bffbench/internal/config"
	"github.com/torosent/bffbench/internal/metrics"
)

func sampleResult() metrics.Result {
	c := metrics.NewCollector()
	for i := 1; i <= 10; i++ {
		c.Record(time.Duration(i*10) * time.Millisecond)
	}
	return c.Snapshot(time.Second)
}

func countConfig() config.Config {
	return config.Config{
		Iterations:  100,
		Concurrency: 10,
		Backend:     "framework",
		Protocol:    config.ProtocolREST,
		PayloadSize: 4096,
	}
}

func TestPrintReportCountMode(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, countConfig(), sampleResult())

	want := []string{
		"Backend: framework | Protocol: rest",
		"Iterations: 100 | Concurrency: 10 | Payload: 4096",
		"Total: 1000 ms | RPS: 10.00",
		"Avg: 55.00 ms | p50: 50.00 ms | p95: 100.00 ms | p99: 100.00 ms",
	}
	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("report lines = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPrintReportDurationMode(t *testing.T) {
	cfg := countConfig()
	cfg.Backend = "net10"
	cfg.Protocol = config.ProtocolGRPC
	cfg.DurationSeconds = 30
	cfg.WarmupSeconds = 5

	var buf bytes.Buffer
	PrintReport(&buf, cfg, sampleResult())
	out := buf.String()

	for _, want := range []string{
		"Backend: net10 | Protocol: grpc\n",
		"Duration: 30s | Concurrency: 10 | Payload: 4096\n",
		"Warmup: 5s\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Iterations:") {
		t.Errorf("duration report should not mention iterations:\n%s", out)
	}
}

func TestPrintReportNoWarmupLine(t *testing.T) {
	cfg := countConfig()
	cfg.DurationSeconds = 10

	var buf bytes.Buffer
	PrintReport(&buf, cfg, sampleResult())
	if strings.Contains(buf.String(), "Warmup") {
		t.Errorf("unexpected warm-up line:\n%s", buf.String())
	}
}

func TestPrintReportEmpty(t *testing.T) {
	c := metrics.NewCollector()
	for i := 0; i < 3; i++ {
		c.RecordFailure(time.Millisecond, &os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist})
	}

	var buf bytes.Buffer
	PrintReport(&buf, countConfig(), c.Snapshot(time.Second))
	out := buf.String()
	if !strings.HasPrefix(out, "No latencies recorded.\n") {
		t.Errorf("empty report = %q", out)
	}
	if !strings.Contains(out, "Failures: 3 of 3") {
		t.Errorf("empty report should still list failures:\n%s", out)
	}
	if strings.Contains(out, "p50") {
		t.Errorf("empty report should not print statistics:\n%s", out)
	}
}

func TestPrintReportFailureBreakdown(t *testing.T) {
	res := sampleResult()
	res.Attempts = 14
	res.Failures = 4
	res.Errors = map[string]int{"HTTP 500": 3, "Network error": 1}

	var buf bytes.Buffer
	PrintReport(&buf, countConfig(), res)
	out := buf.String()
	if !strings.Contains(out, "Failures: 4 of 14\n  HTTP 500: 3\n  Network error: 1\n") {
		t.Errorf("failure breakdown missing or out of order:\n%s", out)
	}
}

func TestPrintJSONReport(t *testing.T) {
	rep := NewReport(countConfig(), sampleResult())

	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, rep); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["mode"] != "count" || decoded["backend"] != "framework" || decoded["iterations"] != float64(100) {
		t.Errorf("decoded = %v", decoded)
	}
	if _, ok := decoded["timestamp"]; ok {
		t.Error("zero timestamp should be omitted")
	}
	result, ok := decoded["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("result = %T", decoded["result"])
	}
	if result["p95_ms"] != float64(100) || result["count"] != float64(10) {
		t.Errorf("result = %v", result)
	}
}

func TestPrintYAMLReport(t *testing.T) {
	cfg := countConfig()
	cfg.DurationSeconds = 60
	cfg.WarmupSeconds = 10
	rep := NewReport(cfg, sampleResult())

	var buf bytes.Buffer
	if err := PrintYAMLReport(&buf, rep); err != nil {
		t.Fatalf("PrintYAMLReport() error = %v", err)
	}

	var decoded struct {
		Mode            string `yaml:"mode"`
		DurationSeconds int    `yaml:"duration_seconds"`
		WarmupSeconds   int    `yaml:"warmup_seconds"`
		Iterations      int    `yaml:"iterations"`
		Result          struct {
			P50Ms float64 `yaml:"p50_ms"`
			Count int64   `yaml:"count"`
		} `yaml:"result"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	if decoded.Mode != "duration" || decoded.DurationSeconds != 60 || decoded.WarmupSeconds != 10 || decoded.Iterations != 0 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Result.P50Ms != 50 || decoded.Result.Count != 10 {
		t.Errorf("decoded result = %+v", decoded.Result)
	}
}

func TestPrintSelectsFormat(t *testing.T) {
	cfg := countConfig()
	rep := NewReport(cfg, sampleResult())
	tests := []struct {
		format config.OutputFormat
		prefix string
	}{
		{config.OutputText, "Backend:"},
		{config.OutputJSON, "{"},
		{config.OutputYAML, "backend:"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := Print(&buf, tt.format, cfg, rep); err != nil {
			t.Fatalf("Print(%s) error = %v", tt.format, err)
		}
		if !strings.HasPrefix(buf.String(), tt.prefix) {
			t.Errorf("Print(%s) = %q, want prefix %q", tt.format, buf.String(), tt.prefix)
		}
	}
}

func TestAppendHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := AppendHistory(path, NewReport(countConfig(), sampleResult()), now); err != nil {
				t.Errorf("AppendHistory() error = %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 8 {
		t.Fatalf("history lines = %d, want 8", len(lines))
	}
	for _, line := range lines {
		var rep Report
		if err := json.Unmarshal([]byte(line), &rep); err != nil {
			t.Fatalf("corrupt history line %q: %v", line, err)
		}
		if !rep.Timestamp.Equal(now) || rep.Result.Count != 10 {
			t.Errorf("history entry = %+v", rep)
		}
	}
}

func TestAppendHistoryBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "history.jsonl")
	if err := AppendHistory(path, Report{}, time.Now()); err == nil {
		t.Error("AppendHistory() error = nil for a missing directory")
	}
}
