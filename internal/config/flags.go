package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const usageExamples = `  bffrunner --iterations <n> --concurrency <n> --backend <framework|net10> --protocol <rest|grpc> --payload <bytes>
  bffrunner --durationSeconds <n> --warmupSeconds <n> --concurrency <n> --backend <framework|net10> --protocol <rest|grpc> --payload <bytes>`

// newFlagCommand creates a cobra command hosting the runner flags.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bffrunner",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func newServerFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "workapi",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureServerFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	// Run shape
	flags.Int("iterations", 100, "Number of requests to send in count mode")
	flags.Int("concurrency", 10, "Maximum number of requests in flight")
	flags.String("backend", BackendFramework, "Target deployment name")
	flags.String("protocol", string(ProtocolREST), "Wire protocol: rest or grpc")
	flags.Int("payload", 4096, "Payload size in bytes requested from the target")
	flags.Int("durationSeconds", 0, "Run for this many seconds instead of a fixed iteration count")
	flags.Int("warmupSeconds", 0, "Unmeasured warm-up seconds before a duration run")

	// Transport
	flags.Int("rate", 0, "Requests per second ceiling (0 means unlimited)")
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")

	// Output
	flags.String("output", string(OutputText), "Report format: text, json or yaml")
	flags.Bool("progress", false, "Print a live progress line to stderr")
	flags.String("history-file", "", "Append each run result as a JSON line to this file")
	flags.Bool("log-errors", false, "Log each failed request")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("config", "", "Path to configuration file (YAML, JSON or TOML)")
}

func configureServerFlags(flags *pflag.FlagSet) {
	flags.String("rest-addr", "localhost:6001", "Listen address for the REST endpoint (HTTP/1.1)")
	flags.String("grpc-addr", "localhost:6002", "Listen address for the gRPC endpoint (HTTP/2)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("config", "", "Path to configuration file (YAML, JSON or TOML)")
}

// PrintUsage writes the runner usage text.
func PrintUsage(w io.Writer) {
	displayHelp(w, newFlagCommand())
}

func displayHelp(out io.Writer, cmd *cobra.Command) {
	fmt.Fprintf(out, "Usage:\n%s\n\nFlags:\n", usageExamples)
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"iterations", &cfg.Iterations},
		{"concurrency", &cfg.Concurrency},
		{"payload", &cfg.PayloadSize},
		{"durationSeconds", &cfg.DurationSeconds},
		{"warmupSeconds", &cfg.WarmupSeconds},
		{"rate", &cfg.Rate},
	}
	for _, f := range ints {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetInt(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}
	if fs.Changed("backend") {
		val, err := fs.GetString("backend")
		if err != nil {
			return err
		}
		cfg.Backend = strings.TrimSpace(val)
	}
	if fs.Changed("protocol") {
		val, err := fs.GetString("protocol")
		if err != nil {
			return err
		}
		cfg.Protocol = Protocol(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.Output = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("progress") {
		val, err := fs.GetBool("progress")
		if err != nil {
			return err
		}
		cfg.Progress = val
	}
	if fs.Changed("history-file") {
		val, err := fs.GetString("history-file")
		if err != nil {
			return err
		}
		cfg.HistoryFile = strings.TrimSpace(val)
	}
	if fs.Changed("log-errors") {
		val, err := fs.GetBool("log-errors")
		if err != nil {
			return err
		}
		cfg.LogErrors = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	return nil
}

func applyServerFlagOverrides(cfg *ServerConfig, fs *pflag.FlagSet) error {
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if fs.Changed("rest-addr") {
		val, err := fs.GetString("rest-addr")
		if err != nil {
			return err
		}
		cfg.RESTAddr = strings.TrimSpace(val)
	}
	if fs.Changed("grpc-addr") {
		val, err := fs.GetString("grpc-addr")
		if err != nil {
			return err
		}
		cfg.GRPCAddr = strings.TrimSpace(val)
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	return nil
}
