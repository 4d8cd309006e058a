package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/torosent/rampfire/internal/schedule"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rampfire",
		Short:         "Drive a staged ramp of concurrent workers against an HTTP endpoint",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	// Request
	flags.String("target", "", "Target URL to load test")
	flags.String("method", "GET", "HTTP method to use")
	flags.StringSlice("header", nil, "Additional request header in key=value form (repeatable)")
	flags.String("body", "", "Inline request body payload")
	flags.String("body-file", "", "Path to file containing the request body")

	// Load shape
	flags.IntP("vus", "u", 0, "Number of concurrent workers for a fixed run")
	flags.DurationP("duration", "d", 0, "How long a fixed run lasts (e.g. 30s, 1m)")
	flags.StringSlice("stage", nil, "Ramp stage in duration:target form, e.g. 30s:10 (repeatable, replaces --vus/--duration)")
	flags.Duration("interval", 0, "How often the worker pool is reconciled against the schedule (max 1s)")
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")
	flags.Int64("max-body-bytes", 0, "Response body bytes kept for checks (default 1MiB)")
	flags.Int("retries", 0, "Transport-level retries for requests that fail to complete")
	flags.Duration("retry-delay", 100*time.Millisecond, "Delay between transport retries")

	// Checks and thresholds
	flags.Int("check-status", 0, "Expected response status, recorded as the check \"status is N\" (no status check unless set)")
	flags.Int("check-status-class", 0, "Expected status class, e.g. 2 records the check \"status is 2xx\"")
	flags.StringSlice("check-json", nil, "JSON body check in path or path=value form (repeatable)")
	flags.StringSlice("check-body", nil, "Regular expression the response body must match (repeatable)")
	flags.StringSlice("threshold", nil, "Pass/fail threshold (repeatable, e.g. 'http_req_duration:p95 < 500')")

	// Output
	flags.Bool("json-output", false, "Emit the final report as JSON")
	flags.Bool("yaml-output", false, "Emit the final report as YAML")
	flags.String("outcomes-file", "", "Write every request outcome as a JSON line to this file")
	flags.Bool("dashboard", false, "Show live terminal dashboard")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Logging
	flags.Bool("log-errors", false, "Log failed iterations to stderr (rate limited)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log encoding: console or json")
	flags.String("log-file", "", "Also write logs to this file (rotated)")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint; enables tracing")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of requests to trace (0.0-1.0)")
	flags.Bool("tracing-propagate", true, "Inject W3C trace context into request headers")
}

func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n%s\n\nFlags:\n", cmd.UseLine(), cmd.Short)
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies explicitly set flags on top of values loaded
// from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err != nil || !fs.Changed(name) {
			return
		}
		if applyErr := apply(); applyErr != nil {
			err = fmt.Errorf("--%s: %w", name, applyErr)
		}
	}

	set("target", func() error {
		v, e := fs.GetString("target")
		cfg.TargetURL = strings.TrimSpace(v)
		return e
	})
	set("method", func() (e error) { cfg.Method, e = fs.GetString("method"); return })
	set("body", func() (e error) {
		cfg.Body, e = fs.GetString("body")
		cfg.BodyFile = ""
		return
	})
	set("body-file", func() (e error) {
		cfg.BodyFile, e = fs.GetString("body-file")
		cfg.Body = ""
		return
	})
	set("vus", func() (e error) { cfg.VUs, e = fs.GetInt("vus"); return })
	set("duration", func() (e error) { cfg.Duration, e = fs.GetDuration("duration"); return })
	set("stage", func() error {
		raw, e := fs.GetStringSlice("stage")
		if e != nil {
			return e
		}
		stages := make([]StageConfig, 0, len(raw))
		for _, entry := range raw {
			st, e := schedule.ParseStage(entry)
			if e != nil {
				return e
			}
			stages = append(stages, StageConfig{Duration: st.Duration, Target: st.Target})
		}
		cfg.Stages = stages
		return nil
	})
	set("interval", func() (e error) { cfg.Interval, e = fs.GetDuration("interval"); return })
	set("timeout", func() (e error) { cfg.Timeout, e = fs.GetDuration("timeout"); return })
	set("retries", func() (e error) { cfg.Retries, e = fs.GetInt("retries"); return })
	set("retry-delay", func() (e error) { cfg.RetryDelay, e = fs.GetDuration("retry-delay"); return })
	set("check-status", func() (e error) { cfg.Checks.Status, e = fs.GetInt("check-status"); return })
	set("check-status-class", func() (e error) { cfg.Checks.StatusClass, e = fs.GetInt("check-status-class"); return })
	set("max-body-bytes", func() (e error) { cfg.MaxBody, e = fs.GetInt64("max-body-bytes"); return })
	set("check-json", func() (e error) { cfg.Checks.JSON, e = fs.GetStringSlice("check-json"); return })
	set("check-body", func() (e error) { cfg.Checks.BodyRegex, e = fs.GetStringSlice("check-body"); return })
	set("threshold", func() (e error) { cfg.Thresholds, e = fs.GetStringSlice("threshold"); return })
	set("json-output", func() (e error) { cfg.JSONOutput, e = fs.GetBool("json-output"); return })
	set("yaml-output", func() (e error) { cfg.YAMLOutput, e = fs.GetBool("yaml-output"); return })
	set("outcomes-file", func() error {
		v, e := fs.GetString("outcomes-file")
		cfg.OutcomeFile = strings.TrimSpace(v)
		return e
	})
	set("dashboard", func() (e error) { cfg.Dashboard, e = fs.GetBool("dashboard"); return })
	set("log-errors", func() (e error) { cfg.Log.Errors, e = fs.GetBool("log-errors"); return })
	set("log-level", func() (e error) { cfg.Log.Level, e = fs.GetString("log-level"); return })
	set("log-format", func() (e error) { cfg.Log.Format, e = fs.GetString("log-format"); return })
	set("log-file", func() (e error) { cfg.Log.File, e = fs.GetString("log-file"); return })
	set("tracing-endpoint", func() (e error) { cfg.Tracing.Endpoint, e = fs.GetString("tracing-endpoint"); return })
	set("tracing-protocol", func() (e error) { cfg.Tracing.Protocol, e = fs.GetString("tracing-protocol"); return })
	set("tracing-insecure", func() (e error) { cfg.Tracing.Insecure, e = fs.GetBool("tracing-insecure"); return })
	set("tracing-service-name", func() (e error) {
		cfg.Tracing.ServiceName, e = fs.GetString("tracing-service-name")
		return
	})
	set("tracing-sample-rate", func() (e error) {
		cfg.Tracing.SampleRate, e = fs.GetFloat64("tracing-sample-rate")
		return
	})
	set("tracing-propagate", func() error {
		v, e := fs.GetBool("tracing-propagate")
		cfg.Tracing.Propagate = &v
		return e
	})
	if err != nil {
		return err
	}

	headers, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(headers) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range headers {
			key, value, ok := strings.Cut(entry, "=")
			if !ok {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key = http.CanonicalHeaderKey(strings.TrimSpace(key))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(value)
		}
	}
	return nil
}
