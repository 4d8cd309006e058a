package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/torosent/rampfire/internal/schedule"
)

// highConcurrency is the peak worker count above which a warning is raised.
const highConcurrency = 500

type Config struct {
	TargetURL   string            `mapstructure:"target"`
	Method      string            `mapstructure:"method"`
	Headers     map[string]string `mapstructure:"headers"`
	Body        string            `mapstructure:"body"`
	BodyFile    string            `mapstructure:"body_file"`
	VUs         int               `mapstructure:"vus"`
	Duration    time.Duration     `mapstructure:"duration"`
	Stages      []StageConfig     `mapstructure:"stages"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Retries     int               `mapstructure:"retries"`
	RetryDelay  time.Duration     `mapstructure:"retry_delay"`
	Interval    time.Duration     `mapstructure:"interval"`
	MaxBody     int64             `mapstructure:"max_body_bytes"` // response bytes kept for checks, 0 for the default
	Checks      CheckConfig       `mapstructure:"checks"`
	Thresholds  []string          `mapstructure:"thresholds"`
	JSONOutput  bool              `mapstructure:"json_output"`
	YAMLOutput  bool              `mapstructure:"yaml_output"`
	OutcomeFile string            `mapstructure:"outcomes_file"`
	Dashboard   bool              `mapstructure:"dashboard"`
	Log         LogConfig         `mapstructure:"log"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	ConfigFile  string            `mapstructure:"-"`
}

// StageConfig is one {duration, target} entry of a staged run.
type StageConfig struct {
	Duration time.Duration `mapstructure:"duration"`
	Target   int           `mapstructure:"target"`
}

type CheckConfig struct {
	Status      int      `mapstructure:"status"`
	StatusClass int      `mapstructure:"status_class"` // 2 for 2xx
	JSON        []string `mapstructure:"json"`
	BodyRegex   []string `mapstructure:"body"`
}

type LogConfig struct {
	Errors bool   `mapstructure:"errors"` // log each failed iteration (rate limited)
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
	File   string `mapstructure:"file"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate defaults to true once tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// IsStaged reports whether the run follows a stage list rather than a fixed
// worker count.
func (c Config) IsStaged() bool {
	return len(c.Stages) > 0
}

// Schedule builds the concurrency schedule described by the config.
func (c Config) Schedule() (*schedule.Schedule, error) {
	if !c.IsStaged() {
		return schedule.Fixed(c.VUs, c.Duration)
	}
	stages := make([]schedule.Stage, len(c.Stages))
	for i, st := range c.Stages {
		stages[i] = schedule.Stage{Duration: st.Duration, Target: st.Target}
	}
	return schedule.New(stages)
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	target := strings.TrimSpace(c.TargetURL)
	if target == "" {
		issues = append(issues, "target is required (use --help for usage information)")
	} else if u, err := url.Parse(target); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, fmt.Sprintf("target %q is not an absolute URL", target))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		issues = append(issues, fmt.Sprintf("target scheme %q is not supported (use http or https)", u.Scheme))
	}

	if c.IsStaged() {
		if c.VUs != 0 || c.Duration != 0 {
			issues = append(issues, "vus/duration and stages are mutually exclusive")
		}
		for idx, st := range c.Stages {
			if st.Duration < 0 {
				issues = append(issues, fmt.Sprintf("stages[%d]: duration must be >= 0", idx))
			}
			if st.Target < 0 {
				issues = append(issues, fmt.Sprintf("stages[%d]: target must be >= 0", idx))
			}
		}
	} else {
		if c.VUs < 1 {
			issues = append(issues, "vus must be >= 1")
		}
		if c.Duration <= 0 {
			issues = append(issues, "duration must be > 0 (or configure stages)")
		}
	}

	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be >= 0")
	}
	if c.RetryDelay < 0 {
		issues = append(issues, "retry delay must be >= 0")
	}
	if c.Interval < 0 || c.Interval > time.Second {
		issues = append(issues, "interval must be between 0 and 1s")
	}
	if c.Checks.Status != 0 && (c.Checks.Status < 100 || c.Checks.Status > 599) {
		issues = append(issues, fmt.Sprintf("check status %d is not a valid HTTP status", c.Checks.Status))
	}
	if c.Checks.StatusClass != 0 && (c.Checks.StatusClass < 1 || c.Checks.StatusClass > 5) {
		issues = append(issues, fmt.Sprintf("check status class %d must be between 1 and 5", c.Checks.StatusClass))
	}
	if c.MaxBody < 0 {
		issues = append(issues, "max body bytes must be >= 0")
	}
	if strings.TrimSpace(c.Body) != "" && strings.TrimSpace(c.BodyFile) != "" {
		issues = append(issues, "body and bodyFile are mutually exclusive")
	}
	if c.JSONOutput && c.YAMLOutput {
		issues = append(issues, "json-output and yaml-output are mutually exclusive")
	}
	if c.Dashboard && (c.JSONOutput || c.YAMLOutput) {
		issues = append(issues, "dashboard and json-output/yaml-output are mutually exclusive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log format %q is not supported", c.Log.Format))
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q is not supported", c.Tracing.Protocol))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing sample rate must be between 0.0 and 1.0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings lists non-fatal concerns about the configuration.
func (c Config) Warnings() []string {
	var warnings []string
	peak := c.VUs
	for _, st := range c.Stages {
		if st.Target > peak {
			peak = st.Target
		}
	}
	if peak > highConcurrency {
		warnings = append(warnings, fmt.Sprintf("high concurrency configured (%d workers); ensure you have authorization to test the target system", peak))
	}
	if c.Tracing.Enabled() && c.Tracing.Insecure {
		warnings = append(warnings, "tracing exporter TLS is disabled")
	}
	return warnings
}
