package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns the configuration used before any file or flag is applied.
func Defaults() *Config {
	return &Config{
		Method:     http.MethodGet,
		Headers:    map[string]string{},
		Timeout:    30 * time.Second,
		RetryDelay: 100 * time.Millisecond,
		Log:        LogConfig{Level: "info", Format: "console"},
		Tracing:    TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Load parses command-line arguments and an optional config file into a
// Config. Flags take precedence over file values.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Method = strings.ToUpper(strings.TrimSpace(cfg.Method))
	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)
	cfg.BodyFile = strings.TrimSpace(cfg.BodyFile)
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "target"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "method"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("method: %w", err)
		}
		if val != "" {
			cfg.Method = val
		}
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}
	if raw, ok := lookupSetting(settings, "body"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("body: %w", err)
		}
		cfg.Body = val
	}
	if raw, ok := lookupSetting(settings, "bodyfile", "body_file", "body-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("bodyFile: %w", err)
		}
		cfg.BodyFile = val
	}
	if raw, ok := lookupSetting(settings, "vus"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("vus: %w", err)
		}
		cfg.VUs = val
	}
	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = dur
	}
	if raw, ok := lookupSetting(settings, "stages"); ok {
		stages, err := parseStages(raw)
		if err != nil {
			return fmt.Errorf("stages: %w", err)
		}
		cfg.Stages = stages
	}
	if raw, ok := lookupSetting(settings, "interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("interval: %w", err)
		}
		cfg.Interval = dur
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}
	if raw, ok := lookupSetting(settings, "retries"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("retries: %w", err)
		}
		cfg.Retries = val
	}
	if raw, ok := lookupSetting(settings, "retrydelay", "retry_delay", "retry-delay"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("retryDelay: %w", err)
		}
		cfg.RetryDelay = dur
	}
	if raw, ok := lookupSetting(settings, "maxbodybytes", "max_body_bytes", "max-body-bytes"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("maxBodyBytes: %w", err)
		}
		cfg.MaxBody = int64(val)
	}
	if raw, ok := lookupSetting(settings, "checks"); ok {
		checks, err := parseChecks(raw)
		if err != nil {
			return fmt.Errorf("checks: %w", err)
		}
		cfg.Checks = checks
	}
	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}
	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}
	if raw, ok := lookupSetting(settings, "yamloutput", "yaml_output", "yaml-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("yamlOutput: %w", err)
		}
		cfg.YAMLOutput = val
	}
	if raw, ok := lookupSetting(settings, "outcomesfile", "outcomes_file", "outcomes-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("outcomesFile: %w", err)
		}
		cfg.OutcomeFile = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}
	if raw, ok := lookupSetting(settings, "log"); ok {
		logCfg, err := parseLog(raw, cfg.Log)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
		cfg.Log = logCfg
	}
	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracing(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}
	return nil
}

// parseStages accepts a list of {duration, target} maps or "30s:10" strings.
func parseStages(value interface{}) ([]StageConfig, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	stages := make([]StageConfig, 0, len(items))
	for idx, item := range items {
		if s, ok := item.(string); ok {
			st, err := parseStageString(s)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", idx, err)
			}
			stages = append(stages, st)
			continue
		}
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		var st StageConfig
		raw, ok := lookupSetting(entry, "duration")
		if !ok {
			return nil, fmt.Errorf("index %d: duration is required", idx)
		}
		if st.Duration, err = asDuration(raw); err != nil {
			return nil, fmt.Errorf("index %d duration: %w", idx, err)
		}
		raw, ok = lookupSetting(entry, "target")
		if !ok {
			return nil, fmt.Errorf("index %d: target is required", idx)
		}
		if st.Target, err = asInt(raw); err != nil {
			return nil, fmt.Errorf("index %d target: %w", idx, err)
		}
		stages = append(stages, st)
	}
	return stages, nil
}

func parseChecks(value interface{}) (CheckConfig, error) {
	var checks CheckConfig
	entry, err := toStringKeyMap(value)
	if err != nil {
		return checks, err
	}
	if raw, ok := lookupSetting(entry, "status"); ok {
		if checks.Status, err = asInt(raw); err != nil {
			return checks, fmt.Errorf("status: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "statusclass", "status_class", "status-class"); ok {
		if checks.StatusClass, err = asInt(raw); err != nil {
			return checks, fmt.Errorf("status_class: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "json"); ok {
		if checks.JSON, err = asStringSlice(raw); err != nil {
			return checks, fmt.Errorf("json: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "body"); ok {
		if checks.BodyRegex, err = asStringSlice(raw); err != nil {
			return checks, fmt.Errorf("body: %w", err)
		}
	}
	return checks, nil
}

func parseLog(value interface{}, base LogConfig) (LogConfig, error) {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return base, err
	}
	if raw, ok := lookupSetting(entry, "errors"); ok {
		if base.Errors, err = asBool(raw); err != nil {
			return base, fmt.Errorf("errors: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "level"); ok {
		if base.Level, err = asString(raw); err != nil {
			return base, fmt.Errorf("level: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "format"); ok {
		if base.Format, err = asString(raw); err != nil {
			return base, fmt.Errorf("format: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "file"); ok {
		if base.File, err = asString(raw); err != nil {
			return base, fmt.Errorf("file: %w", err)
		}
	}
	return base, nil
}

func parseTracing(value interface{}, base TracingConfig) (TracingConfig, error) {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return base, err
	}
	if raw, ok := lookupSetting(entry, "endpoint"); ok {
		if base.Endpoint, err = asString(raw); err != nil {
			return base, fmt.Errorf("endpoint: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "protocol"); ok {
		if base.Protocol, err = asString(raw); err != nil {
			return base, fmt.Errorf("protocol: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "insecure"); ok {
		if base.Insecure, err = asBool(raw); err != nil {
			return base, fmt.Errorf("insecure: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "servicename", "service_name", "service-name"); ok {
		if base.ServiceName, err = asString(raw); err != nil {
			return base, fmt.Errorf("service_name: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "samplerate", "sample_rate", "sample-rate"); ok {
		if base.SampleRate, err = asFloat64(raw); err != nil {
			return base, fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "propagate"); ok {
		v, err := asBool(raw)
		if err != nil {
			return base, fmt.Errorf("propagate: %w", err)
		}
		base.Propagate = &v
	}
	return base, nil
}
