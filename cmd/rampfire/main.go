package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/rampfire/internal/check"
	"github.com/torosent/rampfire/internal/config"
	"github.com/torosent/rampfire/internal/dashboard"
	"github.com/torosent/rampfire/internal/httpclient"
	"github.com/torosent/rampfire/internal/logging"
	"github.com/torosent/rampfire/internal/metrics"
	"github.com/torosent/rampfire/internal/output"
	"github.com/torosent/rampfire/internal/runner"
	"github.com/torosent/rampfire/internal/threshold"
	"github.com/torosent/rampfire/internal/tracing"
)

const (
	progressInterval = time.Second
	maxRetryDelay    = 5 * time.Second
	failureLogRate   = 5
	failureLogBurst  = 20
	shutdownTimeout  = 5 * time.Second
)

// errRunFailed marks a completed run whose results did not meet expectations.
var errRunFailed = errors.New("run failed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}
	checks, err := check.Build(check.Config{
		Status:      cfg.Checks.Status,
		StatusClass: cfg.Checks.StatusClass,
		JSONPaths:   cfg.Checks.JSON,
		BodyRegex:   cfg.Checks.BodyRegex,
	})
	if err != nil {
		return err
	}
	sched, err := cfg.Schedule()
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	runID := output.NewRunID()
	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.WithRunID(runID))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	builder, err := httpclient.NewRequestBuilder(cfg)
	if err != nil {
		return err
	}
	transport := newTransport(cfg, sched.MaxTarget(), tp)

	collector := metrics.NewCollector(checks.Names()...)
	sinks := runner.MultiSink{collector}

	var outcomes *output.OutcomeWriter
	if cfg.OutcomeFile != "" {
		outcomes, err = output.NewOutcomeWriter(cfg.OutcomeFile, runID)
		if err != nil {
			return err
		}
		defer outcomes.Close()
		sinks = append(sinks, outcomes)
	}

	var sink runner.Sink = sinks
	var failureLog *logging.FailureLogger
	if cfg.Log.Errors {
		failureLog = logging.NewFailureLogger(logger, failureLogRate, failureLogBurst)
		sink = runner.WithFailureLogging(sink, failureLog)
	}

	driver, err := runner.New(runner.Options{
		Schedule:  sched,
		Builder:   builder,
		Transport: transport,
		Checker:   checks,
		Sink:      sink,
		Interval:  cfg.Interval,
		Logger:    logger.Named("runner"),
	})
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	stages := 0
	if !sched.IsFixed() {
		stages = len(sched.Stages())
	}

	var dash *dashboard.Dashboard
	var progress *output.ProgressReporter
	switch {
	case cfg.Dashboard:
		dash, err = dashboard.New(collector, driver, sched, dashboard.TestConfig{
			TargetURL:  cfg.TargetURL,
			Method:     cfg.Method,
			Timeout:    cfg.Timeout,
			Retries:    cfg.Retries,
			ConfigFile: cfg.ConfigFile,
		}, cancelRun)
		if err != nil {
			return err
		}
		dash.Start()
	case !cfg.JSONOutput && !cfg.YAMLOutput:
		progress = output.NewProgressReporter(collector, driver, stages, progressInterval, stderr)
		progress.Start()
	}

	logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("target", cfg.TargetURL),
		zap.Stringer("schedule", sched),
		zap.Int("peak_workers", sched.MaxTarget()))

	result := driver.Run(runCtx)

	if dash != nil {
		dash.Stop()
	}
	if progress != nil {
		progress.Stop()
	}
	if failureLog != nil {
		failureLog.Flush()
	}
	if outcomes != nil {
		if err := outcomes.Close(); err != nil {
			logger.Error("outcomes file incomplete", zap.String("path", cfg.OutcomeFile), zap.Error(err))
		} else {
			logger.Info("outcomes written", zap.String("path", cfg.OutcomeFile), zap.Int64("records", outcomes.Count()))
		}
	}

	stats := collector.Stats(result.Duration)
	results := threshold.NewEvaluator(thresholds).Evaluate(stats)
	report := output.BuildReport(output.ReportMetadata{
		RunID:    runID,
		Method:   cfg.Method,
		Target:   cfg.TargetURL,
		Schedule: sched.String(),
		PeakPlan: sched.MaxTarget(),
	}, result, stats, results)

	switch {
	case cfg.JSONOutput:
		err = output.PrintJSONReport(stdout, report)
	case cfg.YAMLOutput:
		err = output.PrintYAMLReport(stdout, report)
	default:
		output.PrintReport(stdout, report)
	}
	if err != nil {
		return err
	}

	return verdict(stats, results)
}

// verdict fails the run when a threshold fails or, without thresholds, when
// any request or check failed.
func verdict(stats metrics.Stats, results []threshold.Result) error {
	if len(results) > 0 {
		failed := 0
		for _, r := range results {
			if !r.Pass {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d of %d thresholds failed", errRunFailed, failed, len(results))
		}
		return nil
	}
	if stats.Failures > 0 || stats.CheckFailures > 0 {
		return fmt.Errorf("%w: %d requests failed, %d iterations failed checks", errRunFailed, stats.Failures, stats.CheckFailures)
	}
	return nil
}

func newTransport(cfg *config.Config, peak int, tp *tracing.Provider) runner.Transport {
	opts := []httpclient.TransportOption{httpclient.WithMaxBodyBytes(cfg.MaxBody)}
	if tp.Enabled() {
		opts = append(opts, httpclient.WithTracer(tp.Tracer(), tp.ShouldPropagate()))
	}
	var transport runner.Transport = httpclient.NewTransport(httpclient.NewClient(cfg.Timeout, peak), opts...)
	if cfg.Retries > 0 {
		transport = httpclient.WithRetry(transport, newRetryPolicy(cfg.Retries, cfg.RetryDelay))
	}
	return transport
}

// newRetryPolicy backs off exponentially from base with up to 50% jitter.
func newRetryPolicy(retries int, base time.Duration) httpclient.RetryPolicy {
	return httpclient.RetryPolicy{
		MaxAttempts: retries + 1,
		ShouldRetry: httpclient.RetryableError,
		Backoff: func(attempt int) time.Duration {
			if base <= 0 {
				return 0
			}
			if attempt < 1 {
				attempt = 1
			}
			backoff := base << uint(attempt-1)
			if backoff > maxRetryDelay || backoff <= 0 {
				backoff = maxRetryDelay
			}
			if half := int64(backoff / 2); half > 0 {
				backoff += time.Duration(rand.Int63n(half))
			}
			return backoff
		},
	}
}
