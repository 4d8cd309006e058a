package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/torosent/rampfire/internal/metrics"
	"github.com/torosent/rampfire/internal/runner"
	"github.com/torosent/rampfire/internal/threshold"
)

// NewRunID returns a sortable identifier for a run.
func NewRunID() string {
	return ulid.Make().String()
}

// ReportMetadata describes the run configuration shown in the report header.
type ReportMetadata struct {
	RunID    string `json:"run_id" yaml:"run_id"`
	Method   string `json:"method" yaml:"method"`
	Target   string `json:"target" yaml:"target"`
	Schedule string `json:"schedule" yaml:"schedule"`
	PeakPlan int    `json:"planned_peak_workers" yaml:"planned_peak_workers"`
}

// WorkerSummary is the worker pool side of the run.
type WorkerSummary struct {
	Started     int64 `json:"started" yaml:"started"`
	PeakRunning int64 `json:"peak_running" yaml:"peak_running"`
	Iterations  int64 `json:"iterations" yaml:"iterations"`
}

// ThresholdResultJSON is the serializable form of a threshold.Result.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold" yaml:"threshold"`
	Metric    string  `json:"metric" yaml:"metric"`
	Aggregate string  `json:"aggregate" yaml:"aggregate"`
	Operator  string  `json:"operator" yaml:"operator"`
	Expected  float64 `json:"expected" yaml:"expected"`
	Actual    float64 `json:"actual" yaml:"actual"`
	Pass      bool    `json:"pass" yaml:"pass"`
}

// ThresholdSummary aggregates threshold results.
type ThresholdSummary struct {
	Total   int                   `json:"total" yaml:"total"`
	Passed  int                   `json:"passed" yaml:"passed"`
	Failed  int                   `json:"failed" yaml:"failed"`
	Results []ThresholdResultJSON `json:"results" yaml:"results"`
}

// Report is the final summary of a run.
type Report struct {
	Metadata   ReportMetadata    `json:"metadata" yaml:"metadata"`
	Workers    WorkerSummary     `json:"workers" yaml:"workers"`
	Stats      metrics.Stats     `json:"stats" yaml:"stats"`
	Thresholds *ThresholdSummary `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// BuildReport assembles the report from the driver result, the aggregated
// statistics and any evaluated thresholds.
func BuildReport(meta ReportMetadata, result runner.Result, stats metrics.Stats, results []threshold.Result) Report {
	report := Report{
		Metadata: meta,
		Workers: WorkerSummary{
			Started:     result.Started,
			PeakRunning: result.PeakRunning,
			Iterations:  result.Iterations,
		},
		Stats: stats,
	}
	if len(results) > 0 {
		summary := &ThresholdSummary{
			Total:   len(results),
			Results: make([]ThresholdResultJSON, len(results)),
		}
		for i, tr := range results {
			summary.Results[i] = ThresholdResultJSON{
				Threshold: tr.Threshold.Raw,
				Metric:    tr.Threshold.Metric,
				Aggregate: tr.Threshold.Aggregate,
				Operator:  tr.Threshold.Operator,
				Expected:  tr.Threshold.Value,
				Actual:    tr.Actual,
				Pass:      tr.Pass,
			}
			if tr.Pass {
				summary.Passed++
			} else {
				summary.Failed++
			}
		}
		report.Thresholds = summary
	}
	return report
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Stats
	fmt.Fprintln(w, "\n--- Load Test Results ---")
	if r.Metadata.RunID != "" {
		fmt.Fprintf(w, "Run ID:            %s\n", r.Metadata.RunID)
	}
	fmt.Fprintf(w, "Target:            %s %s\n", r.Metadata.Method, r.Metadata.Target)
	fmt.Fprintf(w, "Schedule:          %s\n", r.Metadata.Schedule)
	fmt.Fprintf(w, "Workers:           %d started, peak %d running (planned %d)\n",
		r.Workers.Started, r.Workers.PeakRunning, r.Metadata.PeakPlan)
	fmt.Fprintf(w, "Total Requests:    %d\n", stats.Total)
	fmt.Fprintf(w, "Successful:        %d\n", stats.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failures)
	if stats.CheckFailures > 0 {
		fmt.Fprintf(w, "Failed Checks:     %d\n", stats.CheckFailures)
	}
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", stats.RequestsPerSec)

	if len(stats.Checks) > 0 {
		fmt.Fprintf(w, "\nChecks:            %.2f%% (%d passed, %d failed)\n",
			stats.ChecksRate*100, stats.ChecksPassed, stats.ChecksFailed)
		for _, cs := range stats.Checks {
			mark := "✓"
			if cs.Fails > 0 {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s", mark, cs.Name)
			if cs.Fails > 0 {
				fmt.Fprintf(w, "  %.0f%% (✓ %d / ✗ %d)", cs.Rate*100, cs.Passes, cs.Fails)
			}
			fmt.Fprintln(w)
		}
	}

	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P95:             %s\n", stats.P95Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)

	if len(stats.StatusCodes) > 0 {
		fmt.Fprintln(w, "\nStatus Codes:")
		writeStatusCodes(w, stats.StatusCodes, "  ")
	}

	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, name := range sortedByCount(stats.Errors) {
			fmt.Fprintf(w, "  %s: %d\n", name, stats.Errors[name])
		}
	}

	if r.Thresholds != nil {
		fmt.Fprintf(w, "\nThresholds:        %d passed, %d failed\n", r.Thresholds.Passed, r.Thresholds.Failed)
		for _, tr := range r.Thresholds.Results {
			mark := "✓"
			if !tr.Pass {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s (actual %.2f)\n", mark, tr.Threshold, tr.Actual)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func writeStatusCodes(w io.Writer, codes map[string]int, indent string) {
	rows := metrics.FlattenStatusCodes(codes)
	if len(rows) == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s%s %s: %d\n", indent, strings.ToUpper(row.Class), row.Code, row.Count)
	}
}

func sortedByCount(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] == counts[names[j]] {
			return names[i] < names[j]
		}
		return counts[names[i]] > counts[names[j]]
	})
	return names
}
