package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/rampfire/internal/runner"
)

// Collector aggregates outcomes in a thread-safe manner. It implements
// runner.Sink.
type Collector struct {
	mu            sync.Mutex
	hist          *hdrhistogram.Histogram
	total         int64
	completed     int64
	failures      int64
	checkFailures int64
	minLatency    time.Duration
	maxLatency    time.Duration
	sumLatency    time.Duration
	statusCodes   map[int]int64
	checks        map[string]*checkCount
	checkOrder    []string
	errorsByType  map[string]int64
}

type checkCount struct {
	passes int64
	fails  int64
}

// CheckStats is the pass/fail tally for one named check.
type CheckStats struct {
	Name   string  `json:"name" yaml:"name"`
	Passes int64   `json:"passes" yaml:"passes"`
	Fails  int64   `json:"fails" yaml:"fails"`
	Rate   float64 `json:"rate" yaml:"rate"`
}

// Stats represents aggregated metrics.
type Stats struct {
	Total         int64         `json:"total" yaml:"total"`
	Successes     int64         `json:"successes" yaml:"successes"`
	Failures      int64         `json:"failures" yaml:"failures"`
	CheckFailures int64         `json:"check_failures" yaml:"check_failures"`
	MinLatency    time.Duration `json:"-" yaml:"-"`
	MaxLatency    time.Duration `json:"-" yaml:"-"`
	MeanLatency   time.Duration `json:"-" yaml:"-"`
	P50Latency    time.Duration `json:"-" yaml:"-"`
	P90Latency    time.Duration `json:"-" yaml:"-"`
	P95Latency    time.Duration `json:"-" yaml:"-"`
	P99Latency    time.Duration `json:"-" yaml:"-"`
	Duration      time.Duration `json:"-" yaml:"-"`

	RequestsPerSec float64 `json:"requests_per_sec" yaml:"requests_per_sec"`
	FailureRate    float64 `json:"failure_rate" yaml:"failure_rate"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms" yaml:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	DurationMs    float64 `json:"duration_ms" yaml:"duration_ms"`

	Checks       []CheckStats   `json:"checks,omitempty" yaml:"checks,omitempty"`
	ChecksPassed int64          `json:"checks_passed" yaml:"checks_passed"`
	ChecksFailed int64          `json:"checks_failed" yaml:"checks_failed"`
	ChecksRate   float64        `json:"checks_rate" yaml:"checks_rate"`
	StatusCodes  map[string]int `json:"status_codes,omitempty" yaml:"status_codes,omitempty"`
	Errors       map[string]int `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// NewCollector returns an empty collector. checkNames fixes the order in
// which checks are reported; checks first seen in outcomes follow them in
// name order.
func NewCollector(checkNames ...string) *Collector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	c := &Collector{
		hist:         h,
		statusCodes:  make(map[int]int64),
		checks:       make(map[string]*checkCount),
		errorsByType: make(map[string]int64),
	}
	for _, name := range checkNames {
		if _, ok := c.checks[name]; !ok {
			c.checks[name] = &checkCount{}
			c.checkOrder = append(c.checkOrder, name)
		}
	}
	return c
}

// Emit records one outcome. Latency is only tracked for requests that
// completed with a response.
func (c *Collector) Emit(o runner.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if o.Failed {
		c.failures++
		c.errorsByType[ErrorName(o.Err)]++
		return
	}

	c.completed++
	c.statusCodes[o.StatusCode]++
	c.recordLatency(o.Latency)

	var unseen []string
	for name := range o.Checks {
		if _, ok := c.checks[name]; !ok {
			unseen = append(unseen, name)
		}
	}
	sort.Strings(unseen)
	for _, name := range unseen {
		c.checks[name] = &checkCount{}
		c.checkOrder = append(c.checkOrder, name)
	}

	anyFailed := false
	for name, ok := range o.Checks {
		cc := c.checks[name]
		if ok {
			cc.passes++
		} else {
			cc.fails++
			anyFailed = true
		}
	}
	if anyFailed {
		c.checkFailures++
	}
}

func (c *Collector) recordLatency(latency time.Duration) {
	if latency > 0 {
		us := latency.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
	}
	c.sumLatency += latency

	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Total:         c.total,
		Successes:     c.completed - c.checkFailures,
		Failures:      c.failures,
		CheckFailures: c.checkFailures,
		MinLatency:    c.minLatency,
		MaxLatency:    c.maxLatency,
	}

	if c.completed > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / c.completed)
	}
	if c.total > 0 {
		stats.FailureRate = float64(c.failures) / float64(c.total)
	}

	if c.hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Latency = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P95Latency = time.Duration(c.hist.ValueAtQuantile(95)) * time.Microsecond
		stats.P99Latency = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinLatencyMs = toMs(stats.MinLatency)
	stats.MaxLatencyMs = toMs(stats.MaxLatency)
	stats.MeanLatencyMs = toMs(stats.MeanLatency)
	stats.P50LatencyMs = toMs(stats.P50Latency)
	stats.P90LatencyMs = toMs(stats.P90Latency)
	stats.P95LatencyMs = toMs(stats.P95Latency)
	stats.P99LatencyMs = toMs(stats.P99Latency)

	stats.Duration = elapsed
	stats.DurationMs = toMs(elapsed)
	if elapsed > 0 && c.total > 0 {
		stats.RequestsPerSec = float64(c.total) / elapsed.Seconds()
	}

	for _, name := range c.checkOrder {
		cc := c.checks[name]
		n := cc.passes + cc.fails
		if n == 0 {
			continue
		}
		cs := CheckStats{Name: name, Passes: cc.passes, Fails: cc.fails, Rate: float64(cc.passes) / float64(n)}
		stats.Checks = append(stats.Checks, cs)
		stats.ChecksPassed += cc.passes
		stats.ChecksFailed += cc.fails
	}
	if n := stats.ChecksPassed + stats.ChecksFailed; n > 0 {
		stats.ChecksRate = float64(stats.ChecksPassed) / float64(n)
	}

	if len(c.statusCodes) > 0 {
		stats.StatusCodes = make(map[string]int, len(c.statusCodes))
		for code, n := range c.statusCodes {
			stats.StatusCodes[strconv.Itoa(code)] = int(n)
		}
	}

	if len(c.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			stats.Errors[k] = int(v)
		}
	}

	return stats
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
