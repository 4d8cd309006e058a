// Package dashboard renders a live terminal view of a staged run: target
// versus running workers, latency, throughput and check results.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/rampfire/internal/metrics"
	"github.com/torosent/rampfire/internal/runner"
	"github.com/torosent/rampfire/internal/schedule"
)

const historyLen = 120

// PoolSource reports the live state of the worker pool.
type PoolSource interface {
	Snapshot() runner.Snapshot
}

// TestConfig holds run parameters for display.
type TestConfig struct {
	TargetURL  string
	Method     string
	Timeout    time.Duration
	Retries    int
	ConfigFile string
}

// Dashboard renders a live terminal UI for a run.
type Dashboard struct {
	collector    *metrics.Collector
	pool         PoolSource
	schedule     *schedule.Schedule
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid           *ui.Grid
	summaryPara    *widgets.Paragraph
	workersPlot    *widgets.Plot
	latencySparkle *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	rpsGauge       *widgets.Gauge
	checkList      *widgets.List
	statusList     *widgets.List

	targetHistory  []float64
	runningHistory []float64
	latencyHistory []float64
	testConfig     TestConfig
}

// New initializes the terminal and builds the layout. shutdownFunc is called
// when the user presses q or Ctrl-C.
func New(collector *metrics.Collector, pool PoolSource, sched *schedule.Schedule, cfg TestConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	d := newDashboard(collector, pool, sched, cfg, shutdownFunc)
	d.setupGrid()
	return d, nil
}

func newDashboard(collector *metrics.Collector, pool PoolSource, sched *schedule.Schedule, cfg TestConfig, shutdownFunc func()) *Dashboard {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		collector:      collector,
		pool:           pool,
		schedule:       sched,
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		targetHistory:  make([]float64, 0, historyLen),
		runningHistory: make([]float64, 0, historyLen),
		latencyHistory: make([]float64, 0, historyLen),
		testConfig:     cfg,
	}
	d.initWidgets()
	return d
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	// Series 0 is the scheduled target, series 1 the running workers.
	d.workersPlot = widgets.NewPlot()
	d.workersPlot.Title = "Workers: target (yellow) vs running (green)"
	d.workersPlot.Data = [][]float64{{0, 0}, {0, 0}}
	d.workersPlot.LineColors = []ui.Color{ui.ColorYellow, ui.ColorGreen}
	d.workersPlot.AxesColor = ui.ColorWhite
	d.workersPlot.BorderStyle.Fg = ui.ColorCyan
	if d.schedule != nil {
		d.workersPlot.MaxVal = float64(d.schedule.MaxTarget()) + 1
	}

	sparkline := widgets.NewSparkline()
	sparkline.Title = "Mean latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}
	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "Min: 0ms\nMean: 0ms\nP50: 0ms\nP95: 0ms\nP99: 0ms"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.rpsGauge = widgets.NewGauge()
	d.rpsGauge.Title = "Requests Per Second"
	d.rpsGauge.BarColor = ui.ColorBlue
	d.rpsGauge.BorderStyle.Fg = ui.ColorCyan
	d.rpsGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.checkList = widgets.NewList()
	d.checkList.Title = "Checks"
	d.checkList.Rows = []string{"Awaiting data"}
	d.checkList.BorderStyle.Fg = ui.ColorCyan

	d.statusList = widgets.NewList()
	d.statusList.Title = "Status Codes / Errors"
	d.statusList.Rows = []string{"Awaiting data"}
	d.statusList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.statusList.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(0.65, d.summaryPara),
			ui.NewCol(0.35, d.rpsGauge),
		),
		ui.NewRow(0.32,
			ui.NewCol(1.0, d.workersPlot),
		),
		ui.NewRow(0.24,
			ui.NewCol(0.65, d.latencySparkle),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.28,
			ui.NewCol(0.5, d.checkList),
			ui.NewCol(0.5, d.statusList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop cancels the context once the run has wound down.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

// update refreshes all widget data from the pool and the collector.
func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.pool.Snapshot()
	stats := d.collector.Stats(snap.Elapsed)

	d.targetHistory = appendHistory(d.targetHistory, float64(snap.Target))
	d.runningHistory = appendHistory(d.runningHistory, float64(snap.Running))
	if len(d.targetHistory) >= 2 {
		d.workersPlot.Data = [][]float64{d.targetHistory, d.runningHistory}
	}
	d.workersPlot.Title = fmt.Sprintf("Workers: target %d (yellow) vs running %d (green)", snap.Target, snap.Running)

	if stats.MeanLatency > 0 {
		d.latencyHistory = appendHistory(d.latencyHistory, stats.MeanLatencyMs)
		d.latencySparkle.Sparklines[0].Data = d.latencyHistory
		d.latencySparkle.Title = fmt.Sprintf("Latency | Mean: %.2fms | Max: %.2fms", stats.MeanLatencyMs, stats.MaxLatencyMs)
	}

	maxRPS := 100.0
	if stats.RequestsPerSec > maxRPS {
		maxRPS = stats.RequestsPerSec
	}
	d.rpsGauge.Percent = int((stats.RequestsPerSec / maxRPS) * 100)
	d.rpsGauge.Label = fmt.Sprintf("%.1f RPS", stats.RequestsPerSec)

	d.summaryPara.Text = d.formatSummary(snap, stats)
	d.latencyPara.Text = fmt.Sprintf(
		"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP95:  %.2fms\nP99:  %.2fms",
		stats.MinLatencyMs, stats.MeanLatencyMs, stats.P50LatencyMs, stats.P95LatencyMs, stats.P99LatencyMs,
	)
	d.checkList.Rows = formatCheckRows(stats)
	d.statusList.Rows = formatStatusRows(stats)
}

func (d *Dashboard) formatSummary(snap runner.Snapshot, stats metrics.Stats) string {
	stage := "fixed"
	total := time.Duration(0)
	if d.schedule != nil {
		total = d.schedule.TotalDuration()
		if !d.schedule.IsFixed() {
			if snap.Stage >= 0 {
				stage = fmt.Sprintf("stage %d/%d", snap.Stage+1, len(d.schedule.Stages()))
			} else {
				stage = "holding"
			}
		}
	}
	return fmt.Sprintf(
		"%s %s\n%s\nElapsed: %s / %s | %s | Workers %d/%d (%d draining) | Requests %d | Failed %d",
		d.testConfig.Method,
		d.testConfig.TargetURL,
		d.formatTestParams(),
		snap.Elapsed.Round(time.Second),
		total,
		stage,
		snap.Running,
		snap.Target,
		snap.Draining,
		stats.Total,
		stats.Failures,
	)
}

func (d *Dashboard) formatTestParams() string {
	var parts []string
	if d.schedule != nil {
		parts = append(parts, "Schedule: "+d.schedule.String())
	}
	if d.testConfig.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", d.testConfig.Timeout))
	}
	if d.testConfig.Retries > 0 {
		parts = append(parts, fmt.Sprintf("Retries: %d", d.testConfig.Retries))
	}
	if d.testConfig.ConfigFile != "" {
		parts = append(parts, "Config: "+d.testConfig.ConfigFile)
	}
	return strings.Join(parts, " | ")
}

func appendHistory(history []float64, v float64) []float64 {
	history = append(history, v)
	if len(history) > historyLen {
		history = history[len(history)-historyLen:]
	}
	return history
}

func formatCheckRows(stats metrics.Stats) []string {
	if len(stats.Checks) == 0 {
		return []string{"[No checks configured](fg:white)"}
	}
	rows := make([]string, 0, len(stats.Checks)+1)
	rows = append(rows, fmt.Sprintf("[checks %.1f%%](fg:cyan,mod:bold)", stats.ChecksRate*100))
	for _, cs := range stats.Checks {
		if cs.Fails == 0 {
			rows = append(rows, fmt.Sprintf("[✓ %s](fg:green) %d", cs.Name, cs.Passes))
			continue
		}
		rows = append(rows, fmt.Sprintf("[✗ %s](fg:red) %.1f%% (✓ %d / ✗ %d)", cs.Name, cs.Rate*100, cs.Passes, cs.Fails))
	}
	return rows
}

func formatStatusRows(stats metrics.Stats) []string {
	codes := metrics.FlattenStatusCodes(stats.StatusCodes)
	if len(codes) == 0 && len(stats.Errors) == 0 {
		return []string{"[No responses yet](fg:green)"}
	}
	rows := make([]string, 0, len(codes)+len(stats.Errors))
	for _, row := range codes {
		color := "green"
		if row.Class != "2xx" && row.Class != "3xx" {
			color = "red"
		}
		rows = append(rows, fmt.Sprintf("[HTTP %s](fg:%s) %d", row.Code, color, row.Count))
	}
	names := make([]string, 0, len(stats.Errors))
	for name := range stats.Errors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return stats.Errors[names[i]] > stats.Errors[names[j]] })
	for _, name := range names {
		rows = append(rows, fmt.Sprintf("[%s](fg:red) %d", name, stats.Errors[name]))
	}
	if len(rows) > 10 {
		rows = rows[:10]
	}
	return rows
}
