package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/rampfire/internal/metrics"
	"github.com/torosent/rampfire/internal/runner"
)

// PoolSource reports the live state of the worker pool.
type PoolSource interface {
	Snapshot() runner.Snapshot
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	pool      PoolSource
	stages    int
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. stages is the number of schedule stages, 0 for fixed mode.
func NewProgressReporter(collector *metrics.Collector, pool PoolSource, stages int, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		pool:      pool,
		stages:    stages,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and terminates the line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+p.line())
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line() string {
	snap := p.pool.Snapshot()
	stats := p.collector.Stats(snap.Elapsed)
	return FormatProgress(snap, stats, p.stages)
}

// FormatProgress renders one status line from a pool snapshot and the
// current statistics.
func FormatProgress(snap runner.Snapshot, stats metrics.Stats, stages int) string {
	line := fmt.Sprintf("[%s]", snap.Elapsed.Truncate(time.Second))
	if stages > 0 {
		if snap.Stage >= 0 {
			line += fmt.Sprintf(" Stage %d/%d", snap.Stage+1, stages)
		} else {
			line += " Holding"
		}
	}
	line += fmt.Sprintf(" | Workers: %d/%d", snap.Running, snap.Target)
	if snap.Draining > 0 {
		line += fmt.Sprintf(" (+%d draining)", snap.Draining)
	}
	line += fmt.Sprintf(" | Requests: %d | Failures: %d | RPS: %.1f",
		stats.Total, stats.Failures, stats.RequestsPerSec)
	if stats.ChecksPassed+stats.ChecksFailed > 0 {
		line += fmt.Sprintf(" | Checks: %.1f%%", stats.ChecksRate*100)
	}
	return line
}
