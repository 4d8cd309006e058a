package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/rampfire/internal/schedule"
)

// Result captures the execution summary.
type Result struct {
	Iterations    int64 // outcomes emitted
	Failures      int64 // outcomes with a transport or build failure
	CheckFailures int64 // completed outcomes with at least one false check
	Started       int64 // workers started over the whole run
	PeakRunning   int64
	Duration      time.Duration
}

// Snapshot is a point-in-time view of the pool.
type Snapshot struct {
	Elapsed    time.Duration
	Stage      int // active stage index, -1 for fixed or finished schedules
	Target     int
	Running    int64 // workers not asked to stop
	Draining   int64 // workers signalled but not yet exited
	Started    int64
	Iterations int64
	Failures   int64
}

// Driver reconciles a pool of workers against a schedule.
type Driver struct {
	opt Options

	mu       sync.Mutex
	active   []*worker // running workers, oldest first
	draining map[uint64]*worker
	stopping bool
	nextID   uint64

	begin         atomic.Int64 // unix nanos; 0 until Run
	target        atomic.Int64
	running       atomic.Int64
	drainingCount atomic.Int64
	started       atomic.Int64
	peak          atomic.Int64
	iterations    atomic.Int64
	failures      atomic.Int64
	checkFailures atomic.Int64

	events chan struct{}
	wg     sync.WaitGroup
}

// New validates opt and returns a Driver ready to Run.
func New(opt Options) (*Driver, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	opt.normalize()
	return &Driver{
		opt:      opt,
		draining: make(map[uint64]*worker),
		events:   make(chan struct{}, 1),
	}, nil
}

// Run drives the pool until the schedule ends or ctx is cancelled, then
// drains every worker and waits for in-flight iterations to finish. A Driver
// runs once.
func (d *Driver) Run(ctx context.Context) Result {
	start := time.Now()
	d.begin.Store(start.UnixNano())

	// Workers outlive cancellation of the run; their own stop signal ends them.
	reqCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(d.opt.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(d.opt.Schedule.TotalDuration())
	defer deadline.Stop()

	d.opt.Logger.Debug("run started",
		zap.Stringer("schedule", d.opt.Schedule),
		zap.Duration("interval", d.opt.Interval))

	d.reconcile(reqCtx, 0)
loop:
	for {
		select {
		case <-ctx.Done():
			d.opt.Logger.Debug("run cancelled", zap.Error(ctx.Err()))
			break loop
		case <-deadline.C:
			break loop
		case <-ticker.C:
		case <-d.events:
		}
		d.reconcile(reqCtx, time.Since(start))
	}

	d.stopAll()
	d.wg.Wait()

	return Result{
		Iterations:    d.iterations.Load(),
		Failures:      d.failures.Load(),
		CheckFailures: d.checkFailures.Load(),
		Started:       d.started.Load(),
		PeakRunning:   d.peak.Load(),
		Duration:      time.Since(start),
	}
}

// reconcile moves the running pool to the schedule's target at elapsed.
func (d *Driver) reconcile(ctx context.Context, elapsed time.Duration) {
	target := d.opt.Schedule.TargetAt(elapsed)
	d.target.Store(int64(target))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopping {
		return
	}

	running := len(d.active)
	switch {
	case running < target:
		for i := running; i < target; i++ {
			d.startLocked(ctx)
		}
	case running > target:
		// Newest workers go first.
		for i := running - 1; i >= target; i-- {
			d.drainLocked(d.active[i])
			d.active[i] = nil
		}
		d.active = d.active[:target]
	}

	if n := int64(len(d.active)); n > d.peak.Load() {
		d.peak.Store(n)
	}
}

func (d *Driver) startLocked(ctx context.Context) {
	d.nextID++
	w := newWorker(ctx, d.nextID)
	d.active = append(d.active, w)
	d.running.Add(1)
	d.started.Add(1)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.exited(w)
		w.loop(d)
	}()
}

func (d *Driver) drainLocked(w *worker) {
	w.signal()
	d.draining[w.id] = w
	d.running.Add(-1)
	d.drainingCount.Add(1)
}

// stopAll signals every running worker. No new workers start afterwards.
func (d *Driver) stopAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopping = true
	d.target.Store(0)
	for i := len(d.active) - 1; i >= 0; i-- {
		d.drainLocked(d.active[i])
	}
	d.active = nil
}

func (d *Driver) exited(w *worker) {
	d.mu.Lock()
	if _, ok := d.draining[w.id]; ok {
		delete(d.draining, w.id)
		d.drainingCount.Add(-1)
	}
	d.mu.Unlock()
	w.state.Store(int32(StateStopped))

	d.opt.Logger.Debug("worker stopped",
		zap.Uint64("worker", w.id),
		zap.Uint64("iterations", w.iterations),
		zap.Duration("lifetime", time.Since(w.started)))

	select {
	case d.events <- struct{}{}:
	default:
	}
}

// Snapshot returns current pool counters. Safe to call concurrently with Run.
func (d *Driver) Snapshot() Snapshot {
	var elapsed time.Duration
	if begin := d.begin.Load(); begin != 0 {
		elapsed = time.Since(time.Unix(0, begin))
	}
	return Snapshot{
		Elapsed:    elapsed,
		Stage:      d.opt.Schedule.StageAt(elapsed),
		Target:     int(d.target.Load()),
		Running:    d.running.Load(),
		Draining:   d.drainingCount.Load(),
		Started:    d.started.Load(),
		Iterations: d.iterations.Load(),
		Failures:   d.failures.Load(),
	}
}

// Schedule returns the schedule the driver follows.
func (d *Driver) Schedule() *schedule.Schedule { return d.opt.Schedule }
