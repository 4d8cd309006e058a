package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerState is the lifecycle position of a single worker.
type WorkerState int32

const (
	StateRunning WorkerState = iota
	StateDraining
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

type worker struct {
	id         uint64
	started    time.Time
	state      atomic.Int32
	ctx        context.Context // cancelled by signal
	cancel     context.CancelFunc
	stop       chan struct{}
	stopOnce   sync.Once
	iterations uint64 // owned by the worker goroutine
}

func newWorker(parent context.Context, id uint64) *worker {
	ctx, cancel := context.WithCancel(parent)
	return &worker{id: id, started: time.Now(), ctx: ctx, cancel: cancel, stop: make(chan struct{})}
}

func (w *worker) State() WorkerState { return WorkerState(w.state.Load()) }

// signal asks the worker to stop after its current iteration and cancels the
// context handed to the transport. Safe to call more than once.
func (w *worker) signal() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.cancel()
	})
}

func (w *worker) signalled() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// loop runs iterations back to back until signalled. The stop signal is only
// consulted between iterations.
func (w *worker) loop(d *Driver) {
	for !w.signalled() {
		d.iterate(w.ctx, w.id, w.iterations)
		w.iterations++
	}
	w.state.Store(int32(StateDraining))
}

// iterate performs one build, dispatch, check and emit cycle. It always emits
// exactly one outcome.
func (d *Driver) iterate(ctx context.Context, workerID, iteration uint64) {
	out := Outcome{WorkerID: workerID, Iteration: iteration, Timestamp: time.Now()}

	req, err := d.opt.Builder.Build(ctx, WorkerInfo{ID: workerID, Iteration: iteration})
	if err != nil {
		out.Failed = true
		out.Err = fmt.Errorf("build request: %w", err)
		d.record(out)
		return
	}

	began := time.Now()
	resp, err := d.opt.Transport.Dispatch(ctx, req)
	out.Latency = time.Since(began)
	if resp != nil && resp.Latency > 0 {
		out.Latency = resp.Latency
	}
	if err != nil {
		out.Failed = true
		out.Err = &DispatchError{Method: req.Method, URL: req.URL, Err: err}
		d.record(out)
		return
	}
	if resp == nil {
		out.Failed = true
		out.Err = &DispatchError{Method: req.Method, URL: req.URL, Err: errNilResponse}
		d.record(out)
		return
	}

	out.StatusCode = resp.StatusCode
	if d.opt.Checker != nil {
		out.Checks = d.opt.Checker.Check(resp)
	}
	d.record(out)
}

func (d *Driver) record(out Outcome) {
	d.iterations.Add(1)
	if out.Failed {
		d.failures.Add(1)
	} else if !out.Passed() {
		d.checkFailures.Add(1)
	}
	d.opt.Sink.Emit(out)
}
