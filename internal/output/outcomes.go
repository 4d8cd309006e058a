package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/torosent/rampfire/internal/runner"
)

// ErrOutcomeFileLocked is returned when another run is writing the same
// outcomes file.
var ErrOutcomeFileLocked = errors.New("outcomes file is locked by another run")

// OutcomeRecord is one line of the outcome stream.
type OutcomeRecord struct {
	RunID     string          `json:"run_id,omitempty"`
	WorkerID  uint64          `json:"worker"`
	Iteration uint64          `json:"iteration"`
	Timestamp time.Time       `json:"ts"`
	Status    int             `json:"status,omitempty"`
	LatencyMs float64         `json:"latency_ms"`
	Failed    bool            `json:"failed,omitempty"`
	Error     string          `json:"error,omitempty"`
	Checks    map[string]bool `json:"checks,omitempty"`
}

// OutcomeWriter streams outcomes as JSON lines. It implements runner.Sink.
// The file is held under an exclusive advisory lock for the writer's
// lifetime.
type OutcomeWriter struct {
	mu    sync.Mutex
	runID string
	file  *os.File
	lock  *flock.Flock
	buf   *bufio.Writer
	enc   *json.Encoder
	err   error
	count int64
}

// NewOutcomeWriter truncates path and locks it for writing.
func NewOutcomeWriter(path, runID string) (*OutcomeWriter, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock outcomes file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrOutcomeFileLocked, path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open outcomes file: %w", err)
	}

	buf := bufio.NewWriter(file)
	return &OutcomeWriter{
		runID: runID,
		file:  file,
		lock:  lock,
		buf:   buf,
		enc:   json.NewEncoder(buf),
	}, nil
}

// Emit writes one outcome. The first write error is kept and returned from
// Close; later outcomes are dropped.
func (w *OutcomeWriter) Emit(o runner.Outcome) {
	rec := OutcomeRecord{
		RunID:     w.runID,
		WorkerID:  o.WorkerID,
		Iteration: o.Iteration,
		Timestamp: o.Timestamp,
		Status:    o.StatusCode,
		LatencyMs: float64(o.Latency) / float64(time.Millisecond),
		Failed:    o.Failed,
		Checks:    o.Checks,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil || w.enc == nil {
		return
	}
	if err := w.enc.Encode(rec); err != nil {
		w.err = err
		return
	}
	w.count++
}

// Count returns the number of records written.
func (w *OutcomeWriter) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes buffered records, closes the file and releases the lock.
func (w *OutcomeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return w.err
	}
	w.enc = nil

	errs := []error{w.err, w.buf.Flush(), w.file.Close(), w.lock.Unlock()}
	w.err = errors.Join(errs...)
	return w.err
}
