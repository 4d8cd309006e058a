package logging

import (
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/rampfire/internal/runner"
)

// FailureLogger logs failed iterations at a bounded rate. Entries over the
// limit are counted and the count is attached to the next entry that gets
// through. It implements runner.FailureLogger.
type FailureLogger struct {
	logger     *zap.Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewFailureLogger allows perSecond entries on average with bursts of burst.
func NewFailureLogger(logger *zap.Logger, perSecond float64, burst int) *FailureLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if burst < 1 {
		burst = 1
	}
	return &FailureLogger{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (f *FailureLogger) LogFailure(o runner.Outcome) {
	if !f.limiter.Allow() {
		f.suppressed.Add(1)
		return
	}

	fields := []zap.Field{
		zap.Uint64("worker", o.WorkerID),
		zap.Uint64("iteration", o.Iteration),
		zap.Duration("latency", o.Latency),
	}
	if n := f.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Int64("suppressed", n))
	}

	if o.Failed {
		fields = append(fields, zap.Error(o.Err))
		f.logger.Warn("request failed", fields...)
		return
	}
	failed := o.FailedChecks()
	sort.Strings(failed)
	fields = append(fields, zap.Int("status", o.StatusCode), zap.Strings("checks", failed))
	f.logger.Warn("check failed", fields...)
}

// Flush reports entries suppressed since the last logged failure.
func (f *FailureLogger) Flush() {
	if n := f.suppressed.Swap(0); n > 0 {
		f.logger.Warn("failure logs suppressed", zap.Int64("suppressed", n))
	}
}

// Suppressed returns the number of entries currently held back.
func (f *FailureLogger) Suppressed() int64 {
	return f.suppressed.Load()
}
