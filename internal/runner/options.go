package runner

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/rampfire/internal/schedule"
)

const (
	// DefaultInterval is how often the pool is reconciled when Options.Interval is unset.
	DefaultInterval = 100 * time.Millisecond
	// MaxInterval bounds the reconcile period so ramps never lag by more than a second.
	MaxInterval = time.Second
)

var (
	ErrNoSchedule  = errors.New("runner: schedule is required")
	ErrNoBuilder   = errors.New("runner: request builder is required")
	ErrNoTransport = errors.New("runner: transport is required")
	ErrNoSink      = errors.New("runner: sink is required")
)

// Options configure the Driver.
type Options struct {
	Schedule  *schedule.Schedule // target worker count over time (required)
	Builder   RequestBuilder     // request factory (required)
	Transport Transport          // request executor (required)
	Checker   Checker            // optional response checks
	Sink      Sink               // outcome consumer (required)
	Interval  time.Duration      // reconcile period; 0 means DefaultInterval
	Logger    *zap.Logger        // lifecycle logging; nil disables
}

func (o *Options) validate() error {
	switch {
	case o.Schedule == nil:
		return ErrNoSchedule
	case o.Builder == nil:
		return ErrNoBuilder
	case o.Transport == nil:
		return ErrNoTransport
	case o.Sink == nil:
		return ErrNoSink
	}
	return nil
}

func (o *Options) normalize() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Interval > MaxInterval {
		o.Interval = MaxInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
