package runner

import (
	"errors"
	"fmt"
)

var errNilResponse = errors.New("transport returned no response")

// DispatchError wraps a transport failure with the request it belongs to.
type DispatchError struct {
	Method string
	URL    string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// MultiSink fans each outcome out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(o Outcome) {
	for _, s := range m {
		if s != nil {
			s.Emit(o)
		}
	}
}

// FailureLogger reports iterations that did not pass.
type FailureLogger interface {
	LogFailure(o Outcome)
}

type loggingSink struct {
	inner  Sink
	logger FailureLogger
}

// WithFailureLogging wraps a Sink so failed iterations are also passed to
// logger. A nil logger returns sink unchanged.
func WithFailureLogging(sink Sink, logger FailureLogger) Sink {
	if logger == nil {
		return sink
	}
	return &loggingSink{inner: sink, logger: logger}
}

func (s *loggingSink) Emit(o Outcome) {
	if !o.Passed() {
		s.logger.LogFailure(o)
	}
	if s.inner != nil {
		s.inner.Emit(o)
	}
}
