package runner

import (
	"context"
	"net/http"
	"time"
)

// Request is the transport-neutral description of one HTTP call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is what a Transport returns for a completed exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration // measured by the transport; 0 lets the driver measure
}

// WorkerInfo identifies the worker and iteration a request is built for.
type WorkerInfo struct {
	ID        uint64
	Iteration uint64
}

// Outcome is the immutable record of one worker iteration.
type Outcome struct {
	WorkerID   uint64
	Iteration  uint64
	Timestamp  time.Time
	StatusCode int
	Latency    time.Duration
	Failed     bool  // transport or build failure; Checks is nil
	Err        error // set when Failed
	Checks     map[string]bool
}

// Passed reports whether the request completed and every check held.
func (o Outcome) Passed() bool {
	if o.Failed {
		return false
	}
	for _, ok := range o.Checks {
		if !ok {
			return false
		}
	}
	return true
}

// FailedChecks returns the names of checks that evaluated to false.
func (o Outcome) FailedChecks() []string {
	var names []string
	for name, ok := range o.Checks {
		if !ok {
			names = append(names, name)
		}
	}
	return names
}

// RequestBuilder produces the request for a worker iteration.
type RequestBuilder interface {
	Build(ctx context.Context, info WorkerInfo) (Request, error)
}

// Transport dispatches a request and blocks until a response or failure.
// Implementations own connection pooling, timeouts and any retry policy.
//
// ctx is cancelled when the worker is asked to stop. A Transport must finish
// an exchange already on the wire; it may use ctx to skip waits and further
// attempts.
type Transport interface {
	Dispatch(ctx context.Context, req Request) (*Response, error)
}

// Checker evaluates named predicates against a completed response.
type Checker interface {
	Check(resp *Response) map[string]bool
}

// Sink receives outcomes as they are produced. Emit is called concurrently
// from many workers and in no particular order.
type Sink interface {
	Emit(Outcome)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Outcome)

func (f SinkFunc) Emit(o Outcome) { f(o) }

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(resp *Response) map[string]bool

func (f CheckerFunc) Check(resp *Response) map[string]bool { return f(resp) }

// BuilderFunc adapts a function to the RequestBuilder interface.
type BuilderFunc func(ctx context.Context, info WorkerInfo) (Request, error)

func (f BuilderFunc) Build(ctx context.Context, info WorkerInfo) (Request, error) {
	return f(ctx, info)
}
