package httpclient

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/torosent/rampfire/internal/runner"
)

// RetryPolicy configures retry behavior for requests that fail to complete.
type RetryPolicy struct {
	MaxAttempts int                             // total attempts including the first
	Delay       time.Duration                   // base delay; attempt n waits n*Delay
	Backoff     func(attempt int) time.Duration // overrides Delay when set
	ShouldRetry func(error) bool                // nil retries every transport error
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff != nil {
		return p.Backoff(attempt)
	}
	return p.Delay * time.Duration(attempt)
}

type retryTransport struct {
	inner  runner.Transport
	policy RetryPolicy
}

// WithRetry wraps a Transport with retry capability. Policies allowing a
// single attempt return inner unchanged.
func WithRetry(inner runner.Transport, policy RetryPolicy) runner.Transport {
	if policy.MaxAttempts <= 1 {
		return inner
	}
	return &retryTransport{inner: inner, policy: policy}
}

// Dispatch retries failed exchanges. Cancelling ctx ends any backoff wait and
// prevents further attempts; the attempt in flight is left to the inner
// transport.
func (r *retryTransport) Dispatch(ctx context.Context, req runner.Request) (*runner.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		resp, err := r.inner.Dispatch(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt == r.policy.MaxAttempts || ctx.Err() != nil {
			break
		}
		if r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(err) {
			break
		}
		if delay := r.policy.delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

// RetryableError retries network errors except those caused by the caller
// cancelling the request.
func RetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return !errors.Is(err, context.DeadlineExceeded)
}
