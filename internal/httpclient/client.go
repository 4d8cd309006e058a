package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/rampfire/internal/config"
	"github.com/torosent/rampfire/internal/runner"
	"github.com/torosent/rampfire/internal/tracing"
)

// DefaultMaxBodyBytes caps how much of a response body is kept for checks.
const DefaultMaxBodyBytes = 1 << 20

type RequestBuilder struct {
	method  string
	target  string
	headers http.Header
	body    []byte
}

func NewRequestBuilder(cfg *config.Config) (*RequestBuilder, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	target := strings.TrimSpace(cfg.TargetURL)
	if target == "" {
		return nil, errors.New("target URL is required")
	}

	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}

	body, err := LoadBody(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for key, value := range cfg.Headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}
	if len(body) > 0 && headers.Get("Content-Type") == "" && gjson.ValidBytes(body) {
		headers.Set("Content-Type", "application/json")
	}

	return &RequestBuilder{
		method:  method,
		target:  target,
		headers: headers,
		body:    body,
	}, nil
}

// Build returns the configured request. Headers are cloned per call so the
// transport may add to them.
func (b *RequestBuilder) Build(_ context.Context, _ runner.WorkerInfo) (runner.Request, error) {
	if b == nil {
		return runner.Request{}, errors.New("builder cannot be nil")
	}
	return runner.Request{
		Method: b.method,
		URL:    b.target,
		Header: b.headers.Clone(),
		Body:   b.body,
	}, nil
}

// NewClient returns a client tuned for many concurrent workers hitting one
// host. maxConnsPerHost is usually the schedule's peak target.
func NewClient(timeout time.Duration, maxConnsPerHost int) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	if maxConnsPerHost < 32 {
		maxConnsPerHost = 32
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxConnsPerHost * 2,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Transport dispatches runner requests over an http.Client.
type Transport struct {
	client    *http.Client
	tracer    trace.Tracer
	propagate bool
	maxBody   int64
}

type TransportOption func(*Transport)

// WithTracer records a client span per request. When propagate is set the
// span context is injected into the outgoing headers.
func WithTracer(tracer trace.Tracer, propagate bool) TransportOption {
	return func(t *Transport) {
		t.tracer = tracer
		t.propagate = propagate
	}
}

// WithMaxBodyBytes limits how much of each response body is retained.
func WithMaxBodyBytes(n int64) TransportOption {
	return func(t *Transport) {
		if n > 0 {
			t.maxBody = n
		}
	}
}

func NewTransport(client *http.Client, opts ...TransportOption) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	t := &Transport{client: client, maxBody: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Dispatch(ctx context.Context, req runner.Request) (*runner.Response, error) {
	var span trace.Span
	if t.tracer != nil {
		ctx, span = tracing.StartRequestSpan(ctx, t.tracer, req.Method, req.URL)
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	// The exchange runs to completion once sent; the client timeout bounds it.
	httpReq, err := http.NewRequestWithContext(context.WithoutCancel(ctx), req.Method, req.URL, body)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}
	if span != nil && t.propagate {
		tracing.InjectHTTPHeaders(ctx, httpReq.Header)
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody))
	if err == nil {
		// Drain the remainder so the connection can be reused.
		_, err = io.Copy(io.Discard, resp.Body)
	}
	latency := time.Since(start)
	if err != nil {
		err = fmt.Errorf("read response body: %w", err)
		endSpan(span, err)
		return nil, err
	}

	var spanErr error
	if resp.StatusCode >= http.StatusInternalServerError {
		spanErr = &StatusError{StatusCode: resp.StatusCode}
	}
	endSpan(span, spanErr,
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Int64("rampfire.latency_ms", latency.Milliseconds()))

	return &runner.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Latency:    latency,
	}, nil
}

func endSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	tracing.EndSpan(span, err, attrs...)
}

// StatusError marks a server error response on a span. It is not returned
// from Dispatch: any response is a completed exchange.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}
