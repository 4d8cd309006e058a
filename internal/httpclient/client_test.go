package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/torosent/rampfire/internal/config"
	"github.com/torosent/rampfire/internal/runner"
	"github.com/torosent/rampfire/internal/schedule"
)

func TestBuildRequestWithHeaders(t *testing.T) {
	cfg := &config.Config{
		Method:    "post",
		TargetURL: "http://localhost:8081/request-registration",
		Headers: map[string]string{
			"x-trace-id": "12345",
		},
		Body: `{"email":"test@example.com"}`,
	}

	builder, err := NewRequestBuilder(cfg)
	if err != nil {
		t.Fatalf("expected builder, got error: %v", err)
	}

	req, err := builder.Build(context.Background(), runner.WorkerInfo{ID: 1})
	if err != nil {
		t.Fatalf("expected request, got error: %v", err)
	}
	if req.Method != http.MethodPost {
		t.Fatalf("expected method POST, got %s", req.Method)
	}
	if req.URL != cfg.TargetURL {
		t.Fatalf("expected URL %s, got %s", cfg.TargetURL, req.URL)
	}
	if req.Header.Get("X-Trace-Id") != "12345" {
		t.Fatalf("expected canonical X-Trace-Id header, got %v", req.Header)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("expected JSON content type for JSON body, got %q", req.Header.Get("Content-Type"))
	}
	if string(req.Body) != cfg.Body {
		t.Fatalf("unexpected body %q", req.Body)
	}

	// Mutating one request must not leak into the next.
	req.Header.Set("X-Extra", "1")
	next, _ := builder.Build(context.Background(), runner.WorkerInfo{ID: 2})
	if next.Header.Get("X-Extra") != "" {
		t.Fatal("headers shared between built requests")
	}
}

func TestBuildKeepsExplicitContentType(t *testing.T) {
	builder, err := NewRequestBuilder(&config.Config{
		TargetURL: "http://example.com",
		Headers:   map[string]string{"Content-Type": "text/plain"},
		Body:      `{"a":1}`,
	})
	if err != nil {
		t.Fatalf("NewRequestBuilder: %v", err)
	}
	req, _ := builder.Build(context.Background(), runner.WorkerInfo{})
	if got := req.Header.Get("Content-Type"); got != "text/plain" {
		t.Fatalf("Content-Type = %q, want text/plain", got)
	}
	if req.Method != http.MethodGet {
		t.Fatalf("default method = %q, want GET", req.Method)
	}
}

func TestBuildNonJSONBodyHasNoContentType(t *testing.T) {
	builder, err := NewRequestBuilder(&config.Config{TargetURL: "http://example.com", Body: "plain text"})
	if err != nil {
		t.Fatalf("NewRequestBuilder: %v", err)
	}
	req, _ := builder.Build(context.Background(), runner.WorkerInfo{})
	if got := req.Header.Get("Content-Type"); got != "" {
		t.Fatalf("Content-Type = %q, want empty", got)
	}
}

func TestNewRequestBuilderErrors(t *testing.T) {
	cases := map[string]*config.Config{
		"nil config":     nil,
		"missing target": {},
		"bad header":     {TargetURL: "http://example.com", Headers: map[string]string{"X-A": "line\nbreak"}},
		"both bodies":    {TargetURL: "http://example.com", Body: "a", BodyFile: "b"},
		"missing file":   {TargetURL: "http://example.com", BodyFile: "/does/not/exist.json"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewRequestBuilder(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadBodyFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.json")
	if err := os.WriteFile(path, []byte(`{"email":"test@example.com"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := LoadBody(&config.Config{BodyFile: path})
	if err != nil {
		t.Fatalf("LoadBody: %v", err)
	}
	if string(data) != `{"email":"test@example.com"}` {
		t.Fatalf("unexpected body %q", data)
	}

	if _, err := LoadBody(&config.Config{BodyFile: dir}); err == nil {
		t.Fatal("expected error for directory body file")
	}
	if data, err := LoadBody(&config.Config{}); err != nil || data != nil {
		t.Fatalf("empty config: data=%q err=%v", data, err)
	}
}

func TestTransportDispatch(t *testing.T) {
	var gotBody, gotType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		if r.URL.Path != "/request-registration" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	transport := NewTransport(NewClient(time.Second, 10))
	resp, err := transport.Dispatch(context.Background(), runner.Request{
		Method: http.MethodPost,
		URL:    server.URL + "/request-registration",
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"email":"test@example.com"}`),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if resp.Latency <= 0 {
		t.Fatal("expected positive latency")
	}
	if gotBody != `{"email":"test@example.com"}` || gotType != "application/json" {
		t.Fatalf("server saw body=%q type=%q", gotBody, gotType)
	}
}

func TestTransportServerErrorIsAResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	resp, err := NewTransport(server.Client()).Dispatch(context.Background(), runner.Request{Method: "GET", URL: server.URL})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if !strings.Contains(string(resp.Body), "boom") {
		t.Fatalf("body = %q", resp.Body)
	}
}

func TestTransportTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	transport := NewTransport(NewClient(50*time.Millisecond, 1))
	_, err := transport.Dispatch(context.Background(), runner.Request{Method: "GET", URL: server.URL})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !RetryableError(err) {
		t.Fatalf("timeout should be retryable: %v", err)
	}
}

func TestTransportTruncatesLargeBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	resp, err := NewTransport(server.Client(), WithMaxBodyBytes(100)).Dispatch(context.Background(), runner.Request{Method: "GET", URL: server.URL})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(resp.Body) != 100 {
		t.Fatalf("len(body) = %d, want 100", len(resp.Body))
	}
}

func TestTransportTracingPropagatesContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var traceparent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transport := NewTransport(server.Client(), WithTracer(tp.Tracer("test"), true))
	if _, err := transport.Dispatch(context.Background(), runner.Request{Method: "POST", URL: server.URL + "/request-registration"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if traceparent == "" {
		t.Fatal("traceparent header not sent")
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "POST /request-registration" {
		t.Fatalf("span name = %q", spans[0].Name)
	}
	if !strings.Contains(traceparent, spans[0].SpanContext.TraceID().String()) {
		t.Fatalf("traceparent %q does not carry span trace id", traceparent)
	}
}

type flakyTransport struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyTransport) Dispatch(ctx context.Context, req runner.Request) (*runner.Response, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, errors.New("connection reset")
	}
	return &runner.Response{StatusCode: 204}, nil
}

func TestWithRetryRecovers(t *testing.T) {
	inner := &flakyTransport{failures: 2}
	tr := WithRetry(inner, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond})

	resp, err := tr.Dispatch(context.Background(), runner.Request{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.StatusCode != 204 || inner.calls.Load() != 3 {
		t.Fatalf("status=%d calls=%d", resp.StatusCode, inner.calls.Load())
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	inner := &flakyTransport{failures: 10}
	tr := WithRetry(inner, RetryPolicy{MaxAttempts: 2})
	if _, err := tr.Dispatch(context.Background(), runner.Request{}); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if inner.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", inner.calls.Load())
	}
}

func TestWithRetryHonorsShouldRetry(t *testing.T) {
	inner := &flakyTransport{failures: 10}
	tr := WithRetry(inner, RetryPolicy{MaxAttempts: 5, ShouldRetry: func(error) bool { return false }})
	_, _ = tr.Dispatch(context.Background(), runner.Request{})
	if inner.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", inner.calls.Load())
	}
}

func TestWithRetrySingleAttemptUnwrapped(t *testing.T) {
	inner := &flakyTransport{}
	if got := WithRetry(inner, RetryPolicy{MaxAttempts: 1}); got != runner.Transport(inner) {
		t.Fatal("expected inner transport to be returned unchanged")
	}
}

func TestRetryableError(t *testing.T) {
	if RetryableError(nil) {
		t.Error("nil should not be retryable")
	}
	if RetryableError(context.Canceled) {
		t.Error("cancellation should not be retryable")
	}
	if !RetryableError(errors.New("connection reset by peer")) {
		t.Error("generic transport error should be retryable")
	}
}

func TestWithRetryUsesBackoff(t *testing.T) {
	inner := &flakyTransport{failures: 2}
	var attempts []int
	tr := WithRetry(inner, RetryPolicy{
		MaxAttempts: 3,
		Delay:       time.Hour,
		Backoff: func(attempt int) time.Duration {
			attempts = append(attempts, attempt)
			return time.Millisecond
		},
	})
	if _, err := tr.Dispatch(context.Background(), runner.Request{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("backoff attempts = %v", attempts)
	}
}

func TestWithRetryStopsWaitingWhenCancelled(t *testing.T) {
	inner := &flakyTransport{failures: 10}
	tr := WithRetry(inner, RetryPolicy{MaxAttempts: 4, Delay: 300 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := tr.Dispatch(ctx, runner.Request{}); err == nil {
		t.Fatal("expected the last transport error")
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("Dispatch took %s after cancellation", elapsed)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", inner.calls.Load())
	}
}

func TestWithRetryNoAttemptAfterStop(t *testing.T) {
	inner := &flakyTransport{failures: 10}
	tr := WithRetry(inner, RetryPolicy{MaxAttempts: 4})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = tr.Dispatch(ctx, runner.Request{})
	if inner.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", inner.calls.Load())
	}
}

func TestTransportFinishesExchangeAfterCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	tr := NewTransport(NewClient(5*time.Second, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	resp, err := tr.Dispatch(ctx, runner.Request{Method: http.MethodPost, URL: server.URL})
	if err != nil {
		t.Fatalf("in-flight exchange was abandoned: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestDriverStopEndsRetryBackoff(t *testing.T) {
	sched, err := schedule.Fixed(1, 10*time.Second)
	if err != nil {
		t.Fatalf("schedule.Fixed: %v", err)
	}
	inner := &flakyTransport{failures: 1 << 30}
	d, err := runner.New(runner.Options{
		Schedule: sched,
		Builder: runner.BuilderFunc(func(context.Context, runner.WorkerInfo) (runner.Request, error) {
			return runner.Request{Method: http.MethodGet, URL: "http://localhost:8081/request-registration"}, nil
		}),
		Transport: WithRetry(inner, RetryPolicy{MaxAttempts: 4, Delay: 300 * time.Millisecond}),
		Sink:      runner.SinkFunc(func(runner.Outcome) {}),
	})
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := d.Run(ctx)

	if res.Duration > time.Second {
		t.Fatalf("Run returned after %s", res.Duration)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("transport attempts = %d, want 1", inner.calls.Load())
	}
	if res.Failures != 1 {
		t.Fatalf("failures = %d, want 1", res.Failures)
	}
}
