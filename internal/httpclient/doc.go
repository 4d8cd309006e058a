// Package httpclient supplies the HTTP side of a run: it builds the request
// each worker sends and dispatches it over a pooled http.Client.
//
// [RequestBuilder] turns configuration into a [runner.Request]. The body is
// read once, from inline text or a file, and shared by every iteration. When
// the body is valid JSON and no Content-Type header is configured, the header
// is set to application/json.
//
// [Transport] implements [runner.Transport]. It enforces the per-request
// timeout through the client, reads the response body for checks and
// optionally wraps each exchange in an OpenTelemetry client span whose
// context is propagated in W3C headers.
//
// [WithRetry] adds a bounded retry loop in front of any transport for
// requests that fail to complete. A response, whatever its status, is never
// retried.
package httpclient
