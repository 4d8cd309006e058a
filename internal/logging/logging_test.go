package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/rampfire/internal/config"
	"github.com/torosent/rampfire/internal/runner"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewJSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New(config.LogConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("ramp started", zap.Int("stages", 5))
	cleanup()

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug entry written at info level: %s", out)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", out, err)
	}
	if entry["msg"] != "ramp started" || entry["stages"].(float64) != 5 {
		t.Fatalf("entry = %v", entry)
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rampfire.log")
	var console bytes.Buffer
	logger, cleanup, err := New(config.LogConfig{Level: "debug", File: path}, &console)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Warn("worker drained", zap.Uint64("worker", 3))
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"worker drained"`) {
		t.Fatalf("file log = %s", data)
	}
	if !strings.Contains(console.String(), "worker drained") {
		t.Fatalf("console log = %s", console.String())
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, _, err := New(config.LogConfig{Level: "chatty"}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestFailureLoggerThrottles(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	fl := NewFailureLogger(zap.New(core), 0, 2)

	failure := runner.Outcome{WorkerID: 1, Failed: true, Err: errors.New("connection refused")}
	for i := 0; i < 5; i++ {
		fl.LogFailure(failure)
	}
	if logs.Len() != 2 {
		t.Fatalf("logged %d entries, want 2", logs.Len())
	}
	if fl.Suppressed() != 3 {
		t.Fatalf("suppressed = %d, want 3", fl.Suppressed())
	}

	fl.Flush()
	entries := logs.All()
	last := entries[len(entries)-1]
	if last.Message != "failure logs suppressed" || last.ContextMap()["suppressed"] != int64(3) {
		t.Fatalf("flush entry = %+v", last)
	}
	if fl.Suppressed() != 0 {
		t.Fatal("flush should reset the suppressed count")
	}
	fl.Flush()
	if logs.Len() != 3 {
		t.Fatal("flush with nothing suppressed should not log")
	}
}

func TestFailureLoggerCheckFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	fl := NewFailureLogger(zap.New(core), 100, 10)

	fl.LogFailure(runner.Outcome{
		WorkerID:   2,
		Iteration:  7,
		StatusCode: 500,
		Checks:     map[string]bool{"status is 204": false, "has id": false, "ok": true},
	})

	entries := logs.FilterMessage("check failed").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["status"] != int64(500) || ctx["worker"] != uint64(2) {
		t.Fatalf("context = %v", ctx)
	}
	checks, ok := ctx["checks"].([]interface{})
	if !ok || len(checks) != 2 || checks[0] != "has id" {
		t.Fatalf("checks = %#v", ctx["checks"])
	}
}
