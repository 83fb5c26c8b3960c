package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// capture returns a logger writing into buf.
func capture() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewWithWriter("aegishook-test", &buf), &buf
}

// lastLine decodes the single JSON line in buf.
func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("no log output")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, line)
	}
	return m
}

func TestEntryCarriesServiceAndLevel(t *testing.T) {
	logger, buf := capture()
	logger.Plain().Info("worker service started")

	m := lastLine(t, buf)
	if m["service"] != "aegishook-test" {
		t.Errorf("service = %v", m["service"])
	}
	if m["level"] != "info" {
		t.Errorf("level = %v", m["level"])
	}
	if m["msg"] != "worker service started" {
		t.Errorf("msg = %v", m["msg"])
	}
	if _, ok := m["time"]; !ok {
		t.Error("missing time field")
	}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name string
		log  func(e *LogEntry)
		want string
		msg  string
	}{
		{"debug", func(e *LogEntry) { e.Debug("d") }, "debug", "d"},
		{"debugf", func(e *LogEntry) { e.Debugf("d %d", 1) }, "debug", "d 1"},
		{"info", func(e *LogEntry) { e.Info("i") }, "info", "i"},
		{"infof", func(e *LogEntry) { e.Infof("i %s", "x") }, "info", "i x"},
		{"warn", func(e *LogEntry) { e.Warn("w") }, "warn", "w"},
		{"warnf", func(e *LogEntry) { e.Warnf("w %d", 2) }, "warn", "w 2"},
		{"error", func(e *LogEntry) { e.Error("e") }, "error", "e"},
		{"errorf", func(e *LogEntry) { e.Errorf("e %d", 3) }, "error", "e 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := capture()
			tt.log(logger.Plain())
			m := lastLine(t, buf)
			if m["level"] != tt.want || m["msg"] != tt.msg {
				t.Errorf("got level=%v msg=%v, want %s/%s", m["level"], m["msg"], tt.want, tt.msg)
			}
		})
	}
}

func TestIdentifierBuilders(t *testing.T) {
	logger, buf := capture()
	logger.Plain().
		WithTenant("tenant-a").
		WithEvent("evt-1").
		WithJob("job-1").
		WithEndpoint("ep-1").
		WithTraceID("deadbeef").
		Info("requeue delivery")

	m := lastLine(t, buf)
	for key, want := range map[string]string{
		"tenant_id":   "tenant-a",
		"event_id":    "evt-1",
		"job_id":      "job-1",
		"endpoint_id": "ep-1",
		"trace_id":    "deadbeef",
	} {
		if m[key] != want {
			t.Errorf("%s = %v, want %s", key, m[key], want)
		}
	}
}

func TestFields(t *testing.T) {
	logger, buf := capture()
	logger.WithFields(map[string]any{"attempt": 3}).
		WithField("delay", "8s").
		WithFields(map[string]any{"outcome": "transient"}).
		Info("requeue delivery")

	m := lastLine(t, buf)
	fields, ok := m["fields"].(map[string]any)
	if !ok {
		t.Fatalf("fields = %v", m["fields"])
	}
	if fields["attempt"] != float64(3) || fields["delay"] != "8s" || fields["outcome"] != "transient" {
		t.Errorf("fields = %v", fields)
	}
}

func TestWithError(t *testing.T) {
	logger, buf := capture()
	logger.Plain().WithError(errors.New("connection refused")).Error("delivery attempt errored")

	m := lastLine(t, buf)
	fields, _ := m["fields"].(map[string]any)
	if fields["error"] != "connection refused" {
		t.Errorf("error field = %v", fields["error"])
	}

	// nil error adds no fields key at all
	buf.Reset()
	logger.Plain().WithError(nil).Info("ok")
	if _, ok := lastLine(t, buf)["fields"]; ok {
		t.Error("nil error produced a fields object")
	}
}

func TestEmptyFieldsOmitted(t *testing.T) {
	logger, buf := capture()
	logger.Plain().Info("ok")
	if _, ok := lastLine(t, buf)["fields"]; ok {
		t.Error("empty entry carried a fields object")
	}
}

func TestWithContextCorrelation(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(trace.NewTracerProvider(trace.WithSyncer(exporter)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	tracer := otel.Tracer("logging-test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	logger, buf := capture()
	logger.WithContext(ctx).Info("traced")

	m := lastLine(t, buf)
	if m["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v", m["trace_id"])
	}
	if m["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("span_id = %v", m["span_id"])
	}

	// No span in context: no correlation fields.
	buf.Reset()
	logger.WithContext(context.Background()).Info("untraced")
	m = lastLine(t, buf)
	if _, ok := m["trace_id"]; ok {
		t.Error("untraced entry carried a trace_id")
	}
}

func TestFatalUsesExitHook(t *testing.T) {
	logger, buf := capture()
	var code = -1
	logger.exit = func(c int) { code = c }

	logger.Plain().Fatal("db connect failed")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if m := lastLine(t, buf); m["level"] != "fatal" {
		t.Errorf("level = %v, want fatal", m["level"])
	}

	code = -1
	buf.Reset()
	logger.Plain().Fatalf("db connect failed: %s", "timeout")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if m := lastLine(t, buf); m["msg"] != "db connect failed: timeout" {
		t.Errorf("msg = %v", m["msg"])
	}
}

func TestOneLinePerEntry(t *testing.T) {
	logger, buf := capture()
	logger.Plain().Info("first")
	logger.Plain().Info("second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for _, line := range lines {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Errorf("line is not standalone JSON: %s", line)
		}
	}
}
