package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTestTracer swaps in a synchronous in-memory exporter and a
// W3C propagator, restoring both when the test ends.
func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	otel.SetTracerProvider(trace.NewTracerProvider(trace.WithSyncer(exporter)))
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return exporter
}

func TestEnvOr(t *testing.T) {
	t.Setenv("SERVICE_VERSION", "")
	if got := envOr("SERVICE_VERSION", "dev"); got != "dev" {
		t.Errorf("envOr unset = %q, want dev", got)
	}
	t.Setenv("SERVICE_VERSION", "1.4.2")
	if got := envOr("SERVICE_VERSION", "dev"); got != "1.4.2" {
		t.Errorf("envOr set = %q, want 1.4.2", got)
	}
}

func TestInstanceID(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		podName  string
		want     string
	}{
		{"hostname wins", "node-1", "aegishook-worker-abc123", "node-1"},
		{"pod name fallback", "", "aegishook-worker-abc123", "aegishook-worker-abc123"},
		{"neither set", "", "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOSTNAME", tt.hostname)
			t.Setenv("POD_NAME", tt.podName)
			if got := instanceID(); got != tt.want {
				t.Errorf("instanceID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOtlpEndpoint(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want string
	}{
		{"default", "", "tempo:4318"},
		{"bare host port", "collector:4318", "collector:4318"},
		{"http scheme stripped", "http://collector:4318", "collector:4318"},
		{"https scheme stripped", "https://collector:4318", "collector:4318"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", tt.env)
			if got := otlpEndpoint(); got != tt.want {
				t.Errorf("otlpEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStartSpanRecordsNameAndAttributes(t *testing.T) {
	exporter := installTestTracer(t)

	ctx, span := StartSpan(context.Background(), "worker.dispatch",
		attribute.String("job_id", "job-1"),
		attribute.Int("attempt", 3),
	)
	if GetTraceID(ctx) == "" {
		t.Error("no trace ID inside started span")
	}
	if GetSpanID(ctx) == "" {
		t.Error("no span ID inside started span")
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "worker.dispatch" {
		t.Errorf("span name = %q", got.Name)
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range got.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if v, ok := attrs["job_id"]; !ok || v.AsString() != "job-1" {
		t.Errorf("job_id attribute = %v", v)
	}
	if v, ok := attrs["attempt"]; !ok || v.AsInt64() != 3 {
		t.Errorf("attempt attribute = %v", v)
	}
}

func TestAddSpanEvent(t *testing.T) {
	exporter := installTestTracer(t)

	ctx, span := StartSpan(context.Background(), "dispatch.Handle")
	AddSpanEvent(ctx, "lease.busy", attribute.String("endpoint_id", "ep-1"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if len(spans[0].Events) != 1 || spans[0].Events[0].Name != "lease.busy" {
		t.Fatalf("events = %+v, want one lease.busy", spans[0].Events)
	}

	// No active span: must not panic.
	AddSpanEvent(context.Background(), "noop")
}

func TestSetSpanError(t *testing.T) {
	exporter := installTestTracer(t)

	ctx, span := StartSpan(context.Background(), "dispatch.Handle")
	SetSpanError(ctx, errors.New("connection refused"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status code = %v, want Error", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "connection refused" {
		t.Errorf("status description = %q", spans[0].Status.Description)
	}

	// nil error and no active span are both no-ops.
	SetSpanError(ctx, nil)
	SetSpanError(context.Background(), errors.New("ignored"))
}

func TestTraceIDsOutsideSpan(t *testing.T) {
	if got := GetTraceID(context.Background()); got != "" {
		t.Errorf("GetTraceID(no span) = %q, want empty", got)
	}
	if got := GetSpanID(context.Background()); got != "" {
		t.Errorf("GetSpanID(no span) = %q, want empty", got)
	}
}

func TestNSQPropagationRoundTrip(t *testing.T) {
	installTestTracer(t)

	ctx, span := StartSpan(context.Background(), "intake.fanout")
	defer span.End()

	headers := PropagateTraceToNSQ(ctx)
	if len(headers) == 0 {
		t.Fatal("no headers injected for active trace")
	}

	resumed := ExtractTraceFromNSQ(context.Background(), headers)
	if got, want := GetTraceID(resumed), GetTraceID(ctx); got != want {
		t.Errorf("resumed trace ID = %q, want %q", got, want)
	}

	// Nil headers leave the context traceless.
	if got := GetTraceID(ExtractTraceFromNSQ(context.Background(), nil)); got != "" {
		t.Errorf("extract from nil headers produced trace %q", got)
	}

	// Garbage headers are ignored, not fatal.
	junk := map[string]string{"traceparent": "not-a-traceparent"}
	if got := GetTraceID(ExtractTraceFromNSQ(context.Background(), junk)); got != "" {
		t.Errorf("extract from junk headers produced trace %q", got)
	}
}
