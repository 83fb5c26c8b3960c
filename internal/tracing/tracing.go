// Package tracing wires OpenTelemetry through both services. A trace
// crosses the NSQ hop via the task envelope's trace_headers map, so a
// single trace spans intake fan-out and every delivery attempt of the
// jobs it created.
package tracing

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for all spans in this repo.
const TracerName = "github.com/aegishook/aegishook"

// InitTracing installs a batching OTLP/HTTP trace provider as the
// global one and returns its shutdown func. Sampling is always-on; the
// collector decides what to keep.
func InitTracing(ctx context.Context, serviceName string) (func(), error) {
	res, err := serviceResource(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(otlpEndpoint()),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func() { _ = tp.Shutdown(ctx) }, nil
}

func serviceResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(envOr("SERVICE_VERSION", "dev")),
			attribute.String("service.instance.id", instanceID()),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
	)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func instanceID() string {
	for _, key := range []string{"HOSTNAME", "POD_NAME"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "unknown"
}

// otlpEndpoint returns the collector address as host:port. A scheme
// prefix is stripped because the HTTP exporter wants a bare authority.
func otlpEndpoint() string {
	ep := envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "tempo:4318")
	ep = strings.TrimPrefix(ep, "http://")
	ep = strings.TrimPrefix(ep, "https://")
	return ep
}

// StartSpan opens a span under this repo's instrumentation scope.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// AddSpanEvent attaches an event to the span in ctx, if any.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	oteltrace.SpanFromContext(ctx).AddEvent(name, oteltrace.WithAttributes(attrs...))
}

// SetSpanError marks the span in ctx failed and records err on it.
func SetSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID returns the hex trace ID in ctx, or "" when no sampled
// span is active.
func GetTraceID(ctx context.Context) string {
	if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the hex span ID in ctx, or "".
func GetSpanID(ctx context.Context) string {
	if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.SpanID().String()
	}
	return ""
}

// PropagateTraceToNSQ serializes the trace context in ctx into a map
// that rides on the task envelope.
func PropagateTraceToNSQ(ctx context.Context) map[string]string {
	headers := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return headers
}

// ExtractTraceFromNSQ resumes the trace carried in a task envelope's
// headers. An empty or nil map leaves ctx unchanged.
func ExtractTraceFromNSQ(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}
