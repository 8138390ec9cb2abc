// Package trace wires OpenTelemetry span emission around the
// session/pipeline/dispatch boundary. Grounded on
// coreengine/observability/tracing.go's InitTracer: same OTLP/gRPC
// exporter, resource, and always-sample trace provider wiring,
// renamed to this module's service and given a Tracer wrapper whose
// Start is nil-safe, so a *Tracer field can be left unset wherever a
// process runs without tracing configured.
package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Init sets the process-global TracerProvider, exporting spans over
// OTLP/gRPC to endpoint. Returns a shutdown function that must run on
// process termination to flush the batcher.
func Init(serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer emits spans under a fixed name via the process-global
// TracerProvider. The zero value is not usable; use New. A nil
// *Tracer is usable, and Start on it is a no-op that returns ctx
// unchanged — every call site that takes an optional *Tracer can skip
// a nil check.
type Tracer struct {
	tr oteltrace.Tracer
}

// New returns a Tracer scoped to name, typically the package path of
// the caller.
func New(name string) *Tracer {
	return &Tracer{tr: otel.Tracer(name)}
}

// Start begins a child span named spanName under ctx's current span,
// if any. Callers must call the returned span's End.
func (t *Tracer) Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if t == nil {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	opts := []oteltrace.SpanStartOption{}
	if len(attrs) > 0 {
		opts = append(opts, oteltrace.WithAttributes(attrs...))
	}
	return t.tr.Start(ctx, spanName, opts...)
}

// RecordError marks span as failed and attaches err, if err is
// non-nil.
func RecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
