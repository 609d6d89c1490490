// Package tracing wires a run-level OpenTelemetry trace and per-visit
// spans around the simulation loop.
//
// Grounded on the teacher's go.opentelemetry.io/otel/sdk/trace usage
// (engine/telemetry/metrics/otel_provider.go shows the same SDK family
// wired for metrics); here the SDK's TracerProvider backs a simple
// Tracer that the Runner starts one span per processed visit under.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an otel Tracer bound to a dedicated TracerProvider, so a
// simulation run can be torn down independently of any global provider.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New returns a Tracer backed by a fresh in-process TracerProvider. A
// real deployment would attach an exporter via sdktrace.WithBatcher; the
// simulation core itself stays exporter-agnostic.
func New(serviceName string) *Tracer {
	tp := sdktrace.NewTracerProvider()
	return &Tracer{provider: tp, tracer: tp.Tracer(serviceName)}
}

// StartRun opens the root span for an entire simulation run.
func (t *Tracer) StartRun(ctx context.Context, runID string, seed uint64) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "simulation.run")
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Int64("run.seed", int64(seed)),
	)
	return ctx, span
}

// StartVisit opens a child span for one patient's visit.
func (t *Tracer) StartVisit(ctx context.Context, patientID string, dayOffset int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "simulation.visit")
	span.SetAttributes(
		attribute.String("patient.id", patientID),
		attribute.Int("visit.day", dayOffset),
	)
	return ctx, span
}

// Shutdown flushes and releases the underlying TracerProvider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// IDs extracts the trace/span IDs from ctx for log correlation, returning
// empty strings when ctx carries no active span.
func IDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
