// Package telemetry wraps an OpenTelemetry TracerProvider the way the
// teacher's telemetry.OTelProvider does (resource construction, tracer
// acquisition, graceful shutdown), trimmed to a local stdout exporter since
// this engine has no remote collector in scope.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer opens spans for task attempts and levels. The zero value is not
// usable; construct with NewNoopTracer or NewStdoutTracer.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider // nil for the noop tracer
}

// NewNoopTracer discards every span; it is the default when no exporter is
// configured.
func NewNoopTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer("missionengine")}
}

// NewStdoutTracer writes human-readable spans to standard output for local
// debugging, grounded in the teacher's OTelProvider resource/exporter
// wiring.
func NewStdoutTracer(ctx context.Context, serviceName string) (*Tracer, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return &Tracer{tracer: provider.Tracer("missionengine"), provider: provider}, nil
}

// Shutdown flushes and stops the underlying provider, if any.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// StartTaskAttempt opens a span for one dispatch attempt (§4.11).
func (t *Tracer) StartTaskAttempt(ctx context.Context, task string, attempt int) (context.Context, func(status, errorCode string)) {
	ctx, span := t.tracer.Start(ctx, "mission.task.attempt",
		trace.WithAttributes(
			attribute.String("task", task),
			attribute.Int("attempt", attempt),
		))
	return ctx, func(status, errorCode string) {
		span.SetAttributes(attribute.String("status", status))
		if errorCode != "" {
			span.SetAttributes(attribute.String("error_code", errorCode))
		}
		span.End()
	}
}

// StartLevel opens a span for one scheduling level (§4.11).
func (t *Tracer) StartLevel(ctx context.Context, levelIndex, taskCount int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "mission.level",
		trace.WithAttributes(
			attribute.Int("level_index", levelIndex),
			attribute.Int("task_count", taskCount),
		))
	return ctx, span.End
}
