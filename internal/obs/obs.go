// Package obs wires OpenTelemetry tracing and metrics through the
// orchestrator and agent processes. It mirrors the teacher's
// telemetry.OTelProvider wiring (tracer/meter construction, resource
// attributes, global provider registration) but does not register an
// OTLP exporter: SPEC_FULL.md's domain-stack decision is to keep spans
// and counters in-process (usable by tests and by anything that reads
// them via the SDK directly) without standing up a collector
// dependency this repo has no use for yet.
package obs

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider bundles the tracer/meter and the counters the orchestrator
// and agents emit: sessions created, stage transitions, and LLM
// retries (the three series named in SPEC_FULL.md's domain-stack
// section).
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter

	traceProvider *sdktrace.TracerProvider
	meterProvider *sdkmetric.MeterProvider

	SessionsCreated  metric.Int64Counter
	StageTransitions metric.Int64Counter
	LLMRetries       metric.Int64Counter
}

// New builds a Provider for serviceName and installs it as the global
// OTel tracer/meter provider, matching the teacher's
// otel.SetTracerProvider/otel.SetMeterProvider pattern.
func New(serviceName string) (*Provider, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(serviceName)

	sessionsCreated, err := meter.Int64Counter("nwb_sessions_created_total")
	if err != nil {
		return nil, err
	}
	stageTransitions, err := meter.Int64Counter("nwb_stage_transitions_total")
	if err != nil {
		return nil, err
	}
	llmRetries, err := meter.Int64Counter("nwb_llm_retries_total")
	if err != nil {
		return nil, err
	}

	return &Provider{
		tracer:           tp.Tracer(serviceName),
		meter:            meter,
		traceProvider:    tp,
		meterProvider:    mp,
		SessionsCreated:  sessionsCreated,
		StageTransitions: stageTransitions,
		LLMRetries:       llmRetries,
	}, nil
}

// StartSpan opens a span named name, one per router hop or LLM
// attempt per SPEC_FULL.md's domain-stack section.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// WrapHandler instruments h with otelhttp, the same wrapping point the
// teacher's HTTP surfaces use for inbound request spans.
func (p *Provider) WrapHandler(operation string, h http.Handler) http.Handler {
	return otelhttp.NewHandler(h, operation, otelhttp.WithTracerProvider(p.traceProvider))
}

// Shutdown flushes and releases the trace/meter providers. Idempotent
// via the underlying SDK's own shutdown semantics.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.traceProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.meterProvider.Shutdown(ctx)
}
