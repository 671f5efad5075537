package rag

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/groundrag/rag"

// 适配器调用结果
const (
	OutcomeOK        = "ok"
	OutcomeEmpty     = "empty"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomePanic     = "panic"
	OutcomeCancelled = "cancelled"
)

// RetrievalObserver 检索指标回调，由 internal/metrics.Collector 实现
type RetrievalObserver interface {
	ObserveAdapterCall(backend, outcome string, duration time.Duration, candidates int)
	ObserveRoute(intent string, backends int, items int, duration time.Duration)
	ObserveCitations(format string, total, unknown int)
}

type nopObserver struct{}

func (nopObserver) ObserveAdapterCall(string, string, time.Duration, int) {}
func (nopObserver) ObserveRoute(string, int, int, time.Duration)          {}
func (nopObserver) ObserveCitations(string, int, int)                     {}

// Instruments OTel 追踪与指标
type Instruments struct {
	tracer trace.Tracer
	meter  metric.Meter
	// 计数器
	adapterCalls metric.Int64Counter
	routeTotal   metric.Int64Counter
	citations    metric.Int64Counter
	// 直方图
	adapterDuration metric.Float64Histogram
	contextItems    metric.Int64Histogram
}

// NewInstruments creates instruments on the global OTel providers.
// Without telemetry.Init the globals are no-ops.
func NewInstruments() (*Instruments, error) {
	tracer := otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)

	in := &Instruments{
		tracer: tracer,
		meter:  meter,
	}

	var err error

	in.adapterCalls, err = meter.Int64Counter("retrieval.adapter.calls",
		metric.WithDescription("Total retrieval adapter calls"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}

	in.routeTotal, err = meter.Int64Counter("retrieval.route.total",
		metric.WithDescription("Total routed retrieval requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	in.citations, err = meter.Int64Counter("grounding.citations.total",
		metric.WithDescription("Citations resolved from generated responses"),
		metric.WithUnit("{citation}"))
	if err != nil {
		return nil, err
	}

	in.adapterDuration, err = meter.Float64Histogram("retrieval.adapter.duration",
		metric.WithDescription("Retrieval adapter call duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	in.contextItems, err = meter.Int64Histogram("retrieval.context.items",
		metric.WithDescription("Context items returned per route"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, err
	}

	return in, nil
}

// Tracer 获取 Tracer
func (in *Instruments) Tracer() trace.Tracer {
	return in.tracer
}

// StartRoute starts the span of one routed retrieval.
func (in *Instruments) StartRoute(ctx context.Context, intent string) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, "retrieval.route",
		trace.WithAttributes(attribute.String("retrieval.intent", intent)))
}

// EndRoute records the route outcome and ends the span.
func (in *Instruments) EndRoute(ctx context.Context, span trace.Span, intent string, backends []string, items int, err error) {
	defer span.End()

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	in.routeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", intent),
		attribute.String("status", status)))
	in.contextItems.Record(ctx, int64(items), metric.WithAttributes(attribute.String("intent", intent)))

	span.SetAttributes(
		attribute.StringSlice("retrieval.backends", backends),
		attribute.Int("retrieval.items", items))
}

// StartAdapter starts the span of one adapter call.
func (in *Instruments) StartAdapter(ctx context.Context, backend string, topK int) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, "retrieval.adapter",
		trace.WithAttributes(
			attribute.String("retrieval.backend", backend),
			attribute.Int("retrieval.top_k", topK)))
}

// EndAdapter records the adapter outcome and ends the span.
func (in *Instruments) EndAdapter(ctx context.Context, span trace.Span, backend, outcome string, duration time.Duration, candidates int) {
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome))
	in.adapterCalls.Add(ctx, 1, attrs)
	in.adapterDuration.Record(ctx, duration.Seconds(), attrs)

	if outcome != OutcomeOK && outcome != OutcomeEmpty {
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(
		attribute.String("retrieval.outcome", outcome),
		attribute.Int("retrieval.candidates", candidates),
		attribute.Float64("retrieval.duration_ms", float64(duration.Milliseconds())))
}

// RecordCitations counts resolved citations.
func (in *Instruments) RecordCitations(ctx context.Context, format string, total, unknown int) {
	in.citations.Add(ctx, int64(total-unknown), metric.WithAttributes(
		attribute.String("format", format),
		attribute.Bool("known", true)))
	if unknown > 0 {
		in.citations.Add(ctx, int64(unknown), metric.WithAttributes(
			attribute.String("format", format),
			attribute.Bool("known", false)))
	}
}
