package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rmskTV/advPlanner-sub000/exchange"

// Metrics holds the exchange engine's instruments and tracer.
type Metrics struct {
	tracer        trace.Tracer
	files         metric.Int64Counter
	objects       metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter, tracer trace.Tracer) (*Metrics, error) {
	files, err := meter.Int64Counter("exchange.files",
		metric.WithDescription("Message files processed, by direction and status"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}
	objects, err := meter.Int64Counter("exchange.objects",
		metric.WithDescription("Wire objects handled, by type and outcome"),
		metric.WithUnit("{object}"),
	)
	if err != nil {
		return nil, err
	}
	cycleDuration, err := meter.Float64Histogram("exchange.cycle.duration",
		metric.WithDescription("Duration of one exchange cycle in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{tracer: tracer, files: files, objects: objects, cycleDuration: cycleDuration}, nil
}

// Global returns metrics bound to the global otel providers. Until Setup
// installs SDK providers these are no-ops.
func Global() *Metrics {
	m, err := NewMetrics(otel.Meter(instrumentationName), otel.Tracer(instrumentationName))
	if err != nil {
		// The global delegating meter does not fail instrument creation.
		panic(err)
	}
	return m
}

// StartSpan starts a span carrying attrs.
func (m *Metrics) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

// FileProcessed counts one file or batch outcome.
func (m *Metrics) FileProcessed(ctx context.Context, connector, direction, status string) {
	m.files.Add(ctx, 1, metric.WithAttributes(
		attribute.String("connector", connector),
		attribute.String("direction", direction),
		attribute.String("status", status),
	))
}

// ObjectsProcessed counts n objects of objectType with the same outcome.
func (m *Metrics) ObjectsProcessed(ctx context.Context, objectType, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.objects.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("type", objectType),
		attribute.String("outcome", outcome),
	))
}

// CycleFinished records how long a cycle took.
func (m *Metrics) CycleFinished(ctx context.Context, connector, direction string, elapsed time.Duration) {
	m.cycleDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("connector", connector),
		attribute.String("direction", direction),
	))
}
