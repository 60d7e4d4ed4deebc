package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestMetricsRecordExchangeCounters(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	m, err := NewMetrics(provider.Meter("test"), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	m.FileProcessed(ctx, "erp", "in", "completed")
	m.FileProcessed(ctx, "erp", "in", "completed")
	m.ObjectsProcessed(ctx, "Справочник.Контрагенты", "created", 3)
	m.ObjectsProcessed(ctx, "Справочник.Контрагенты", "failed", 0)
	m.CycleFinished(ctx, "erp", "in", 1500*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		byName[metric.Name] = metric
	}

	files, ok := byName["exchange.files"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, files.DataPoints, 1)
	assert.Equal(t, int64(2), files.DataPoints[0].Value)

	objects, ok := byName["exchange.objects"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, objects.DataPoints, 1)
	assert.Equal(t, int64(3), objects.DataPoints[0].Value)

	duration, ok := byName["exchange.cycle.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(1), duration.DataPoints[0].Count)
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	telemetry, err := Setup(context.Background(), TelemetryConfig{}, nil)
	require.NoError(t, err)
	assert.NoError(t, telemetry.Shutdown(context.Background()))
}
