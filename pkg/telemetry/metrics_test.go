package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordStepMetricsEmitsInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	ctx := context.Background()
	RecordStepMetrics(ctx, StepMetrics{
		ProductLine: "AUTO",
		StepType:    "apply_rules",
		Status:      "completed",
		Duration:    12 * time.Millisecond,
	})
	RecordStepMetrics(ctx, StepMetrics{
		ProductLine: "AUTO",
		StepType:    "rating_call",
		Status:      "failed",
		Duration:    3 * time.Millisecond,
	})

	var collected metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &collected))
	require.Len(t, collected.ScopeMetrics, 1)

	scope := collected.ScopeMetrics[0]
	assert.Equal(t, "ratecore.flow", scope.Scope.Name)

	names := make(map[string]metricdata.Metrics, len(scope.Metrics))
	for _, m := range scope.Metrics {
		names[m.Name] = m
	}
	require.Contains(t, names, "ratecore.step.executions_total")
	require.Contains(t, names, "ratecore.step.failures_total")
	require.Contains(t, names, "ratecore.step.duration_ms")

	executions, ok := names["ratecore.step.executions_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, point := range executions.DataPoints {
		total += point.Value
	}
	assert.Equal(t, int64(2), total)

	failures, ok := names["ratecore.step.failures_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var failed int64
	for _, point := range failures.DataPoints {
		failed += point.Value
	}
	assert.Equal(t, int64(1), failed)
}
