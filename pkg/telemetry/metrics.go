package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	stepExecutionCounter metric.Int64Counter
	stepFailureCounter   metric.Int64Counter
	stepLatencyHistogram metric.Float64Histogram
)

// StepMetrics captures the fields recorded for one step execution.
type StepMetrics struct {
	ProductLine string
	StepType    string
	Status      string
	Duration    time.Duration
}

// RecordStepMetrics emits the counters and histogram describing step
// execution behaviour. Recording is best-effort: instrument setup failure
// silently disables metrics rather than affecting the flow.
func RecordStepMetrics(ctx context.Context, metrics StepMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("flow.product_line", metrics.ProductLine),
		attribute.String("step.type", metrics.StepType),
		attribute.String("step.status", metrics.Status),
	}

	stepExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if metrics.Duration > 0 {
		stepLatencyHistogram.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if metrics.Status == "failed" {
		stepFailureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ratecore.flow")

		stepExecutionCounter, metricsInitErr = meter.Int64Counter(
			"ratecore.step.executions_total",
			metric.WithDescription("Flow step executions partitioned by status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stepFailureCounter, metricsInitErr = meter.Int64Counter(
			"ratecore.step.failures_total",
			metric.WithDescription("Flow steps that reported a failure"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stepLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"ratecore.step.duration_ms",
			metric.WithDescription("Flow step wall-clock duration"),
			metric.WithUnit("ms"),
		)
	})
	return metricsInitErr
}
