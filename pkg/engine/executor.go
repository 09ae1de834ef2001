package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rately/ratecore/pkg/condition"
	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/engine/runtime"
	"github.com/rately/ratecore/pkg/fieldpath"
	"github.com/rately/ratecore/pkg/telemetry"
)

// Executor runs a flow's steps sequentially against one execution context.
// It is stateless across requests and safe for concurrent use.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
}

// NewExecutor creates a flow executor using handlers from the registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger}
}

// Execute runs every active step of the flow in order and returns the
// aggregate result. Exactly one StepResult is recorded per active step
// considered, including skipped ones. A failed step stops the run when its
// policy is stop; any other policy records the failure and the run goes on.
func (e *Executor) Execute(ctx context.Context, flow *domain.Flow, ectx *domain.ExecutionContext) *domain.ExecutionResult {
	start := time.Now()

	tracer := otel.Tracer("ratecore.flow")
	ctx, span := tracer.Start(ctx, "flow.execute", trace.WithAttributes(
		attribute.String("flow.product_line", flow.ProductLineCode),
		attribute.Int("flow.version", flow.Version),
		attribute.String("correlation_id", ectx.CorrelationID),
	))
	defer span.End()

	e.logger.Info("executing flow",
		"product_line", flow.ProductLineCode,
		"correlation_id", ectx.CorrelationID,
		"steps", len(flow.Steps),
	)

	status := domain.PipelineCompleted
	steps := flow.ActiveSteps()

	for _, step := range steps {
		result := e.executeStep(ctx, tracer, step, ectx)
		ectx.AppendResult(result)

		if result.Status == domain.StepFailed {
			// Only an explicit stop halts; any other policy value records
			// the failure and moves on.
			if step.OnFailurePolicy() == domain.OnFailureStop {
				status = domain.PipelineFailed
				span.SetStatus(codes.Error, result.Error)
				break
			}
			e.logger.Warn("step failed; continuing per policy",
				"step", step.Name,
				"correlation_id", ectx.CorrelationID,
				"policy", step.OnFailurePolicy(),
				"error", result.Error,
			)
		}
	}

	total := time.Since(start)
	span.SetAttributes(
		attribute.String("flow.status", status),
		attribute.Int64("flow.duration_ms", total.Milliseconds()),
	)

	return &domain.ExecutionResult{
		Status:          status,
		StepResults:     ectx.StepResults,
		Response:        ectx.Response,
		TotalDurationMS: total.Milliseconds(),
	}
}

// ExecuteNested runs a flow inside another flow's step. Nested runs honour
// skip conditions but not failure policies: the first failed step aborts.
func (e *Executor) ExecuteNested(ctx context.Context, flow *domain.Flow, ectx *domain.ExecutionContext) error {
	tracer := otel.Tracer("ratecore.flow")
	for _, step := range flow.ActiveSteps() {
		result := e.executeStep(ctx, tracer, step, ectx)
		ectx.AppendResult(result)
		if result.Status == domain.StepFailed {
			return fmt.Errorf("nested step %q failed: %s", step.Name, result.Error)
		}
	}
	return nil
}

// executeStep runs one step end to end: condition gate, handler dispatch,
// panic containment, and the audit record.
func (e *Executor) executeStep(ctx context.Context, tracer trace.Tracer, step domain.Step, ectx *domain.ExecutionContext) domain.StepResult {
	result := domain.StepResult{
		StepID:   step.ID,
		StepType: step.StepType,
		StepName: step.Name,
	}

	if step.Condition != nil {
		matched, err := e.conditionMatches(*step.Condition, ectx.Working)
		if err != nil {
			e.logger.Warn("step condition failed to evaluate; skipping step",
				"step", step.Name,
				"correlation_id", ectx.CorrelationID,
				"error", err,
			)
			result.Status = domain.StepSkipped
			result.Output = map[string]any{"reason": fmt.Sprintf("condition error: %v", err)}
			return result
		}
		if !matched {
			result.Status = domain.StepSkipped
			result.Output = map[string]any{"reason": "condition not met"}
			return result
		}
	}

	handler, ok := e.registry.Get(step.StepType)
	if !ok {
		e.logger.Warn("no handler registered for step type; skipping",
			"step", step.Name,
			"step_type", step.StepType,
			"correlation_id", ectx.CorrelationID,
		)
		result.Status = domain.StepSkipped
		result.Error = fmt.Sprintf("no handler for step type %q", step.StepType)
		result.Output = map[string]any{"reason": result.Error}
		return result
	}

	stepCtx, span := tracer.Start(ctx, "flow.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.type", step.StepType),
		attribute.String("step.name", step.Name),
	))
	defer span.End()

	start := time.Now()
	handlerResult, err := e.invokeHandler(stepCtx, handler, step, ectx)
	duration := time.Since(start)
	handlerResult = handlerResult.WithDefaults()

	result.Status = handlerResult.Status
	result.Output = handlerResult.Output
	result.Error = handlerResult.Error
	result.DurationMS = duration.Milliseconds()

	if err != nil {
		result.Status = domain.StepFailed
		result.Error = err.Error()
	}

	span.SetAttributes(
		attribute.String("step.status", string(result.Status)),
		attribute.Int64("step.duration_ms", result.DurationMS),
	)
	if result.Status == domain.StepFailed {
		span.SetStatus(codes.Error, result.Error)
	}

	telemetry.RecordStepMetrics(stepCtx, telemetry.StepMetrics{
		ProductLine: ectx.ProductLineCode,
		StepType:    step.StepType,
		Status:      string(result.Status),
		Duration:    duration,
	})

	return result
}

// invokeHandler calls the handler with panic containment so one misbehaving
// step cannot take down the whole service.
func (e *Executor) invokeHandler(ctx context.Context, handler runtime.StepHandler, step domain.Step, ectx *domain.ExecutionContext) (result runtime.HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("step handler panicked",
				"step", step.Name,
				"step_type", step.StepType,
				"correlation_id", ectx.CorrelationID,
				"panic", r,
			)
			result = runtime.HandlerResult{}
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Execute(ctx, ectx, step.Config)
}

func (e *Executor) conditionMatches(cond domain.StepCondition, working map[string]any) (bool, error) {
	actual, _ := fieldpath.Get(working, fieldpath.Normalize(cond.Field))
	return condition.Evaluate(cond.Operator, actual, cond.Value)
}
