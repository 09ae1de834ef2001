package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/engine/runtime"
	"github.com/rately/ratecore/pkg/fieldpath"
	"github.com/rately/ratecore/pkg/provider"
	"github.com/rately/ratecore/pkg/transform"
)

// FieldMappingHandler reshapes a payload through the product line's mapping
// definition. The target tree is built aside and committed in one swap, so a
// mid-mapping failure never leaves a half-mapped context behind.
type FieldMappingHandler struct {
	mappings  provider.MappingProvider
	transform *transform.Executor
	logger    *slog.Logger
}

// NewFieldMappingHandler creates the field_mapping step handler.
func NewFieldMappingHandler(mappings provider.MappingProvider, executor *transform.Executor, logger *slog.Logger) *FieldMappingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FieldMappingHandler{mappings: mappings, transform: executor, logger: logger}
}

// Type implements runtime.StepHandler.
func (h *FieldMappingHandler) Type() string { return "field_mapping" }

// Execute implements runtime.StepHandler.
func (h *FieldMappingHandler) Execute(ctx context.Context, ectx *domain.ExecutionContext, config map[string]any) (runtime.HandlerResult, error) {
	direction := cfgString(config, "direction")
	if direction == "" {
		direction = domain.DirectionRequest
	}

	definition, err := h.mappings.Mapping(ctx, ectx.ProductLineCode, direction)
	if err != nil {
		if errors.Is(err, domain.ErrMappingNotFound) {
			h.logger.Debug("no mapping definition; passing payload through",
				"correlation_id", ectx.CorrelationID,
				"direction", direction,
			)
			return runtime.Completed(map[string]any{"mapped": false, "reason": "no mapping definition"}), nil
		}
		return runtime.HandlerResult{}, fmt.Errorf("resolve mapping: %w", err)
	}

	source := ectx.Working
	if direction == domain.DirectionResponse {
		source = ectx.Response
	}

	// Mapped fields overlay a copy of the current view; fields the
	// definition does not mention survive the swap.
	target := domain.CopyTree(source)
	if target == nil {
		target = make(map[string]any)
	}
	tctx := transform.Context{Working: ectx.Working, Request: ectx.Request}
	var requiredErrors []string
	var transformErrors []string
	mapped := 0

	for _, field := range definition.Fields {
		if field.Skip {
			continue
		}

		value, found := fieldpath.Get(source, field.SourcePath)
		if !found {
			if field.DefaultValue != nil {
				value = field.DefaultValue
			} else {
				if field.IsRequired {
					requiredErrors = append(requiredErrors, field.SourcePath)
				}
				continue
			}
		}

		transformed, err := h.transform.Apply(ctx, value, field.TransformationType, field.TransformConfig, tctx)
		if err != nil {
			// The transform contract returns the original value on error;
			// the mapping records the problem and keeps going.
			transformErrors = append(transformErrors, fmt.Sprintf("%s: %v", field.SourcePath, err))
		}
		fieldpath.Set(target, field.TargetPath, transformed)
		mapped++
	}

	// Atomic commit: the context view is replaced only once the whole
	// definition has been applied.
	if direction == domain.DirectionResponse {
		ectx.Response = target
	} else {
		ectx.Working = target
	}

	output := map[string]any{
		"mapped":       true,
		"mappingId":    definition.ID,
		"direction":    direction,
		"fieldsMapped": mapped,
	}
	if len(requiredErrors) > 0 {
		output["requiredFieldErrors"] = requiredErrors
	}
	if len(transformErrors) > 0 {
		output["transformErrors"] = transformErrors
	}
	return runtime.Completed(output), nil
}

// Validate implements runtime.StepHandler.
func (h *FieldMappingHandler) Validate(config map[string]any) runtime.ValidationResult {
	var result runtime.ValidationResult
	if direction := cfgString(config, "direction"); direction != "" &&
		direction != domain.DirectionRequest && direction != domain.DirectionResponse {
		result.Errors = append(result.Errors, fmt.Sprintf("unknown mapping direction %q", direction))
	}
	return result
}
