package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/engine/runtime"
	"github.com/rately/ratecore/pkg/fieldpath"
)

// GenerateValueHandler writes a generated value (uuid or timestamp) to a
// working-context field. Unknown generator types fall back to uuid with a
// warning so misconfigured flows still produce usable identifiers.
type GenerateValueHandler struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerateValueHandler creates the generate_value step handler.
func NewGenerateValueHandler(logger *slog.Logger) *GenerateValueHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateValueHandler{logger: logger, now: time.Now}
}

// Type implements runtime.StepHandler.
func (h *GenerateValueHandler) Type() string { return "generate_value" }

// Execute implements runtime.StepHandler.
func (h *GenerateValueHandler) Execute(_ context.Context, ectx *domain.ExecutionContext, config map[string]any) (runtime.HandlerResult, error) {
	targetField := cfgString(config, "targetField", "target_field")
	if targetField == "" {
		return runtime.Failed("generate_value step missing targetField", nil), nil
	}

	generator := cfgString(config, "type", "generator")
	var value any
	switch generator {
	case "uuid", "":
		value = uuid.NewString()
	case "timestamp":
		value = h.now().UTC().Format(time.RFC3339)
	default:
		h.logger.Warn("unknown generator type; defaulting to uuid",
			"generator", generator,
			"correlation_id", ectx.CorrelationID,
		)
		value = uuid.NewString()
	}

	fieldpath.Set(ectx.Working, targetField, value)
	return runtime.Completed(map[string]any{
		"targetField": targetField,
		"generator":   generator,
	}), nil
}

// Validate implements runtime.StepHandler.
func (h *GenerateValueHandler) Validate(config map[string]any) runtime.ValidationResult {
	var result runtime.ValidationResult
	if cfgString(config, "targetField", "target_field") == "" {
		result.Errors = append(result.Errors, "targetField is required")
	}
	if generator := cfgString(config, "type", "generator"); generator != "" &&
		generator != "uuid" && generator != "timestamp" {
		result.Warnings = append(result.Warnings, fmt.Sprintf("unknown generator type %q defaults to uuid", generator))
	}
	return result
}
