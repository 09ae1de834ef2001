package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/engine/runtime"
)

// NestedRunner executes a named flow against an existing execution context.
// Implemented by the rating service, which owns flow resolution.
type NestedRunner interface {
	RunNested(ctx context.Context, flowCode string, ectx *domain.ExecutionContext) error
}

// RunCustomFlowHandler executes another product line's flow inline, sharing
// the parent execution context. The nested flow aborts on its first failed
// step and the failure surfaces as this step's failure.
type RunCustomFlowHandler struct {
	runner NestedRunner
	logger *slog.Logger
}

// NewRunCustomFlowHandler creates the run_custom_flow step handler.
func NewRunCustomFlowHandler(runner NestedRunner, logger *slog.Logger) *RunCustomFlowHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunCustomFlowHandler{runner: runner, logger: logger}
}

// Type implements runtime.StepHandler.
func (h *RunCustomFlowHandler) Type() string { return "run_custom_flow" }

// Execute implements runtime.StepHandler.
func (h *RunCustomFlowHandler) Execute(ctx context.Context, ectx *domain.ExecutionContext, config map[string]any) (runtime.HandlerResult, error) {
	flowCode := cfgString(config, "flow", "flow_code")
	if flowCode == "" {
		return runtime.Failed("run_custom_flow step missing flow code", nil), nil
	}

	if err := h.runner.RunNested(ctx, flowCode, ectx); err != nil {
		if errors.Is(err, domain.ErrFlowNotFound) {
			return runtime.Failed(fmt.Sprintf("nested flow %q not found", flowCode), nil), nil
		}
		return runtime.Failed(err.Error(), map[string]any{"flow": flowCode}), nil
	}

	return runtime.Completed(map[string]any{"flow": flowCode}), nil
}

// Validate implements runtime.StepHandler.
func (h *RunCustomFlowHandler) Validate(config map[string]any) runtime.ValidationResult {
	var result runtime.ValidationResult
	if cfgString(config, "flow", "flow_code") == "" {
		result.Errors = append(result.Errors, "flow code is required")
	}
	return result
}
