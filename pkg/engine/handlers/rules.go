package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/engine/runtime"
	"github.com/rately/ratecore/pkg/fieldpath"
	"github.com/rately/ratecore/pkg/rules"
)

// ApplyRulesHandler evaluates business rules for a configured phase and
// merges the resulting field delta into the working context. An unavailable
// rule source degrades the step to skipped rather than failing the flow.
type ApplyRulesHandler struct {
	engine *rules.Engine
	logger *slog.Logger
}

// NewApplyRulesHandler creates the apply_rules step handler.
func NewApplyRulesHandler(engine *rules.Engine, logger *slog.Logger) *ApplyRulesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplyRulesHandler{engine: engine, logger: logger}
}

// Type implements runtime.StepHandler.
func (h *ApplyRulesHandler) Type() string { return "apply_rules" }

// Execute implements runtime.StepHandler.
func (h *ApplyRulesHandler) Execute(ctx context.Context, ectx *domain.ExecutionContext, config map[string]any) (runtime.HandlerResult, error) {
	// Step definitions name the phase under either key.
	phase := cfgString(config, "phase", "scope")
	if phase == "" {
		phase = domain.PhasePreRating
	}

	evaluation, err := h.engine.Evaluate(ctx, ectx.ProductLineCode, ectx.Scope, phase, ectx.Working)
	if err != nil {
		if errors.Is(err, domain.ErrRulesUnavailable) {
			h.logger.Warn("rule source unavailable; skipping rules step",
				"correlation_id", ectx.CorrelationID,
				"phase", phase,
				"error", err,
			)
			return runtime.Skipped("rule source unavailable"), nil
		}
		return runtime.HandlerResult{}, fmt.Errorf("evaluate rules: %w", err)
	}

	fieldpath.Merge(ectx.Working, "", evaluation.ModifiedFields)

	output := map[string]any{
		"phase":          phase,
		"rulesEvaluated": evaluation.RulesEvaluated,
		"rulesApplied":   evaluation.RulesApplied,
		"appliedRules":   evaluation.AppliedRuleNames,
	}
	if rejected, ok := ectx.Working[domain.RejectedField].(bool); ok && rejected {
		output["rejected"] = true
		output["rejectReason"] = ectx.Working[domain.RejectReasonField]
	}
	return runtime.Completed(output), nil
}

// Validate implements runtime.StepHandler.
func (h *ApplyRulesHandler) Validate(config map[string]any) runtime.ValidationResult {
	var result runtime.ValidationResult
	if phase := cfgString(config, "phase", "scope"); phase != "" &&
		phase != domain.PhasePreRating && phase != domain.PhasePostRating {
		result.Errors = append(result.Errors, fmt.Sprintf("unknown rule phase %q", phase))
	}
	return result
}
