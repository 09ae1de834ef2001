package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rately/ratecore/pkg/condition"
	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/engine/runtime"
	"github.com/rately/ratecore/pkg/fieldpath"
)

// ValidateRequestHandler checks the working context against configured
// constraints: the payload must be non-empty, strict mode restricts the
// top-level keys to an allow-list, and required/check rules gate individual
// fields. Every violation is collected before the step reports, so a caller
// sees the complete list instead of the first problem.
type ValidateRequestHandler struct {
	logger *slog.Logger
}

// NewValidateRequestHandler creates the validate_request step handler.
func NewValidateRequestHandler(logger *slog.Logger) *ValidateRequestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidateRequestHandler{logger: logger}
}

// Type implements runtime.StepHandler.
func (h *ValidateRequestHandler) Type() string { return "validate_request" }

// Execute implements runtime.StepHandler.
func (h *ValidateRequestHandler) Execute(_ context.Context, ectx *domain.ExecutionContext, config map[string]any) (runtime.HandlerResult, error) {
	var violations []string

	if len(ectx.Working) == 0 {
		violations = append(violations, "request payload is empty")
	}

	if cfgBool(config, "strict") {
		allowed := make(map[string]bool)
		for _, field := range cfgStrings(config, "allowedFields") {
			allowed[field] = true
		}
		for _, field := range cfgStrings(config, "allowed_fields") {
			allowed[field] = true
		}
		var unexpected []string
		for key := range ectx.Working {
			if !allowed[key] {
				unexpected = append(unexpected, key)
			}
		}
		sort.Strings(unexpected)
		for _, key := range unexpected {
			violations = append(violations, fmt.Sprintf("unexpected field %q", key))
		}
	}

	for _, path := range cfgStrings(config, "required") {
		value, ok := fieldpath.Get(ectx.Working, path)
		if !ok || value == nil || condition.Stringify(value) == "" {
			violations = append(violations, fmt.Sprintf("required field %q is missing", path))
		}
	}

	for i, raw := range cfgSlice(config, "checks") {
		spec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		field := cfgString(spec, "field")
		operator := cfgString(spec, "operator")
		if field == "" || operator == "" {
			violations = append(violations, fmt.Sprintf("check %d: incomplete spec", i))
			continue
		}
		actual, _ := fieldpath.Get(ectx.Working, field)
		matched, err := condition.Evaluate(operator, actual, spec["value"])
		if err != nil {
			violations = append(violations, fmt.Sprintf("check on %q: %v", field, err))
			continue
		}
		if !matched {
			message := cfgString(spec, "message")
			if message == "" {
				message = fmt.Sprintf("field %q failed %s check", field, operator)
			}
			violations = append(violations, message)
		}
	}

	if len(violations) > 0 {
		return runtime.Failed(
			fmt.Sprintf("validation failed: %s", strings.Join(violations, "; ")),
			map[string]any{"violations": violations},
		), nil
	}
	return runtime.Completed(map[string]any{"violations": []string{}}), nil
}

// Validate implements runtime.StepHandler.
func (h *ValidateRequestHandler) Validate(config map[string]any) runtime.ValidationResult {
	var result runtime.ValidationResult
	if len(cfgStrings(config, "required")) == 0 && len(cfgSlice(config, "checks")) == 0 {
		result.Warnings = append(result.Warnings, "validate_request step validates nothing")
	}
	return result
}
