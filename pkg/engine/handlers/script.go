package handlers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/engine/runtime"
	"github.com/rately/ratecore/pkg/sandbox"
)

// RunScriptHandler executes a user-supplied script in the sandbox. The
// script receives copies of the context views; its mutations are committed
// back only when the run succeeds.
type RunScriptHandler struct {
	sandbox        *sandbox.Sandbox
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewRunScriptHandler creates the run_script step handler. Steps that do not
// set their own timeout run under defaultTimeout; zero falls through to the
// sandbox default.
func NewRunScriptHandler(sb *sandbox.Sandbox, defaultTimeout time.Duration, logger *slog.Logger) *RunScriptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunScriptHandler{sandbox: sb, defaultTimeout: defaultTimeout, logger: logger}
}

// Type implements runtime.StepHandler.
func (h *RunScriptHandler) Type() string { return "run_script" }

// Execute implements runtime.StepHandler.
func (h *RunScriptHandler) Execute(ctx context.Context, ectx *domain.ExecutionContext, config map[string]any) (runtime.HandlerResult, error) {
	source := cfgString(config, "script", "code")
	if strings.TrimSpace(source) == "" {
		return runtime.Failed("run_script step has no script source", nil), nil
	}

	timeout := h.defaultTimeout
	if d, ok := cfgDuration(config, "timeoutMs", "timeout_ms"); ok {
		timeout = d
	}

	result := h.sandbox.Run(ctx, source, ectx.Request, ectx.Working, ectx.Response, ectx.Scope, timeout)
	if !result.Success {
		return runtime.Failed(result.Error, map[string]any{"durationMs": result.DurationMS}), nil
	}

	ectx.Working = result.Working
	ectx.Response = result.Response

	return runtime.Completed(map[string]any{"durationMs": result.DurationMS}), nil
}

// Validate implements runtime.StepHandler.
func (h *RunScriptHandler) Validate(config map[string]any) runtime.ValidationResult {
	var result runtime.ValidationResult
	if strings.TrimSpace(cfgString(config, "script", "code")) == "" {
		result.Errors = append(result.Errors, "script source is required")
	}
	if ms, ok := cfgInt(config, "timeoutMs", "timeout_ms"); ok {
		if time.Duration(ms)*time.Millisecond > sandbox.MaxTimeout {
			result.Warnings = append(result.Warnings, "timeout exceeds maximum and will be clamped")
		}
	}
	return result
}
