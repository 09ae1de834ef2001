// Package runtime defines the contracts shared by the pipeline executor and
// step handlers, keeping step business logic decoupled from execution
// mechanics.
package runtime

import (
	"context"

	"github.com/rately/ratecore/pkg/domain"
)

// HandlerResult bundles a step's status with its structured output. Output is
// recorded on the step result; handlers mutate the execution context directly
// for data that later steps consume.
type HandlerResult struct {
	Status domain.StepStatus
	Output map[string]any
	Error  string
}

// WithDefaults ensures the status is set even when handlers omit it.
func (r HandlerResult) WithDefaults() HandlerResult {
	if r.Status == "" {
		r.Status = domain.StepCompleted
	}
	return r
}

// Completed constructs a completed result with optional output.
func Completed(output map[string]any) HandlerResult {
	return HandlerResult{Status: domain.StepCompleted, Output: output}
}

// Failed constructs a failed result carrying the error message.
func Failed(message string, output map[string]any) HandlerResult {
	return HandlerResult{Status: domain.StepFailed, Error: message, Output: output}
}

// Skipped constructs a skipped result with the reason recorded as output.
func Skipped(reason string) HandlerResult {
	return HandlerResult{Status: domain.StepSkipped, Output: map[string]any{"reason": reason}}
}

// ValidationResult collects config problems found before execution. Errors
// block the flow; warnings are surfaced but allow it to run.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the config had no blocking errors.
func (v ValidationResult) Valid() bool { return len(v.Errors) == 0 }

// StepHandler executes one step type. Implementations must be safe for
// concurrent use: one handler instance serves every flow.
type StepHandler interface {
	// Type returns the step type string this handler serves.
	Type() string
	// Execute runs the step against the execution context. A returned error
	// is treated the same as a failed result with the error's message.
	Execute(ctx context.Context, ectx *domain.ExecutionContext, config map[string]any) (HandlerResult, error)
	// Validate checks a step config without executing it.
	Validate(config map[string]any) ValidationResult
}

// HealthChecker is optionally implemented by handlers with external
// dependencies.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
