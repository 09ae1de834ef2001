// Package engine executes configured rating flows step by step. The executor
// owns sequencing, skip conditions, failure policy, and telemetry; the actual
// work lives in runtime.StepHandler implementations registered here.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/rately/ratecore/pkg/engine/runtime"
)

// Registry maps step types to their handlers. Registration normally happens
// once during startup but the registry is safe for concurrent use so handlers
// can be swapped at runtime.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]runtime.StepHandler
	logger   *slog.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]runtime.StepHandler),
		logger:   logger,
	}
}

// Register adds a handler under its step type. Re-registering a type replaces
// the previous handler with a warning; last write wins.
func (r *Registry) Register(handler runtime.StepHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stepType := handler.Type()
	if _, exists := r.handlers[stepType]; exists {
		r.logger.Warn("replacing registered step handler", "step_type", stepType)
	}
	r.handlers[stepType] = handler
}

// Get returns the handler for a step type.
func (r *Registry) Get(stepType string) (runtime.StepHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[stepType]
	return handler, ok
}

// Types returns the registered step types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for stepType := range r.handlers {
		types = append(types, stepType)
	}
	sort.Strings(types)
	return types
}

// HealthCheckAll probes every handler implementing runtime.HealthChecker and
// returns per-type errors. Handlers without external dependencies are
// reported healthy.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]runtime.StepHandler, len(r.handlers))
	for stepType, handler := range r.handlers {
		snapshot[stepType] = handler
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(snapshot))
	for stepType, handler := range snapshot {
		if checker, ok := handler.(runtime.HealthChecker); ok {
			results[stepType] = checker.HealthCheck(ctx)
		} else {
			results[stepType] = nil
		}
	}
	return results
}
