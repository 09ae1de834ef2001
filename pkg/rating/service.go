// Package rating is the service facade: it resolves the flow for a product
// line, builds the execution context, and hands off to the flow executor.
package rating

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/engine"
	"github.com/rately/ratecore/pkg/provider"
)

// Request is one rating request.
type Request struct {
	ProductLineCode string         `json:"productLineCode"`
	Scope           domain.Scope   `json:"scope"`
	Payload         map[string]any `json:"payload"`
}

// Service executes rating requests end to end.
type Service struct {
	flows    provider.FlowProvider
	executor *engine.Executor
	registry *engine.Registry
	logger   *slog.Logger

	mu        sync.Mutex
	validated map[string]bool
}

// NewService creates the rating service.
func NewService(flows provider.FlowProvider, executor *engine.Executor, registry *engine.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		flows:     flows,
		executor:  executor,
		registry:  registry,
		logger:    logger,
		validated: make(map[string]bool),
	}
}

// Rate runs the product line's flow against the payload and returns the
// aggregate result. The step trail is always populated, including for failed
// runs.
func (s *Service) Rate(ctx context.Context, req Request) (*domain.ExecutionResult, error) {
	if req.ProductLineCode == "" {
		return nil, fmt.Errorf("%w: product line code is required", domain.ErrConfigInvalid)
	}

	flow, err := s.flows.Flow(ctx, req.ProductLineCode)
	if err != nil {
		return nil, fmt.Errorf("resolve flow for %q: %w", req.ProductLineCode, err)
	}
	if len(flow.ActiveSteps()) == 0 {
		return nil, fmt.Errorf("flow %q: %w", req.ProductLineCode, domain.ErrEmptyFlow)
	}

	s.validateOnce(flow)

	ectx := domain.NewExecutionContext(req.ProductLineCode, req.Scope, req.Payload)
	s.logger.Info("rating request accepted",
		"product_line", req.ProductLineCode,
		"correlation_id", ectx.CorrelationID,
		"transaction_id", ectx.TransactionID,
	)

	result := s.executor.Execute(ctx, flow, ectx)

	if rejected, ok := ectx.Working[domain.RejectedField].(bool); ok && rejected {
		s.logger.Info("request rejected by rules",
			"correlation_id", ectx.CorrelationID,
			"reason", ectx.Working[domain.RejectReasonField],
		)
		result.Response[domain.RejectedField] = true
		result.Response[domain.RejectReasonField] = ectx.Working[domain.RejectReasonField]
	}

	return result, nil
}

// RunNested implements the run_custom_flow handler's runner contract. The
// nested flow shares the parent's execution context and step trail.
func (s *Service) RunNested(ctx context.Context, flowCode string, ectx *domain.ExecutionContext) error {
	flow, err := s.flows.Flow(ctx, flowCode)
	if err != nil {
		return err
	}
	return s.executor.ExecuteNested(ctx, flow, ectx)
}

// validateOnce checks every step config against its handler the first time a
// flow version is seen. Problems are logged, not enforced: a flow that was
// accepted into the store still runs.
func (s *Service) validateOnce(flow *domain.Flow) {
	key := fmt.Sprintf("%s@%d", flow.ProductLineCode, flow.Version)
	s.mu.Lock()
	seen := s.validated[key]
	s.validated[key] = true
	s.mu.Unlock()
	if seen {
		return
	}

	for _, step := range flow.ActiveSteps() {
		handler, ok := s.registry.Get(step.StepType)
		if !ok {
			s.logger.Warn("flow references unregistered step type",
				"flow", flow.ProductLineCode,
				"step", step.Name,
				"step_type", step.StepType,
			)
			continue
		}
		validation := handler.Validate(step.Config)
		for _, problem := range validation.Errors {
			s.logger.Warn("step config error", "flow", flow.ProductLineCode, "step", step.Name, "problem", problem)
		}
		for _, warning := range validation.Warnings {
			s.logger.Debug("step config warning", "flow", flow.ProductLineCode, "step", step.Name, "warning", warning)
		}
	}
}
