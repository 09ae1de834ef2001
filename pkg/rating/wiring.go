package rating

import (
	"log/slog"
	"time"

	"github.com/rately/ratecore/pkg/engine"
	"github.com/rately/ratecore/pkg/engine/handlers"
	"github.com/rately/ratecore/pkg/provider"
	"github.com/rately/ratecore/pkg/rules"
	"github.com/rately/ratecore/pkg/sandbox"
	"github.com/rately/ratecore/pkg/transform"
)

// Dependencies collects everything the default handler set needs.
type Dependencies struct {
	Store  provider.Store
	Events provider.EventSink
	Logger *slog.Logger

	// ScriptTimeout bounds run_script steps that do not set their own
	// timeout. Zero uses the sandbox default.
	ScriptTimeout time.Duration
}

// NewDefaultService wires the full production handler set and returns the
// ready-to-use service.
func NewDefaultService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := deps.Events
	if events == nil {
		events = provider.NewLogSink(logger)
	}

	sb := sandbox.New(logger)
	transformer := transform.NewExecutor(transform.WithScriptRunner(sb))
	ruleEngine := rules.NewEngine(deps.Store, logger)
	simulator := engine.NewSimulator(logger)

	registry := engine.NewRegistry(logger)
	executor := engine.NewExecutor(registry, logger)
	service := NewService(deps.Store, executor, registry, logger)

	registry.Register(handlers.NewApplyRulesHandler(ruleEngine, logger))
	registry.Register(handlers.NewFieldMappingHandler(deps.Store, transformer, logger))
	registry.Register(handlers.NewRatingCallHandler(deps.Store, simulator, logger))
	registry.Register(handlers.NewExternalAPIHandler(deps.Store, simulator, logger))
	registry.Register(handlers.NewEnrichHandler(deps.Store, logger))
	registry.Register(handlers.NewValidateRequestHandler(logger))
	registry.Register(handlers.NewGenerateValueHandler(logger))
	registry.Register(handlers.NewPublishEventHandler(events, logger))
	registry.Register(handlers.NewRunCustomFlowHandler(service, logger))
	registry.Register(handlers.NewRunScriptHandler(sb, deps.ScriptTimeout, logger))

	return service
}
