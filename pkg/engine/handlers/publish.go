package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/engine/runtime"
	"github.com/rately/ratecore/pkg/fieldpath"
	"github.com/rately/ratecore/pkg/provider"
)

// PublishEventHandler emits a business event through the configured sink.
// Delivery is best-effort: a sink failure downgrades to a log-only record
// and the step still completes.
type PublishEventHandler struct {
	sink   provider.EventSink
	logger *slog.Logger
	now    func() time.Time
}

// NewPublishEventHandler creates the publish_event step handler.
func NewPublishEventHandler(sink provider.EventSink, logger *slog.Logger) *PublishEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishEventHandler{sink: sink, logger: logger, now: time.Now}
}

// Type implements runtime.StepHandler.
func (h *PublishEventHandler) Type() string { return "publish_event" }

// Execute implements runtime.StepHandler.
func (h *PublishEventHandler) Execute(ctx context.Context, ectx *domain.ExecutionContext, config map[string]any) (runtime.HandlerResult, error) {
	eventType := cfgString(config, "eventType", "event_type")
	if eventType == "" {
		eventType = "rating.completed"
	}

	payload := make(map[string]any)
	for _, path := range cfgStrings(config, "includeFields") {
		if value, ok := fieldpath.Get(ectx.Working, path); ok {
			fieldpath.Set(payload, path, value)
		}
	}

	event := provider.Event{
		Type:          eventType,
		CorrelationID: ectx.CorrelationID,
		ProductLine:   ectx.ProductLineCode,
		Payload:       payload,
		Timestamp:     h.now().UTC(),
	}

	if err := h.sink.Publish(ctx, event); err != nil {
		h.logger.Warn("event delivery failed; recorded in log only",
			"event_type", eventType,
			"correlation_id", ectx.CorrelationID,
			"error", err,
		)
		return runtime.Completed(map[string]any{
			"eventType": eventType,
			"published": false,
			"fallback":  "log-only",
		}), nil
	}

	return runtime.Completed(map[string]any{
		"eventType": eventType,
		"published": true,
	}), nil
}

// Validate implements runtime.StepHandler.
func (h *PublishEventHandler) Validate(config map[string]any) runtime.ValidationResult {
	var result runtime.ValidationResult
	if cfgString(config, "eventType", "event_type") == "" {
		result.Warnings = append(result.Warnings, "eventType not set; defaulting to rating.completed")
	}
	return result
}
