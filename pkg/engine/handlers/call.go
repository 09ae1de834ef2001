package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/engine/runtime"
	"github.com/rately/ratecore/pkg/fieldpath"
	"github.com/rately/ratecore/pkg/provider"
)

const defaultCallTimeout = 30 * time.Second

// SystemCaller serves calls to simulated systems. Implemented by the engine
// simulator.
type SystemCaller interface {
	Call(ctx context.Context, system domain.System, path string, payload map[string]any) (map[string]any, error)
}

// callBase holds the plumbing shared by the rating-engine and external-API
// call handlers: system resolution, simulator routing, and the HTTP client.
type callBase struct {
	systems   provider.SystemProvider
	simulator SystemCaller
	client    *http.Client
	logger    *slog.Logger
}

func newCallBase(systems provider.SystemProvider, simulator SystemCaller, logger *slog.Logger) callBase {
	if logger == nil {
		logger = slog.Default()
	}
	return callBase{
		systems:   systems,
		simulator: simulator,
		client: &http.Client{
			Timeout:   defaultCallTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// call resolves the system and performs one POST, routing simulated systems
// to the in-process simulator.
func (b *callBase) call(ctx context.Context, ectx *domain.ExecutionContext, config map[string]any, payload map[string]any) (map[string]any, domain.System, error) {
	systemCode := cfgString(config, "system", "system_code")
	if systemCode == "" {
		return nil, domain.System{}, fmt.Errorf("step config missing system code")
	}

	system, err := b.systems.System(ctx, systemCode)
	if err != nil {
		return nil, domain.System{}, fmt.Errorf("resolve system %q: %w", systemCode, err)
	}

	path := cfgString(config, "path", "endpoint")

	if system.Simulated() {
		body, err := b.simulator.Call(ctx, system, path, payload)
		if err != nil {
			return nil, system, fmt.Errorf("simulate %q: %w", systemCode, err)
		}
		return body, system, nil
	}

	body, err := b.post(ctx, system, path, payload, ectx.CorrelationID)
	if err != nil {
		return nil, system, err
	}
	return body, system, nil
}

func (b *callBase) post(ctx context.Context, system domain.System, path string, payload map[string]any, correlationID string) (map[string]any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	if timeout := time.Duration(system.TimeoutMS) * time.Millisecond; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	url := strings.TrimSuffix(system.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)
	for key, value := range system.Headers {
		req.Header.Set(key, value)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", system.Code, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", system.Code, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := bytes.TrimSpace(raw)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		if len(snippet) == 0 {
			return nil, fmt.Errorf("%s returned status %d", system.Code, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s returned status %d: %s", system.Code, resp.StatusCode, snippet)
	}

	body := make(map[string]any)
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", system.Code, err)
		}
	}
	return body, nil
}

func (b *callBase) validate(config map[string]any) runtime.ValidationResult {
	var result runtime.ValidationResult
	if cfgString(config, "system", "system_code") == "" {
		result.Errors = append(result.Errors, "system code is required")
	}
	return result
}

// RatingCallHandler sends the working payload to the configured rating
// engine and merges the response into the execution context's response view.
type RatingCallHandler struct {
	callBase
}

// NewRatingCallHandler creates the call_rating_engine step handler.
func NewRatingCallHandler(systems provider.SystemProvider, simulator SystemCaller, logger *slog.Logger) *RatingCallHandler {
	return &RatingCallHandler{callBase: newCallBase(systems, simulator, logger)}
}

// Type implements runtime.StepHandler.
func (h *RatingCallHandler) Type() string { return "call_rating_engine" }

// Execute implements runtime.StepHandler.
func (h *RatingCallHandler) Execute(ctx context.Context, ectx *domain.ExecutionContext, config map[string]any) (runtime.HandlerResult, error) {
	body, system, err := h.call(ctx, ectx, config, ectx.Working)
	if err != nil {
		if errors.Is(err, domain.ErrSystemNotFound) {
			return runtime.Failed(err.Error(), nil), nil
		}
		return runtime.HandlerResult{}, err
	}

	fieldpath.Merge(ectx.Response, "", body)

	return runtime.Completed(map[string]any{
		"system":    system.Code,
		"simulated": system.Simulated(),
	}), nil
}

// Validate implements runtime.StepHandler.
func (h *RatingCallHandler) Validate(config map[string]any) runtime.ValidationResult {
	return h.validate(config)
}

// ExternalAPIHandler calls an auxiliary external system and records the
// response under the system's enrichment slot. An optional targetField also
// projects the response into the working context.
type ExternalAPIHandler struct {
	callBase
}

// NewExternalAPIHandler creates the call_external_api step handler.
func NewExternalAPIHandler(systems provider.SystemProvider, simulator SystemCaller, logger *slog.Logger) *ExternalAPIHandler {
	return &ExternalAPIHandler{callBase: newCallBase(systems, simulator, logger)}
}

// Type implements runtime.StepHandler.
func (h *ExternalAPIHandler) Type() string { return "call_external_api" }

// Execute implements runtime.StepHandler.
func (h *ExternalAPIHandler) Execute(ctx context.Context, ectx *domain.ExecutionContext, config map[string]any) (runtime.HandlerResult, error) {
	payload := ectx.Working
	if payloadField := cfgString(config, "payloadField", "payload_field"); payloadField != "" {
		if raw, ok := fieldpath.Get(ectx.Working, payloadField); ok {
			if sub, isMap := raw.(map[string]any); isMap {
				payload = sub
			}
		}
	}

	body, system, err := h.call(ctx, ectx, config, payload)
	if err != nil {
		if errors.Is(err, domain.ErrSystemNotFound) {
			return runtime.Failed(err.Error(), nil), nil
		}
		return runtime.HandlerResult{}, err
	}

	ectx.Enrichments[system.Code] = body
	if targetField := cfgString(config, "targetField", "target_field"); targetField != "" {
		fieldpath.Set(ectx.Working, targetField, body)
	}

	return runtime.Completed(map[string]any{
		"system":    system.Code,
		"simulated": system.Simulated(),
	}), nil
}

// Validate implements runtime.StepHandler.
func (h *ExternalAPIHandler) Validate(config map[string]any) runtime.ValidationResult {
	return h.validate(config)
}
