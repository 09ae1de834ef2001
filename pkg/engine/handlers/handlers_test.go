package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/provider"
	"github.com/rately/ratecore/pkg/rules"
	"github.com/rately/ratecore/pkg/sandbox"
	"github.com/rately/ratecore/pkg/transform"
)

var testLogger = slog.New(slog.DiscardHandler)

func newContext(payload map[string]any) *domain.ExecutionContext {
	return domain.NewExecutionContext("AUTO", domain.Scope{State: "TX"}, payload)
}

func TestApplyRulesMergesDelta(t *testing.T) {
	store := provider.NewMemoryStore()
	store.PutRules(domain.Rule{
		Name:            "base-fee",
		ProductLineCode: "AUTO",
		Phase:           domain.PhasePreRating,
		IsActive:        true,
		Actions: []domain.RuleAction{
			{ActionType: domain.ActionSet, TargetField: "fees.base", Value: 25.0},
		},
	})
	handler := NewApplyRulesHandler(rules.NewEngine(store, testLogger), testLogger)

	ectx := newContext(map[string]any{"premium": 100.0})
	result, err := handler.Execute(context.Background(), ectx, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, domain.StepCompleted, result.Status)
	fees, ok := ectx.Working["fees"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 25.0, fees["base"])
	assert.Equal(t, 1, result.Output["rulesApplied"])
}

type failingRuleProvider struct{}

func (failingRuleProvider) RulesForPhase(context.Context, string, string) ([]domain.Rule, error) {
	return nil, errors.New("connection refused")
}

func TestApplyRulesUnavailableSkips(t *testing.T) {
	handler := NewApplyRulesHandler(rules.NewEngine(failingRuleProvider{}, testLogger), testLogger)

	result, err := handler.Execute(context.Background(), newContext(nil), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, domain.StepSkipped, result.Status)
}

func TestApplyRulesScopeKeyNamesPhase(t *testing.T) {
	store := provider.NewMemoryStore()
	store.PutRules(domain.Rule{
		Name:            "post-fee",
		ProductLineCode: "AUTO",
		Phase:           domain.PhasePostRating,
		IsActive:        true,
		Actions: []domain.RuleAction{
			{ActionType: domain.ActionSet, TargetField: "fees.filing", Value: 5.0},
		},
	})
	handler := NewApplyRulesHandler(rules.NewEngine(store, testLogger), testLogger)

	ectx := newContext(map[string]any{"premium": 100.0})
	result, err := handler.Execute(context.Background(), ectx, map[string]any{"scope": domain.PhasePostRating})
	require.NoError(t, err)

	assert.Equal(t, domain.StepCompleted, result.Status)
	assert.Equal(t, domain.PhasePostRating, result.Output["phase"])
	fees, ok := ectx.Working["fees"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 5.0, fees["filing"])
}

func TestFieldMappingBuildsTarget(t *testing.T) {
	store := provider.NewMemoryStore()
	store.PutMapping(domain.MappingDefinition{
		ID:              "m1",
		ProductLineCode: "AUTO",
		Direction:       domain.DirectionRequest,
		Status:          domain.MappingActive,
		Fields: []domain.FieldMapping{
			{SourcePath: "driver.age", TargetPath: "insured.age"},
			{SourcePath: "vehicle.year", TargetPath: "auto.year", DefaultValue: 2020},
			{SourcePath: "driver.ssn", TargetPath: "insured.ssn", Skip: true},
			{SourcePath: "policy.number", TargetPath: "policyNumber", IsRequired: true},
		},
	})
	handler := NewFieldMappingHandler(store, transform.NewExecutor(), testLogger)

	ectx := newContext(map[string]any{
		"driver": map[string]any{"age": 30, "ssn": "secret"},
	})
	result, err := handler.Execute(context.Background(), ectx, map[string]any{"direction": "request"})
	require.NoError(t, err)

	// Required misses are diagnostic only; the step still completes.
	assert.Equal(t, domain.StepCompleted, result.Status)
	assert.Equal(t, []string{"policy.number"}, result.Output["requiredFieldErrors"])

	insured, ok := ectx.Working["insured"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 30, insured["age"])
	assert.NotContains(t, insured, "ssn")
	auto, ok := ectx.Working["auto"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2020, auto["year"])

	// The mapping overlays a copy of working: unmapped fields survive.
	driver, ok := ectx.Working["driver"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 30, driver["age"])
}

func TestFieldMappingKeepsUnmappedWorkingFields(t *testing.T) {
	store := provider.NewMemoryStore()
	store.PutMapping(domain.MappingDefinition{
		ID:              "m2",
		ProductLineCode: "AUTO",
		Direction:       domain.DirectionRequest,
		Status:          domain.MappingActive,
		Fields: []domain.FieldMapping{
			{SourcePath: "quote.id", TargetPath: "quoteId"},
		},
	})
	handler := NewFieldMappingHandler(store, transform.NewExecutor(), testLogger)

	ectx := newContext(map[string]any{"premium": 912.5, "state": "TX"})
	result, err := handler.Execute(context.Background(), ectx, map[string]any{"direction": "request"})
	require.NoError(t, err)

	// No definition row applies, yet the context is not wiped.
	assert.Equal(t, domain.StepCompleted, result.Status)
	assert.Equal(t, 912.5, ectx.Working["premium"])
	assert.Equal(t, "TX", ectx.Working["state"])
}

func TestFieldMappingMissingDefinitionPassesThrough(t *testing.T) {
	handler := NewFieldMappingHandler(provider.NewMemoryStore(), transform.NewExecutor(), testLogger)

	ectx := newContext(map[string]any{"premium": 100.0})
	result, err := handler.Execute(context.Background(), ectx, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, domain.StepCompleted, result.Status)
	assert.Equal(t, false, result.Output["mapped"])
	assert.Equal(t, 100.0, ectx.Working["premium"])
}

func TestEnrichRecordsMisses(t *testing.T) {
	store := provider.NewMemoryStore()
	store.PutLookupTable("territory", map[string]any{"75001": "T-12"})
	handler := NewEnrichHandler(store, testLogger)

	config := map[string]any{
		"lookups": []any{
			map[string]any{"table": "territory", "keyField": "zip", "targetField": "territoryCode"},
			map[string]any{"table": "territory", "keyField": "missingZip", "targetField": "other"},
		},
	}
	ectx := newContext(map[string]any{"zip": "75001"})
	result, err := handler.Execute(context.Background(), ectx, config)
	require.NoError(t, err)

	assert.Equal(t, domain.StepCompleted, result.Status)
	assert.Equal(t, "T-12", ectx.Working["territoryCode"])
	assert.Equal(t, "T-12", ectx.Enrichments["territory"])
	assert.Equal(t, 1, result.Output["resolved"])
	assert.Len(t, result.Output["misses"], 1)
}

func TestEnrichMergesObjectHit(t *testing.T) {
	store := provider.NewMemoryStore()
	store.PutLookupTable("vehicle_data", map[string]any{
		"V1": map[string]any{"make": "Toyota", "year": 2021.0},
	})
	handler := NewEnrichHandler(store, testLogger)

	config := map[string]any{
		"lookups": []any{
			map[string]any{"table": "vehicle_data", "keyField": "vin", "targetField": "vehicle"},
		},
	}
	ectx := newContext(map[string]any{
		"vin":     "V1",
		"vehicle": map[string]any{"vin": "V1"},
	})
	result, err := handler.Execute(context.Background(), ectx, config)
	require.NoError(t, err)
	assert.Equal(t, domain.StepCompleted, result.Status)

	// The hit merges into the existing subtree instead of replacing it.
	vehicle, ok := ectx.Working["vehicle"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "V1", vehicle["vin"])
	assert.Equal(t, "Toyota", vehicle["make"])
	assert.Equal(t, 2021.0, vehicle["year"])

	// Enrichments are keyed by table name.
	assert.Equal(t, map[string]any{"make": "Toyota", "year": 2021.0}, ectx.Enrichments["vehicle_data"])
}

func TestValidateRequestCollectsAllViolations(t *testing.T) {
	handler := NewValidateRequestHandler(testLogger)

	config := map[string]any{
		"required": []any{"driver.age", "vehicle.vin"},
		"checks": []any{
			map[string]any{"field": "driver.age", "operator": "gte", "value": 16, "message": "driver too young"},
		},
	}
	ectx := newContext(map[string]any{"driver": map[string]any{"age": 12}})
	result, err := handler.Execute(context.Background(), ectx, config)
	require.NoError(t, err)

	assert.Equal(t, domain.StepFailed, result.Status)
	violations, ok := result.Output["violations"].([]string)
	require.True(t, ok)
	assert.Len(t, violations, 2)
	assert.Contains(t, violations, "driver too young")
}

func TestValidateRequestEmptyPayloadFails(t *testing.T) {
	handler := NewValidateRequestHandler(testLogger)

	result, err := handler.Execute(context.Background(), newContext(nil), map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, domain.StepFailed, result.Status)
	violations, ok := result.Output["violations"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"request payload is empty"}, violations)
}

func TestValidateRequestStrictFlagsUnexpectedFields(t *testing.T) {
	handler := NewValidateRequestHandler(testLogger)

	config := map[string]any{
		"strict":        true,
		"allowedFields": []any{"driver", "vehicle"},
	}
	ectx := newContext(map[string]any{
		"driver":  map[string]any{"age": 30},
		"vehicle": map[string]any{"vin": "V1"},
		"zzz":     1,
		"extra":   true,
	})
	result, err := handler.Execute(context.Background(), ectx, config)
	require.NoError(t, err)

	assert.Equal(t, domain.StepFailed, result.Status)
	violations, ok := result.Output["violations"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{`unexpected field "extra"`, `unexpected field "zzz"`}, violations)
}

func TestRunScriptDefaultTimeoutApplies(t *testing.T) {
	handler := NewRunScriptHandler(sandbox.New(testLogger), sandbox.MinTimeout, testLogger)

	ectx := newContext(map[string]any{"premium": 100.0})
	result, err := handler.Execute(context.Background(), ectx, map[string]any{"script": "for {\n}"})
	require.NoError(t, err)

	assert.Equal(t, domain.StepFailed, result.Status)
	assert.Contains(t, result.Error, "timed out")
}

func TestGenerateValueFallsBackToUUID(t *testing.T) {
	handler := NewGenerateValueHandler(testLogger)

	ectx := newContext(nil)
	result, err := handler.Execute(context.Background(), ectx, map[string]any{
		"type":        "snowflake",
		"targetField": "quoteId",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StepCompleted, result.Status)
	generated, ok := ectx.Working["quoteId"].(string)
	require.True(t, ok)
	assert.Len(t, generated, 36)
}

func TestGenerateTimestamp(t *testing.T) {
	handler := NewGenerateValueHandler(testLogger)
	handler.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	ectx := newContext(nil)
	_, err := handler.Execute(context.Background(), ectx, map[string]any{
		"type":        "timestamp",
		"targetField": "quotedAt",
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01T12:00:00Z", ectx.Working["quotedAt"])
}

type failingSink struct{}

func (failingSink) Publish(context.Context, provider.Event) error {
	return errors.New("broker unavailable")
}

func TestPublishEventSinkFailureCompletes(t *testing.T) {
	handler := NewPublishEventHandler(failingSink{}, testLogger)

	result, err := handler.Execute(context.Background(), newContext(nil), map[string]any{
		"eventType": "quote.rated",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StepCompleted, result.Status)
	assert.Equal(t, false, result.Output["published"])
	assert.Equal(t, "log-only", result.Output["fallback"])
}

type stubCaller struct {
	response map[string]any
}

func (c stubCaller) Call(context.Context, domain.System, string, map[string]any) (map[string]any, error) {
	return c.response, nil
}

func TestRatingCallSimulatedSystem(t *testing.T) {
	store := provider.NewMemoryStore()
	store.PutSystem(domain.System{Code: "rating-core", Mock: true})

	handler := NewRatingCallHandler(store, stubCaller{response: map[string]any{"premium": 830.0}}, testLogger)
	ectx := newContext(map[string]any{"vehicle": "sedan"})

	result, err := handler.Execute(context.Background(), ectx, map[string]any{"system": "rating-core"})
	require.NoError(t, err)

	assert.Equal(t, domain.StepCompleted, result.Status)
	assert.Equal(t, 830.0, ectx.Response["premium"])
	assert.Equal(t, true, result.Output["simulated"])
}

func TestRatingCallHTTPSystem(t *testing.T) {
	var gotCorrelation string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = r.Header.Get("X-Correlation-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"premium": 912.5}`))
	}))
	defer server.Close()

	store := provider.NewMemoryStore()
	store.PutSystem(domain.System{Code: "rating-core", BaseURL: server.URL})

	handler := NewRatingCallHandler(store, stubCaller{}, testLogger)
	ectx := newContext(map[string]any{"vehicle": "sedan"})

	result, err := handler.Execute(context.Background(), ectx, map[string]any{"system": "rating-core", "path": "/rate"})
	require.NoError(t, err)

	assert.Equal(t, domain.StepCompleted, result.Status)
	assert.Equal(t, 912.5, ectx.Response["premium"])
	assert.Equal(t, ectx.CorrelationID, gotCorrelation)
}

func TestRatingCallNon2xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream rater offline"}`))
	}))
	defer server.Close()

	store := provider.NewMemoryStore()
	store.PutSystem(domain.System{Code: "rating-core", BaseURL: server.URL})

	handler := NewRatingCallHandler(store, stubCaller{}, testLogger)
	_, err := handler.Execute(context.Background(), newContext(nil), map[string]any{"system": "rating-core"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream rater offline")
}

func TestRatingCallUnknownSystemFails(t *testing.T) {
	handler := NewRatingCallHandler(provider.NewMemoryStore(), stubCaller{}, testLogger)

	result, err := handler.Execute(context.Background(), newContext(nil), map[string]any{"system": "ghost"})
	require.NoError(t, err)
	assert.Equal(t, domain.StepFailed, result.Status)
}

func TestExternalAPIStoresEnrichment(t *testing.T) {
	store := provider.NewMemoryStore()
	store.PutSystem(domain.System{Code: "vin-decoder", Mock: true})

	handler := NewExternalAPIHandler(store, stubCaller{response: map[string]any{"make": "Honda"}}, testLogger)
	ectx := newContext(map[string]any{"vin": "1HG..."})

	result, err := handler.Execute(context.Background(), ectx, map[string]any{
		"system":      "vin-decoder",
		"targetField": "vehicle.decoded",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StepCompleted, result.Status)
	assert.Equal(t, map[string]any{"make": "Honda"}, ectx.Enrichments["vin-decoder"])
	vehicle, ok := ectx.Working["vehicle"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"make": "Honda"}, vehicle["decoded"])
}

type stubRunner struct {
	err   error
	calls []string
}

func (r *stubRunner) RunNested(_ context.Context, flowCode string, _ *domain.ExecutionContext) error {
	r.calls = append(r.calls, flowCode)
	return r.err
}

func TestRunCustomFlow(t *testing.T) {
	runner := &stubRunner{}
	handler := NewRunCustomFlowHandler(runner, testLogger)

	result, err := handler.Execute(context.Background(), newContext(nil), map[string]any{"flow": "AUTO_SURCHARGES"})
	require.NoError(t, err)
	assert.Equal(t, domain.StepCompleted, result.Status)
	assert.Equal(t, []string{"AUTO_SURCHARGES"}, runner.calls)

	runner.err = domain.ErrFlowNotFound
	result, err = handler.Execute(context.Background(), newContext(nil), map[string]any{"flow": "MISSING"})
	require.NoError(t, err)
	assert.Equal(t, domain.StepFailed, result.Status)
}

func TestHandlerValidation(t *testing.T) {
	assert.False(t, NewRatingCallHandler(provider.NewMemoryStore(), stubCaller{}, testLogger).
		Validate(map[string]any{}).Valid())
	assert.False(t, NewRunCustomFlowHandler(&stubRunner{}, testLogger).
		Validate(map[string]any{}).Valid())
	assert.False(t, NewGenerateValueHandler(testLogger).
		Validate(map[string]any{}).Valid())
	assert.True(t, NewApplyRulesHandler(nil, testLogger).
		Validate(map[string]any{"phase": "pre_rating"}).Valid())
	assert.False(t, NewApplyRulesHandler(nil, testLogger).
		Validate(map[string]any{"phase": "mid_rating"}).Valid())
}
