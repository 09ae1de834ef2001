package rating

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/provider"
)

func newTestService(t *testing.T) (*Service, *provider.MemoryStore) {
	t.Helper()
	store := provider.NewMemoryStore()
	service := NewDefaultService(Dependencies{
		Store:  store,
		Logger: slog.New(slog.DiscardHandler),
	})
	return service, store
}

func autoFlow(steps ...domain.Step) *domain.Flow {
	for i := range steps {
		steps[i].IsActive = true
		steps[i].StepOrder = i + 1
	}
	return &domain.Flow{ProductLineCode: "AUTO", Version: 1, Steps: steps}
}

func TestRateUnknownProductLine(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.Rate(context.Background(), Request{ProductLineCode: "MARINE"})
	require.ErrorIs(t, err, domain.ErrFlowNotFound)
}

func TestRateEmptyFlow(t *testing.T) {
	service, store := newTestService(t)
	store.PutFlow(&domain.Flow{ProductLineCode: "AUTO", Version: 1})

	_, err := service.Rate(context.Background(), Request{ProductLineCode: "AUTO"})
	require.ErrorIs(t, err, domain.ErrEmptyFlow)
}

func TestRateEndToEnd(t *testing.T) {
	service, store := newTestService(t)

	store.PutSystem(domain.System{Code: "rating-core", Mock: true})
	store.PutRules(domain.Rule{
		Name:            "tx-surcharge",
		ProductLineCode: "AUTO",
		Phase:           domain.PhasePreRating,
		IsActive:        true,
		ScopeTags:       []domain.ScopeTag{{ScopeType: "state", ScopeValue: "TX"}},
		Actions: []domain.RuleAction{
			{ActionType: domain.ActionSet, TargetField: "surchargeApplied", Value: true},
		},
	})
	store.PutFlow(autoFlow(
		domain.Step{ID: "s1", StepType: "generate_value", Name: "quote id",
			Config: map[string]any{"type": "uuid", "targetField": "quoteId"}},
		domain.Step{ID: "s2", StepType: "apply_rules", Name: "pre-rating rules",
			Config: map[string]any{"phase": "pre_rating"}},
		domain.Step{ID: "s3", StepType: "call_rating_engine", Name: "rate",
			Config: map[string]any{"system": "rating-core"}},
		domain.Step{ID: "s4", StepType: "publish_event", Name: "notify",
			Config: map[string]any{"eventType": "quote.rated"}},
	))

	result, err := service.Rate(context.Background(), Request{
		ProductLineCode: "AUTO",
		Scope:           domain.Scope{State: "TX"},
		Payload:         map[string]any{"vehicle": map[string]any{"year": 2021}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PipelineCompleted, result.Status)
	require.Len(t, result.StepResults, 4)
	for _, step := range result.StepResults {
		assert.Equal(t, domain.StepCompleted, step.Status, step.StepName)
	}
	assert.Contains(t, result.Response, "premium")
	assert.Equal(t, true, result.Response["simulated"])
}

func TestRateScopedStepSkipped(t *testing.T) {
	service, store := newTestService(t)

	store.PutSystem(domain.System{Code: "rating-core", Mock: true})
	surcharge := domain.Step{ID: "s1", StepType: "generate_value", Name: "tx only",
		Config:    map[string]any{"targetField": "txMarker"},
		Condition: &domain.StepCondition{Field: "state", Operator: "eq", Value: "TX"}}
	store.PutFlow(autoFlow(
		surcharge,
		domain.Step{ID: "s2", StepType: "call_rating_engine", Name: "rate",
			Config: map[string]any{"system": "rating-core"}},
	))

	result, err := service.Rate(context.Background(), Request{
		ProductLineCode: "AUTO",
		Scope:           domain.Scope{State: "CA"},
		Payload:         map[string]any{"state": "CA"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PipelineCompleted, result.Status)
	require.Len(t, result.StepResults, 2)
	assert.Equal(t, domain.StepSkipped, result.StepResults[0].Status)
	assert.Equal(t, domain.StepCompleted, result.StepResults[1].Status)
}

func TestRateRejectionSurfacesInResponse(t *testing.T) {
	service, store := newTestService(t)

	store.PutRules(domain.Rule{
		Name:            "uninsurable",
		ProductLineCode: "AUTO",
		Phase:           domain.PhasePreRating,
		IsActive:        true,
		Conditions: []domain.RuleCondition{
			{Field: "driver.age", Operator: "lt", Value: 16},
		},
		Actions: []domain.RuleAction{
			{ActionType: domain.ActionReject, Value: "driver below minimum age"},
		},
	})
	store.PutFlow(autoFlow(
		domain.Step{ID: "s1", StepType: "apply_rules", Name: "rules",
			Config: map[string]any{"phase": "pre_rating"}},
	))

	result, err := service.Rate(context.Background(), Request{
		ProductLineCode: "AUTO",
		Payload:         map[string]any{"driver": map[string]any{"age": 15}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PipelineCompleted, result.Status)
	assert.Equal(t, true, result.Response[domain.RejectedField])
	assert.Equal(t, "driver below minimum age", result.Response[domain.RejectReasonField])
}

func TestRateNestedFlow(t *testing.T) {
	service, store := newTestService(t)

	store.PutFlow(&domain.Flow{ProductLineCode: "AUTO_FEES", Version: 1, Steps: []domain.Step{
		{ID: "n1", StepOrder: 1, StepType: "generate_value", Name: "fee marker", IsActive: true,
			Config: map[string]any{"targetField": "feeMarker"}},
	}})
	store.PutFlow(autoFlow(
		domain.Step{ID: "s1", StepType: "run_custom_flow", Name: "fees",
			Config: map[string]any{"flow": "AUTO_FEES"}},
	))

	result, err := service.Rate(context.Background(), Request{ProductLineCode: "AUTO"})
	require.NoError(t, err)

	assert.Equal(t, domain.PipelineCompleted, result.Status)
	// Parent step plus the nested flow's step share one trail.
	require.Len(t, result.StepResults, 2)
	assert.Equal(t, "fee marker", result.StepResults[0].StepName)
	assert.Equal(t, "fees", result.StepResults[1].StepName)
}

func TestRateStopsOnFailedValidation(t *testing.T) {
	service, store := newTestService(t)

	store.PutSystem(domain.System{Code: "rating-core", Mock: true})
	store.PutFlow(autoFlow(
		domain.Step{ID: "s1", StepType: "validate_request", Name: "validate",
			Config: map[string]any{"required": []any{"driver.licenseNumber"}}},
		domain.Step{ID: "s2", StepType: "call_rating_engine", Name: "rate",
			Config: map[string]any{"system": "rating-core"}},
	))

	result, err := service.Rate(context.Background(), Request{
		ProductLineCode: "AUTO",
		Payload:         map[string]any{"driver": map[string]any{}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PipelineFailed, result.Status)
	require.Len(t, result.StepResults, 1)
	assert.Contains(t, result.StepResults[0].Error, "driver.licenseNumber")
}
