package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, kind string, value any, config map[string]any) any {
	t.Helper()
	result, err := NewExecutor().Apply(context.Background(), value, kind, config, Context{})
	require.NoError(t, err)
	return result
}

func TestDirectAndConstant(t *testing.T) {
	assert.Equal(t, "as-is", apply(t, KindDirect, "as-is", nil))
	assert.Equal(t, "as-is", apply(t, "", "as-is", nil))
	assert.Equal(t, "fixed", apply(t, KindConstant, "ignored", map[string]any{"value": "fixed"}))
}

func TestContextLookupPrefixes(t *testing.T) {
	tctx := Context{
		Working: map[string]any{"premium": 100.0, "state": "TX"},
		Request: map[string]any{"premium": 90.0, "vin": "V1"},
	}

	value, ok := tctx.Lookup("working.premium")
	require.True(t, ok)
	assert.Equal(t, 100.0, value)

	value, ok = tctx.Lookup("request.premium")
	require.True(t, ok)
	assert.Equal(t, 90.0, value)

	// Unprefixed paths resolve against working first, then the request.
	value, ok = tctx.Lookup("premium")
	require.True(t, ok)
	assert.Equal(t, 100.0, value)

	value, ok = tctx.Lookup("vin")
	require.True(t, ok)
	assert.Equal(t, "V1", value)

	_, ok = tctx.Lookup("missing")
	assert.False(t, ok)
}

func TestNumericTransforms(t *testing.T) {
	assert.Equal(t, 25.0, apply(t, KindMultiply, 10, map[string]any{"factor": 2.5}))
	assert.Equal(t, 4.0, apply(t, KindDivide, 10, map[string]any{"divisor": 2.5}))
	assert.Equal(t, 120.0, apply(t, KindPerUnit, 12000, map[string]any{"perUnit": 1000, "rate": 10}))

	// Half-up rounding.
	assert.Equal(t, 2.35, apply(t, KindRound, 2.345, map[string]any{"decimals": 2}))
	assert.Equal(t, 3.0, apply(t, KindRound, 2.5, nil))

	// Numeric strings coerce.
	assert.Equal(t, 20.0, apply(t, KindMultiply, "10", map[string]any{"factor": "2"}))
}

func TestTransformErrorKeepsOriginalValue(t *testing.T) {
	executor := NewExecutor()

	result, err := executor.Apply(context.Background(), 10, KindDivide, map[string]any{"divisor": 0}, Context{})
	require.Error(t, err)
	assert.Equal(t, 10, result)

	result, err = executor.Apply(context.Background(), "not a number", KindMultiply, map[string]any{"factor": 2}, Context{})
	require.Error(t, err)
	assert.Equal(t, "not a number", result)

	result, err = executor.Apply(context.Background(), "x", "teleport", nil, Context{})
	require.Error(t, err)
	assert.Equal(t, "x", result)
}

func TestBoolean(t *testing.T) {
	assert.Equal(t, true, apply(t, KindBoolean, "Yes", nil))
	assert.Equal(t, true, apply(t, KindBoolean, "on", nil))
	assert.Equal(t, false, apply(t, KindBoolean, "nope", nil))
	assert.Equal(t, true, apply(t, KindBoolean, true, nil))
	assert.Equal(t, true, apply(t, KindBoolean, "S", map[string]any{"trueValues": []any{"s", "si"}}))
	assert.Equal(t, false, apply(t, KindBoolean, "yes", map[string]any{"trueValues": []any{"s", "si"}}))
}

func TestConcatenate(t *testing.T) {
	tctx := Context{Working: map[string]any{
		"first": "Ada", "last": "Lovelace",
	}}
	result, err := NewExecutor().Apply(context.Background(), nil, KindConcatenate, map[string]any{
		"fields":    []any{"first", "last", "missing"},
		"separator": " ",
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace ", result)
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []any{"a", "b", "c"}, apply(t, KindSplit, "a,b,c", nil))
	assert.Equal(t, "b", apply(t, KindSplit, "a|b|c", map[string]any{"delimiter": "|", "index": 1}))
	assert.Equal(t, "", apply(t, KindSplit, "a,b", map[string]any{"index": 9}))
}

func TestNumberFormat(t *testing.T) {
	assert.Equal(t, "1,234,567.89", apply(t, KindNumberFormat, 1234567.89, map[string]any{"decimals": 2}))
	assert.Equal(t, "1.234.567,89", apply(t, KindNumberFormat, 1234567.89, map[string]any{"decimals": 2, "locale": "de-DE"}))
	assert.Equal(t, "-1,000", apply(t, KindNumberFormat, -1000, map[string]any{"decimals": 0}))
}

func TestDateFormats(t *testing.T) {
	assert.Equal(t, "01/15/2024", apply(t, KindDate, "2024-01-15", map[string]any{"format": "MM/DD/YYYY"}))
	assert.Equal(t, "2024-01-15", apply(t, KindDate, "15/01/2024", map[string]any{
		"inputFormat": "DD/MM/YYYY",
		"format":      "YYYY-MM-DD",
	}))

	epoch := apply(t, KindDate, "2024-01-15", map[string]any{"format": "epoch"})
	parsed := time.Unix(int64(epoch.(float64)), 0)
	assert.Equal(t, 15, parsed.Day())
}

func TestDateOnlyKeepsCalendarDay(t *testing.T) {
	// A date-only input must round-trip to the same calendar day in the
	// local zone, whatever the zone's offset is.
	result := apply(t, KindDate, "2024-01-15", map[string]any{"format": "YYYY-MM-DD"})
	assert.Equal(t, "2024-01-15", result)
}

func TestDateEpochInput(t *testing.T) {
	ms := float64(time.Date(2024, 3, 10, 0, 0, 0, 0, time.Local).UnixMilli())
	assert.Equal(t, "2024-03-10", apply(t, KindDate, ms, map[string]any{"format": "YYYY-MM-DD"}))
}

func TestExpression(t *testing.T) {
	tctx := Context{Working: map[string]any{"premium": 800.0}}
	result, err := NewExecutor().Apply(context.Background(), 2.0, KindExpression, map[string]any{
		"expression": `premium * value`,
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, 1600.0, result)
}

func TestConditional(t *testing.T) {
	tctx := Context{Working: map[string]any{"driver": map[string]any{"age": 19}}}
	config := map[string]any{
		"field": "driver.age", "operator": "lt", "value": 25,
		"thenValue": 1.25, "elseValue": 1.0,
	}
	result, err := NewExecutor().Apply(context.Background(), nil, KindConditional, config, tctx)
	require.NoError(t, err)
	assert.Equal(t, 1.25, result)
}

func TestAggregate(t *testing.T) {
	tctx := Context{Working: map[string]any{
		"vehicles": []any{
			map[string]any{"value": 10000.0},
			map[string]any{"value": 30000.0},
			map[string]any{"value": "bad"},
		},
	}}
	executor := NewExecutor()

	sum, err := executor.Apply(context.Background(), nil, KindAggregate, map[string]any{
		"arrayPath": "vehicles", "field": "value",
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, 40000.0, sum)

	avg, err := executor.Apply(context.Background(), nil, KindAggregate, map[string]any{
		"arrayPath": "vehicles", "field": "value", "operation": "avg",
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, 20000.0, avg)

	// Empty arrays reduce to zero, not an error.
	empty, err := executor.Apply(context.Background(), []any{}, KindAggregate, map[string]any{"operation": "max"}, tctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty)
}

func TestCustomWithoutRunner(t *testing.T) {
	result, err := NewExecutor().Apply(context.Background(), 7, KindCustom, map[string]any{"code": "return value"}, Context{})
	require.Error(t, err)
	assert.Equal(t, 7, result)
}
