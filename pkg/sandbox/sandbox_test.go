package sandbox

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rately/ratecore/pkg/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, ClampTimeout(0))
	assert.Equal(t, DefaultTimeout, ClampTimeout(-time.Second))
	assert.Equal(t, MinTimeout, ClampTimeout(10*time.Millisecond))
	assert.Equal(t, MaxTimeout, ClampTimeout(time.Minute))
	assert.Equal(t, 2*time.Second, ClampTimeout(2*time.Second))
}

func TestRunMutatesWorking(t *testing.T) {
	sb := New(testLogger)

	result := sb.Run(context.Background(), `
working["total"] = 42.0
response["premium"] = 100.0
`, nil, map[string]any{"existing": "kept"}, nil, domain.Scope{}, 0)

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 42.0, result.Working["total"])
	assert.Equal(t, "kept", result.Working["existing"])
	assert.Equal(t, 100.0, result.Response["premium"])
}

func TestRunReadsRequestAndScope(t *testing.T) {
	sb := New(testLogger)
	request := map[string]any{"base": 250.0}
	scope := domain.Scope{State: "TX", Coverage: "comprehensive"}

	result := sb.Run(context.Background(), `
working["doubled"] = request["base"].(float64) * 2
working["state"] = scope["state"].(string)
`, request, nil, nil, scope, 0)

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 500.0, result.Working["doubled"])
	assert.Equal(t, "TX", result.Working["state"])
}

func TestRunFailureDiscardsViews(t *testing.T) {
	sb := New(testLogger)
	working := map[string]any{"premium": 800.0}

	result := sb.Run(context.Background(), `
working["premium"] = 0.0
this is not a program
`, nil, working, nil, domain.Scope{}, 0)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Nil(t, result.Working)
	assert.Nil(t, result.Response)
	// The caller's view was never handed to the script.
	assert.Equal(t, 800.0, working["premium"])
}

func TestRunDoesNotMutateCallerMaps(t *testing.T) {
	sb := New(testLogger)
	working := map[string]any{"fees": map[string]any{"base": 25.0}}

	result := sb.Run(context.Background(), `
working["fees"].(map[string]interface{})["base"] = 999.0
`, nil, working, nil, domain.Scope{}, 0)

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 999.0, result.Working["fees"].(map[string]any)["base"])
	assert.Equal(t, 25.0, working["fees"].(map[string]any)["base"])
}

func TestRunTimeout(t *testing.T) {
	sb := New(testLogger)

	result := sb.Run(context.Background(), `
for {
}
`, nil, nil, nil, domain.Scope{}, MinTimeout)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
}

func TestRunValue(t *testing.T) {
	sb := New(testLogger)

	out, err := sb.RunValue(context.Background(), `
return value.(float64) * 2
`, 10.0, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 20.0, out)
}

func TestRunValueNilInput(t *testing.T) {
	sb := New(testLogger)

	out, err := sb.RunValue(context.Background(), `
if value == nil {
	return "empty"
}
return value
`, nil, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "empty", out)
}

func TestRunValueReadsWorking(t *testing.T) {
	sb := New(testLogger)
	working := map[string]any{"factor": 1.5}

	out, err := sb.RunValue(context.Background(), `
return value.(float64) * working["factor"].(float64)
`, 100.0, working, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 150.0, out)
}

func TestRunValueScriptError(t *testing.T) {
	sb := New(testLogger)

	_, err := sb.RunValue(context.Background(), `return undefinedSymbol`, 1, nil, nil, 0)
	assert.Error(t, err)
}
