package transform

import (
	"math"

	"github.com/rately/ratecore/pkg/condition"
)

// aggregate resolves an array by path, optionally projects a sub-field per
// element, keeps the numerically coercible values, and reduces them. Empty or
// invalid arrays yield 0 rather than an error.
func (e *Executor) aggregate(value any, config map[string]any, tctx Context) (any, error) {
	arrayPath := cfgString(config, "arrayPath", "path")

	var source any = value
	if arrayPath != "" {
		source, _ = tctx.Lookup(arrayPath)
	}

	items, _ := source.([]any)
	field := cfgString(config, "field")

	numbers := make([]float64, 0, len(items))
	for _, item := range items {
		candidate := item
		if field != "" {
			element, ok := item.(map[string]any)
			if !ok {
				continue
			}
			candidate = element[field]
		}
		if n, ok := condition.ToNumber(candidate); ok {
			numbers = append(numbers, n)
		}
	}

	if len(numbers) == 0 {
		return 0.0, nil
	}

	operation := cfgString(config, "operation")
	switch operation {
	case "avg":
		sum := 0.0
		for _, n := range numbers {
			sum += n
		}
		return sum / float64(len(numbers)), nil
	case "min":
		minimum := math.Inf(1)
		for _, n := range numbers {
			minimum = math.Min(minimum, n)
		}
		return minimum, nil
	case "max":
		maximum := math.Inf(-1)
		for _, n := range numbers {
			maximum = math.Max(maximum, n)
		}
		return maximum, nil
	default: // sum
		sum := 0.0
		for _, n := range numbers {
			sum += n
		}
		return sum, nil
	}
}
