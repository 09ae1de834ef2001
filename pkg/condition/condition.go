// Package condition evaluates the shared operator set used by step
// conditions and rule conditions. Numeric comparisons coerce both sides the
// way a JSON runtime would (strings parse, booleans become 0/1); a value that
// does not coerce simply fails the comparison instead of raising.
package condition

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Operator names.
const (
	OpEqual        = "eq"
	OpNotEqual     = "neq"
	OpGreater      = "gt"
	OpGreaterEqual = "gte"
	OpLess         = "lt"
	OpLessEqual    = "lte"
	OpIn           = "in"
	OpNotIn        = "not_in"
	OpExists       = "exists"
	OpContains     = "contains"
	OpMatches      = "matches"
	OpStartsWith   = "starts_with"
	OpEndsWith     = "ends_with"
)

// Evaluate applies an operator to an actual value (read from the context) and
// an expected value (from configuration). Unknown operators return an error;
// everything else degrades to false rather than failing.
func Evaluate(operator string, actual, expected any) (bool, error) {
	switch operator {
	case OpEqual, "==", "equals":
		return equal(actual, expected), nil

	case OpNotEqual, "!=":
		return !equal(actual, expected), nil

	case OpGreater:
		return numericCompare(actual, expected, func(a, b float64) bool { return a > b }), nil

	case OpGreaterEqual:
		return numericCompare(actual, expected, func(a, b float64) bool { return a >= b }), nil

	case OpLess:
		return numericCompare(actual, expected, func(a, b float64) bool { return a < b }), nil

	case OpLessEqual:
		return numericCompare(actual, expected, func(a, b float64) bool { return a <= b }), nil

	case OpIn:
		return in(actual, expected)

	case OpNotIn:
		found, err := in(actual, expected)
		return !found, err

	case OpExists:
		return actual != nil, nil

	case OpContains:
		return contains(actual, expected), nil

	case OpMatches:
		return matches(actual, expected)

	case OpStartsWith:
		return strings.HasPrefix(Stringify(actual), Stringify(expected)), nil

	case OpEndsWith:
		return strings.HasSuffix(Stringify(actual), Stringify(expected)), nil

	default:
		return false, fmt.Errorf("unknown operator: %q", operator)
	}
}

func equal(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	// Numeric comparison first so 10 == "10" and int vs float64 agree.
	if a, aok := ToNumber(actual); aok {
		if b, bok := ToNumber(expected); bok {
			return a == b
		}
	}

	if a, ok := actual.(string); ok {
		if b, ok := expected.(string); ok {
			return a == b
		}
	}

	return reflect.DeepEqual(actual, expected)
}

func numericCompare(actual, expected any, cmp func(a, b float64) bool) bool {
	a, aok := ToNumber(actual)
	b, bok := ToNumber(expected)
	if !aok || !bok {
		return false
	}
	return cmp(a, b)
}

// in requires the expected side to be a list and tests membership.
func in(actual, expected any) (bool, error) {
	list := reflect.ValueOf(expected)
	if !list.IsValid() || (list.Kind() != reflect.Slice && list.Kind() != reflect.Array) {
		return false, fmt.Errorf("in operator requires a list, got %T", expected)
	}
	for i := 0; i < list.Len(); i++ {
		if equal(actual, list.Index(i).Interface()) {
			return true, nil
		}
	}
	return false, nil
}

func contains(actual, expected any) bool {
	switch typed := actual.(type) {
	case string:
		return strings.Contains(typed, Stringify(expected))
	case []any:
		for _, item := range typed {
			if equal(item, expected) {
				return true
			}
		}
	}
	return false
}

func matches(actual, expected any) (bool, error) {
	pattern, ok := expected.(string)
	if !ok {
		return false, fmt.Errorf("matches operator requires a string pattern, got %T", expected)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re.MatchString(Stringify(actual)), nil
}

// ToNumber coerces a value to float64 following loose JSON semantics:
// numbers pass through, booleans become 0/1, and numeric strings parse.
func ToNumber(v any) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int8:
		return float64(typed), true
	case int16:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint8:
		return float64(typed), true
	case uint16:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case bool:
		if typed {
			return 1, true
		}
		return 0, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Stringify renders a value the way it would print into a joined field.
// nil renders as the empty string.
func Stringify(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprint(v)
	}
}
