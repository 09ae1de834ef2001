// Package handlers contains the step handler implementations registered with
// the flow executor. Each handler owns one step type and mutates the
// execution context through its documented surfaces only.
package handlers

import (
	"strconv"
	"time"
)

// cfgString reads the first present string key from a step config.
func cfgString(config map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := config[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// cfgBool reads a boolean config key, tolerating string forms.
func cfgBool(config map[string]any, key string) bool {
	switch v := config[key].(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(v)
		return err == nil && parsed
	default:
		return false
	}
}

// cfgInt reads an integer config key. YAML and JSON decoding produce
// different numeric types, so all of them are accepted.
func cfgInt(config map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := config[key].(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		case string:
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}

// cfgDuration reads a millisecond config key as a duration.
func cfgDuration(config map[string]any, keys ...string) (time.Duration, bool) {
	ms, ok := cfgInt(config, keys...)
	if !ok || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// cfgSlice reads a config list.
func cfgSlice(config map[string]any, key string) []any {
	if v, ok := config[key].([]any); ok {
		return v
	}
	return nil
}

// cfgStrings reads a config list of strings, dropping non-string entries.
func cfgStrings(config map[string]any, key string) []string {
	items := cfgSlice(config, key)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
