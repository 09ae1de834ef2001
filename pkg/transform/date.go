package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/rately/ratecore/pkg/condition"
)

// Output format names with fixed layouts. Anything else is treated as a
// generic token pattern (YYYY, MM, DD, HH, mm, ss).
var dateLayouts = map[string]string{
	"YYYY-MM-DD": "2006-01-02",
	"MM/DD/YYYY": "01/02/2006",
	"DD/MM/YYYY": "02/01/2006",
	"MM-DD-YYYY": "01-02-2006",
}

// date reformats a date value. Date-only inputs are parsed as local-time
// calendar values rather than UTC midnight: parsing "2024-01-15" as UTC and
// rendering it in a negative-offset zone would roll the day back.
func (e *Executor) date(value any, config map[string]any) (any, error) {
	parsed, err := parseDate(value, cfgString(config, "inputFormat"))
	if err != nil {
		return value, fmt.Errorf("date: %v", err)
	}

	format := cfgString(config, "format", "outputFormat")
	if format == "" {
		format = "YYYY-MM-DD"
	}

	switch format {
	case "ISO":
		return parsed.Format(time.RFC3339), nil
	case "timestamp":
		return float64(parsed.UnixMilli()), nil
	case "epoch":
		return float64(parsed.Unix()), nil
	}
	if layout, ok := dateLayouts[format]; ok {
		return parsed.Format(layout), nil
	}
	return parsed.Format(tokensToLayout(format)), nil
}

func parseDate(value any, inputFormat string) (time.Time, error) {
	if t, ok := value.(time.Time); ok {
		return t, nil
	}

	// Numeric inputs are epoch values; anything above ~Sep 2001 in
	// milliseconds is unambiguous.
	if n, ok := value.(float64); ok {
		return epochToTime(n), nil
	}
	if n, ok := value.(int); ok {
		return epochToTime(float64(n)), nil
	}
	if n, ok := value.(int64); ok {
		return epochToTime(float64(n)), nil
	}

	s, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("cannot parse %T as date", value)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date string")
	}

	if inputFormat != "" {
		layout := inputFormat
		if known, ok := dateLayouts[inputFormat]; ok {
			layout = known
		} else {
			layout = tokensToLayout(inputFormat)
		}
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %q with format %q: %v", s, inputFormat, err)
		}
		return t, nil
	}

	if n, numeric := condition.ToNumber(s); numeric && !strings.ContainsAny(s, "-/:T ") {
		return epochToTime(n), nil
	}

	// Date-only: local calendar value, not UTC midnight.
	if len(s) == 10 && s[4] == '-' && s[7] == '-' {
		if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
			return t, nil
		}
	}

	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"01/02/2006",
	} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func epochToTime(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n))
	}
	return time.Unix(int64(n), 0)
}

var tokenReplacer = strings.NewReplacer(
	"YYYY", "2006",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

func tokensToLayout(pattern string) string {
	return tokenReplacer.Replace(pattern)
}
