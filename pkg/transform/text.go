package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rately/ratecore/pkg/condition"
)

var defaultTrueValues = []string{"true", "yes", "1", "on"}

// boolean tests string membership against a configurable true-value set.
// Boolean input passes through unchanged.
func (e *Executor) boolean(value any, config map[string]any) (any, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}

	trueValues := defaultTrueValues
	if raw, ok := config["trueValues"].([]any); ok && len(raw) > 0 {
		trueValues = make([]string, 0, len(raw))
		for _, item := range raw {
			trueValues = append(trueValues, condition.Stringify(item))
		}
	}

	needle := strings.ToLower(strings.TrimSpace(condition.Stringify(value)))
	for _, candidate := range trueValues {
		if needle == strings.ToLower(candidate) {
			return true, nil
		}
	}
	return false, nil
}

// concatenate joins configured field paths resolved against the full
// context. Missing fields render as empty strings.
func (e *Executor) concatenate(value any, config map[string]any, tctx Context) (any, error) {
	rawFields, ok := config["fields"].([]any)
	if !ok || len(rawFields) == 0 {
		return value, fmt.Errorf("concatenate: no fields configured")
	}
	separator := ""
	if s, ok := config["separator"].(string); ok {
		separator = s
	}

	parts := make([]string, 0, len(rawFields))
	for _, raw := range rawFields {
		path, ok := raw.(string)
		if !ok {
			return value, fmt.Errorf("concatenate: field paths must be strings, got %T", raw)
		}
		resolved, _ := tctx.Lookup(path)
		parts = append(parts, condition.Stringify(resolved))
	}
	return strings.Join(parts, separator), nil
}

// split divides a string on a delimiter. With an index configured it returns
// that element (empty string when out of range); otherwise the whole slice.
func (e *Executor) split(value any, config map[string]any) (any, error) {
	s := condition.Stringify(value)
	delimiter := ","
	if d, ok := config["delimiter"].(string); ok && d != "" {
		delimiter = d
	}
	pieces := strings.Split(s, delimiter)

	if raw, ok := config["index"]; ok {
		index, numeric := condition.ToNumber(raw)
		if !numeric {
			return value, fmt.Errorf("split: index %v is not numeric", raw)
		}
		i := int(index)
		if i < 0 || i >= len(pieces) {
			return "", nil
		}
		return pieces[i], nil
	}

	out := make([]any, len(pieces))
	for i, piece := range pieces {
		out[i] = piece
	}
	return out, nil
}

// numberFormat renders a number as a locale-style grouped string with an
// optional fixed precision.
func (e *Executor) numberFormat(value any, config map[string]any) (any, error) {
	v, ok := condition.ToNumber(value)
	if !ok {
		return value, fmt.Errorf("number_format: value %v is not numeric", value)
	}

	precision := -1
	if d, ok := cfgNumber(config, "decimals", "precision"); ok {
		precision = int(d)
	}

	groupSep, decimalSep := localeSeparators(cfgString(config, "locale"))

	var rendered string
	if precision >= 0 {
		rendered = strconv.FormatFloat(v, 'f', precision, 64)
	} else {
		rendered = strconv.FormatFloat(v, 'f', -1, 64)
	}

	sign := ""
	if strings.HasPrefix(rendered, "-") {
		sign = "-"
		rendered = rendered[1:]
	}
	whole, frac, hasFrac := strings.Cut(rendered, ".")

	grouped := groupDigits(whole, groupSep)
	if hasFrac {
		return sign + grouped + decimalSep + frac, nil
	}
	return sign + grouped, nil
}

// localeSeparators picks grouping and decimal separators for a locale tag.
// Continental European locales swap the US defaults; everything unknown
// falls back to en-US.
func localeSeparators(locale string) (group, decimal string) {
	lang := strings.ToLower(locale)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	switch lang {
	case "de", "es", "it", "nl", "pt":
		return ".", ","
	case "fr":
		return " ", ","
	default:
		return ",", "."
	}
}

func groupDigits(digits string, sep string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
