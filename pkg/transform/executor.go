// Package transform applies single-field value transformations during field
// mapping. The executor is a pure function over (value, kind, config,
// context): on any failure the original value is returned unchanged together
// with the error, and the caller decides whether to record and continue. The
// executor itself never escalates, and never panics for well-formed input.
package transform

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rately/ratecore/pkg/condition"
	"github.com/rately/ratecore/pkg/expr"
	"github.com/rately/ratecore/pkg/fieldpath"
)

// Transformation kinds.
const (
	KindDirect       = "direct"
	KindConstant     = "constant"
	KindMultiply     = "multiply"
	KindDivide       = "divide"
	KindRound        = "round"
	KindPerUnit      = "per_unit"
	KindNumberFormat = "number_format"
	KindDate         = "date"
	KindBoolean      = "boolean"
	KindConcatenate  = "concatenate"
	KindSplit        = "split"
	KindExpression   = "expression"
	KindCustom       = "custom"
	KindConditional  = "conditional"
	KindAggregate    = "aggregate"
)

// Context is the read-only view of the execution context a transform may
// consult. Paths resolve against working first, then the request snapshot.
type Context struct {
	Working map[string]any
	Request map[string]any
}

// Lookup resolves a dot-path against the context, honouring explicit
// "working." and "request." prefixes.
func (c Context) Lookup(path string) (any, bool) {
	path = fieldpath.Normalize(path)
	if rest, ok := strings.CutPrefix(path, "working."); ok {
		return fieldpath.Get(c.Working, rest)
	}
	if rest, ok := strings.CutPrefix(path, "request."); ok {
		return fieldpath.Get(c.Request, rest)
	}
	if value, ok := fieldpath.Get(c.Working, path); ok {
		return value, true
	}
	return fieldpath.Get(c.Request, path)
}

// ScriptRunner executes the custom transform's user-supplied function body.
// Implemented by the script sandbox.
type ScriptRunner interface {
	RunValue(ctx context.Context, source string, value any, working, request map[string]any, timeout time.Duration) (any, error)
}

// Executor applies transformations. Safe for concurrent use.
type Executor struct {
	exprEval *expr.Evaluator
	scripts  ScriptRunner
}

// Option configures an Executor.
type Option func(*Executor)

// WithScriptRunner wires the sandbox used by the custom transform kind.
func WithScriptRunner(runner ScriptRunner) Option {
	return func(e *Executor) { e.scripts = runner }
}

// NewExecutor builds a transform executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{exprEval: expr.New(expr.Options{})}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply transforms one value. On error the original value is returned
// unchanged alongside a human-readable error.
func (e *Executor) Apply(ctx context.Context, value any, kind string, config map[string]any, tctx Context) (any, error) {
	if config == nil {
		config = map[string]any{}
	}

	switch kind {
	case KindDirect, "":
		return value, nil

	case KindConstant:
		return config["value"], nil

	case KindMultiply:
		return e.multiply(value, config)

	case KindDivide:
		return e.divide(value, config)

	case KindRound:
		return e.round(value, config)

	case KindPerUnit:
		return e.perUnit(value, config)

	case KindNumberFormat:
		return e.numberFormat(value, config)

	case KindDate:
		return e.date(value, config)

	case KindBoolean:
		return e.boolean(value, config)

	case KindConcatenate:
		return e.concatenate(value, config, tctx)

	case KindSplit:
		return e.split(value, config)

	case KindExpression:
		return e.expression(ctx, value, config, tctx)

	case KindCustom:
		return e.custom(ctx, value, config, tctx)

	case KindConditional:
		return e.conditional(value, config, tctx)

	case KindAggregate:
		return e.aggregate(value, config, tctx)

	default:
		return value, fmt.Errorf("unknown transformation type %q", kind)
	}
}

func (e *Executor) multiply(value any, config map[string]any) (any, error) {
	v, ok := condition.ToNumber(value)
	if !ok {
		return value, fmt.Errorf("multiply: value %v is not numeric", value)
	}
	factor, ok := cfgNumber(config, "factor", "value")
	if !ok {
		return value, fmt.Errorf("multiply: factor is not numeric")
	}
	return v * factor, nil
}

func (e *Executor) divide(value any, config map[string]any) (any, error) {
	v, ok := condition.ToNumber(value)
	if !ok {
		return value, fmt.Errorf("divide: value %v is not numeric", value)
	}
	divisor, ok := cfgNumber(config, "divisor", "value")
	if !ok {
		return value, fmt.Errorf("divide: divisor is not numeric")
	}
	if divisor == 0 {
		return value, fmt.Errorf("divide: division by zero")
	}
	return v / divisor, nil
}

// round uses half-up rounding via scale-multiply-round-descale so that 2.345
// at two decimals yields 2.35.
func (e *Executor) round(value any, config map[string]any) (any, error) {
	v, ok := condition.ToNumber(value)
	if !ok {
		return value, fmt.Errorf("round: value %v is not numeric", value)
	}
	decimals := 0
	if d, ok := cfgNumber(config, "decimals"); ok {
		decimals = int(d)
	}
	scale := math.Pow(10, float64(decimals))
	return math.Floor(v*scale+0.5) / scale, nil
}

// perUnit converts a quantity into an amount: value divided into blocks of
// perUnit, each block charged at rate.
func (e *Executor) perUnit(value any, config map[string]any) (any, error) {
	v, ok := condition.ToNumber(value)
	if !ok {
		return value, fmt.Errorf("per_unit: value %v is not numeric", value)
	}
	per := 1.0
	if p, ok := cfgNumber(config, "perUnit", "unitSize"); ok {
		per = p
	}
	if per == 0 {
		return value, fmt.Errorf("per_unit: unit size is zero")
	}
	rate, ok := cfgNumber(config, "rate")
	if !ok {
		return value, fmt.Errorf("per_unit: rate is not numeric")
	}
	return v / per * rate, nil
}

func (e *Executor) expression(ctx context.Context, value any, config map[string]any, tctx Context) (any, error) {
	source := cfgString(config, "expression")
	if source == "" {
		return value, fmt.Errorf("expression: no expression configured")
	}
	lookup := func(path string) (any, bool) {
		if path == "value" {
			return value, true
		}
		return tctx.Lookup(path)
	}
	result, err := e.exprEval.EvaluateValue(ctx, source, lookup)
	if err != nil {
		return value, fmt.Errorf("expression: %v", err)
	}
	return result, nil
}

func (e *Executor) custom(ctx context.Context, value any, config map[string]any, tctx Context) (any, error) {
	if e.scripts == nil {
		return value, fmt.Errorf("custom: no script runner configured")
	}
	source := cfgString(config, "code", "function")
	if source == "" {
		return value, fmt.Errorf("custom: no code configured")
	}
	var timeout time.Duration
	if ms, ok := cfgNumber(config, "timeoutMs"); ok {
		timeout = time.Duration(ms) * time.Millisecond
	}
	result, err := e.scripts.RunValue(ctx, source, value, tctx.Working, tctx.Request, timeout)
	if err != nil {
		return value, fmt.Errorf("custom: %v", err)
	}
	return result, nil
}

func (e *Executor) conditional(value any, config map[string]any, tctx Context) (any, error) {
	field := cfgString(config, "field")
	operator := cfgString(config, "operator")
	if field == "" || operator == "" {
		return value, fmt.Errorf("conditional: field and operator are required")
	}
	actual, _ := tctx.Lookup(field)
	matched, err := condition.Evaluate(operator, actual, config["value"])
	if err != nil {
		return value, fmt.Errorf("conditional: %v", err)
	}
	if matched {
		return config["thenValue"], nil
	}
	return config["elseValue"], nil
}

// cfgNumber reads the first present key and coerces it numerically.
func cfgNumber(config map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if raw, ok := config[key]; ok {
			return condition.ToNumber(raw)
		}
	}
	return 0, false
}

func cfgString(config map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := config[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
