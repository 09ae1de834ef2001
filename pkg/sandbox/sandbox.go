// Package sandbox executes user-supplied scripts against a restricted view of
// the execution context. Scripts run inside an embedded yaegi interpreter
// with no standard library loaded: the only symbols visible to a script are
// the context views passed in, so scripts cannot reach I/O, the process, or
// module loading. Every run is bounded by a clamped wall-clock timeout, and
// mutation targets are private deep copies that are discarded on failure.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/traefik/yaegi/interp"

	"github.com/rately/ratecore/pkg/domain"
)

// Timeout bounds applied to every script run.
const (
	DefaultTimeout = 5 * time.Second
	MinTimeout     = 100 * time.Millisecond
	MaxTimeout     = 30 * time.Second
)

// Result reports one script run. Working and Response are only populated on
// success; on failure the caller keeps its own views untouched.
type Result struct {
	Success    bool
	Working    map[string]any
	Response   map[string]any
	Error      string
	DurationMS int64
}

// Sandbox builds one interpreter per run. Interpreters are not reused across
// scripts so state can never leak between requests.
type Sandbox struct {
	logger *slog.Logger
}

// New creates a script sandbox.
func New(logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{logger: logger}
}

// ClampTimeout applies the floor, ceiling, and default to a requested timeout.
func ClampTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return DefaultTimeout
	case timeout < MinTimeout:
		return MinTimeout
	case timeout > MaxTimeout:
		return MaxTimeout
	default:
		return timeout
	}
}

// Run executes a script as the body of a four-argument function receiving
// deep copies of request, working, response, and scope by position. The
// script mutates working/response in place; no return value is honoured.
func (s *Sandbox) Run(ctx context.Context, source string, request, working, response map[string]any, scope domain.Scope, timeout time.Duration) Result {
	start := time.Now()

	workingCopy := domain.CopyTree(working)
	responseCopy := domain.CopyTree(response)
	requestCopy := domain.CopyTree(request)
	scopeCopy := map[string]any{
		"state":           scope.State,
		"coverage":        scope.Coverage,
		"transactionType": scope.TransactionType,
	}
	if workingCopy == nil {
		workingCopy = make(map[string]any)
	}
	if responseCopy == nil {
		responseCopy = make(map[string]any)
	}
	if requestCopy == nil {
		requestCopy = make(map[string]any)
	}

	symbols := map[string]reflect.Value{
		"Request":  reflect.ValueOf(requestCopy),
		"Working":  reflect.ValueOf(workingCopy),
		"Response": reflect.ValueOf(responseCopy),
		"Scope":    reflect.ValueOf(scopeCopy),
	}

	decls := "import . \"ratescript\"\n\n" +
		"func __run(request map[string]interface{}, working map[string]interface{}, response map[string]interface{}, scope map[string]interface{}) {\n" +
		source + "\n}\n"

	err := s.eval(ctx, "ratescript", symbols, decls, "__run(Request, Working, Response, Scope)", timeout)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		s.logger.Warn("script execution failed", "error", err, "duration_ms", duration)
		return Result{Success: false, Error: err.Error(), DurationMS: duration}
	}

	return Result{
		Success:    true,
		Working:    workingCopy,
		Response:   responseCopy,
		DurationMS: duration,
	}
}

// RunValue executes a transform function body receiving (value, working,
// request) and returns the value it produces. Used by the custom field
// transform; the body must contain a return statement.
func (s *Sandbox) RunValue(ctx context.Context, source string, value any, working, request map[string]any, timeout time.Duration) (any, error) {
	workingCopy := domain.CopyTree(working)
	requestCopy := domain.CopyTree(request)
	if workingCopy == nil {
		workingCopy = make(map[string]any)
	}
	if requestCopy == nil {
		requestCopy = make(map[string]any)
	}

	var out any
	capture := func(v interface{}) { out = v }

	// A nil value cannot cross reflect.ValueOf, so box it as interface{}.
	boxed := value
	valueRef := reflect.ValueOf(&boxed).Elem()

	symbols := map[string]reflect.Value{
		"Value":     valueRef,
		"Working":   reflect.ValueOf(workingCopy),
		"Request":   reflect.ValueOf(requestCopy),
		"SetResult": reflect.ValueOf(capture),
	}

	decls := "import . \"ratectx\"\n\n" +
		"func __transform(value interface{}, working map[string]interface{}, request map[string]interface{}) interface{} {\n" +
		source + "\n}\n"

	if err := s.eval(ctx, "ratectx", symbols, decls, "SetResult(__transform(Value, Working, Request))", timeout); err != nil {
		return nil, err
	}
	return out, nil
}

// eval runs one composed program under the clamped timeout. A fresh
// interpreter is built per call with only the provided symbols exposed. The
// declarations and the invocation are evaluated separately: yaegi accepts a
// bare call expression only on its own, not trailing a declaration block.
func (s *Sandbox) eval(ctx context.Context, pkg string, symbols map[string]reflect.Value, decls, call string, timeout time.Duration) (err error) {
	timeout = ClampTimeout(timeout)
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	i := interp.New(interp.Options{})
	if useErr := i.Use(interp.Exports{pkg + "/" + pkg: symbols}); useErr != nil {
		return fmt.Errorf("bind sandbox symbols: %w", useErr)
	}

	// yaegi panics on some malformed programs; that must surface as an
	// ordinary script error, never cross the handler boundary.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script panic: %v", r)
		}
	}()

	for _, src := range []string{decls, call} {
		if _, evalErr := i.EvalWithContext(runCtx, src); evalErr != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("script timed out after %s", timeout)
			}
			return fmt.Errorf("script error: %w", evalErr)
		}
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("script timed out after %s", timeout)
	}
	return nil
}
