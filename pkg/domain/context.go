package domain

import (
	"github.com/google/uuid"
)

// Scope carries the optional rating dimensions used to select which steps and
// rules apply to a request.
type Scope struct {
	State           string `yaml:"state" json:"state,omitempty"`
	Coverage        string `yaml:"coverage" json:"coverage,omitempty"`
	TransactionType string `yaml:"transaction_type" json:"transactionType,omitempty"`
}

// IsEmpty reports whether no scope dimension is set.
func (s Scope) IsEmpty() bool {
	return s.State == "" && s.Coverage == "" && s.TransactionType == ""
}

// Dimension returns the scope value for a named dimension. The second return
// is false for dimension names the scope does not know about.
func (s Scope) Dimension(name string) (string, bool) {
	switch name {
	case "state":
		return s.State, true
	case "coverage":
		return s.Coverage, true
	case "transactionType", "transaction_type":
		return s.TransactionType, true
	default:
		return "", false
	}
}

// ExecutionContext holds the per-request mutable state threaded through every
// pipeline step. It is created once per rating request, owned by the pipeline
// executor, and mutated only by the handlers it invokes.
//
// Request is a read-only snapshot of the caller payload; handlers write to
// Working, Response, and Enrichments only.
type ExecutionContext struct {
	CorrelationID   string
	TransactionID   string
	ProductLineCode string
	Scope           Scope

	Request     map[string]any
	Working     map[string]any
	Enrichments map[string]any
	Response    map[string]any

	StepResults []StepResult
}

// NewExecutionContext builds a context for one rating request. Working starts
// as a deep copy of the payload so later mutation never leaks back into the
// Request snapshot.
func NewExecutionContext(productLineCode string, scope Scope, payload map[string]any) *ExecutionContext {
	if payload == nil {
		payload = make(map[string]any)
	}
	return &ExecutionContext{
		CorrelationID:   uuid.NewString(),
		TransactionID:   uuid.NewString(),
		ProductLineCode: productLineCode,
		Scope:           scope,
		Request:         CopyTree(payload),
		Working:         CopyTree(payload),
		Enrichments:     make(map[string]any),
		Response:        make(map[string]any),
	}
}

// AppendResult records a per-step outcome. The results list is append-only
// and never reordered.
func (c *ExecutionContext) AppendResult(result StepResult) {
	c.StepResults = append(c.StepResults, result)
}

// CopyTree returns a deep copy of a plain key/value tree. Maps and slices are
// copied recursively; scalar leaves are shared, which is safe because the
// trees only ever hold JSON-like immutable scalars.
func CopyTree(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}
	return dst
}

func copyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return CopyTree(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
