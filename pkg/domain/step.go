package domain

// StepStatus classifies the outcome of one attempted pipeline step.
type StepStatus string

const (
	// StepCompleted indicates the handler finished its work.
	StepCompleted StepStatus = "completed"
	// StepFailed indicates the handler reported or raised a failure.
	StepFailed StepStatus = "failed"
	// StepSkipped indicates the step was not executed (false condition or
	// missing handler).
	StepSkipped StepStatus = "skipped"
)

// Pipeline-level statuses share the step vocabulary: a pipeline is either
// "completed" or "failed" as a whole.
const (
	PipelineCompleted = "completed"
	PipelineFailed    = "failed"
)

// OnFailure policies supported by step resilience configuration.
const (
	// OnFailureStop halts the whole pipeline on a failed step. This is the
	// default when no resilience block is present.
	OnFailureStop = "stop"
	// OnFailureContinue records the failure and moves to the next step.
	OnFailureContinue = "continue"
)

// StepCondition gates a step on a field in the working context.
type StepCondition struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
}

// Resilience holds the per-step failure policy.
type Resilience struct {
	OnFailure string `yaml:"on_failure"`
}

// Step is one configured unit of work in an orchestrator flow. Steps are
// supplied by the flow provider and consumed read-only by the executor.
type Step struct {
	ID         string         `yaml:"id"`
	StepOrder  int            `yaml:"step_order"`
	StepType   string         `yaml:"step_type"`
	Name       string         `yaml:"name"`
	Config     map[string]any `yaml:"config"`
	IsActive   bool           `yaml:"is_active"`
	Condition  *StepCondition `yaml:"condition,omitempty"`
	Resilience *Resilience    `yaml:"resilience,omitempty"`
}

// OnFailurePolicy resolves the effective failure policy for the step,
// defaulting to stop.
func (s Step) OnFailurePolicy() string {
	if s.Resilience == nil || s.Resilience.OnFailure == "" {
		return OnFailureStop
	}
	return s.Resilience.OnFailure
}

// StepResult is the per-step audit record. Exactly one result is appended for
// every active step the executor attempts.
type StepResult struct {
	StepID     string         `json:"stepId"`
	StepType   string         `json:"stepType"`
	StepName   string         `json:"stepName"`
	Status     StepStatus     `json:"status"`
	DurationMS int64          `json:"durationMs"`
	Error      string         `json:"error,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
}

// ExecutionResult aggregates a full pipeline run.
type ExecutionResult struct {
	Status          string         `json:"status"`
	StepResults     []StepResult   `json:"stepResults"`
	Response        map[string]any `json:"response"`
	TotalDurationMS int64          `json:"totalDurationMs"`
}
