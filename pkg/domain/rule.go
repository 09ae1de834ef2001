package domain

// Rule phases evaluated around the rating call.
const (
	PhasePreRating  = "pre_rating"
	PhasePostRating = "post_rating"
)

// RuleCondition is one predicate inside a rule. Conditions sharing a
// LogicalGroup are ANDed together; distinct groups are ORed.
type RuleCondition struct {
	Field        string `yaml:"field"`
	Operator     string `yaml:"operator"`
	Value        any    `yaml:"value"`
	LogicalGroup int    `yaml:"logical_group"`
}

// RuleAction mutates one target field when its rule matches. Actions run in
// SortOrder; ties keep definition order.
type RuleAction struct {
	ActionType  string `yaml:"action_type"`
	TargetField string `yaml:"target_field"`
	Value       any    `yaml:"value"`
	SortOrder   int    `yaml:"sort_order"`
}

// Action types understood by the rule engine.
const (
	ActionSet       = "set"
	ActionAdd       = "add"
	ActionSubtract  = "subtract"
	ActionMultiply  = "multiply"
	ActionDivide    = "divide"
	ActionSurcharge = "surcharge"
	ActionDiscount  = "discount"
	ActionReject    = "reject"
)

// Sentinel fields written by the reject action. Rejection is data, not
// control flow: callers must check these explicitly.
const (
	RejectedField     = "_rejected"
	RejectReasonField = "_rejectReason"
)

// ScopeTag associates a rule with one scope dimension value. Tags grouped by
// ScopeType are ORed within the type and ANDed across types.
type ScopeTag struct {
	ScopeType  string `yaml:"scope_type"`
	ScopeValue string `yaml:"scope_value"`
}

// Rule is a named, prioritized condition/action definition evaluated against
// the working context during apply_rules steps.
type Rule struct {
	ID              string          `yaml:"id"`
	Name            string          `yaml:"name"`
	ProductLineCode string          `yaml:"product_line_code"`
	Phase           string          `yaml:"phase"`
	Priority        int             `yaml:"priority"`
	Sequence        int             `yaml:"sequence"`
	IsActive        bool            `yaml:"is_active"`
	Conditions      []RuleCondition `yaml:"conditions"`
	Actions         []RuleAction    `yaml:"actions"`
	ScopeTags       []ScopeTag      `yaml:"scope_tags"`
}

// RuleEvaluation summarises one evaluate() call.
type RuleEvaluation struct {
	RulesEvaluated   int            `json:"rulesEvaluated"`
	RulesApplied     int            `json:"rulesApplied"`
	AppliedRuleNames []string       `json:"appliedRuleNames"`
	ModifiedFields   map[string]any `json:"modifiedFields"`
	DurationMS       int64          `json:"durationMs"`
}
