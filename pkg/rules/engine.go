// Package rules implements the rule evaluation engine. Rules are loaded per
// product line and phase, filtered by scope-tag matching, and matched through
// condition groups (AND within a group, OR across groups, no conditions means
// always match). Matching rules apply their actions in order against a shared
// field accumulator so that later rules see earlier rules' effects on the
// same target field within one evaluation.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rately/ratecore/pkg/condition"
	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/fieldpath"
)

// Provider supplies rule definitions. Implementations must return rules in
// creation order; the engine re-sorts by priority itself.
type Provider interface {
	RulesForPhase(ctx context.Context, productLineCode, phase string) ([]domain.Rule, error)
}

// Engine evaluates rules against a request context. Safe for concurrent use.
type Engine struct {
	provider Provider
	logger   *slog.Logger
}

// NewEngine creates a rule engine backed by the given provider.
func NewEngine(provider Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{provider: provider, logger: logger}
}

// Evaluate runs every applicable rule for the product line, phase, and scope
// and returns the field delta produced by the matching rules' actions. A
// failure inside one rule is logged and treated as a non-match; it never
// aborts the batch.
func (e *Engine) Evaluate(ctx context.Context, productLineCode string, scope domain.Scope, phase string, working map[string]any) (*domain.RuleEvaluation, error) {
	start := time.Now()

	loaded, err := e.provider.RulesForPhase(ctx, productLineCode, phase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRulesUnavailable, err)
	}

	rules := make([]domain.Rule, 0, len(loaded))
	for _, rule := range loaded {
		if rule.IsActive {
			rules = append(rules, rule)
		}
	}
	// Descending priority, then creation order.
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].Sequence < rules[j].Sequence
	})

	evaluation := &domain.RuleEvaluation{
		AppliedRuleNames: []string{},
		ModifiedFields:   map[string]any{},
	}

	for _, rule := range rules {
		if !scopeMatches(rule.ScopeTags, scope) {
			continue
		}
		evaluation.RulesEvaluated++

		matched, err := e.ruleMatches(rule, working, evaluation.ModifiedFields)
		if err != nil {
			e.logger.Warn("rule evaluation failed; treating as non-match",
				"rule", rule.Name,
				"product_line", productLineCode,
				"error", err,
			)
			continue
		}
		if !matched {
			continue
		}

		// Actions run against a staged copy so a mid-rule failure leaves
		// the accumulator untouched.
		staged := domain.CopyTree(evaluation.ModifiedFields)
		if err := applyActions(rule.Actions, staged, working); err != nil {
			e.logger.Warn("rule action failed; treating as non-match",
				"rule", rule.Name,
				"product_line", productLineCode,
				"error", err,
			)
			continue
		}

		evaluation.ModifiedFields = staged
		evaluation.RulesApplied++
		evaluation.AppliedRuleNames = append(evaluation.AppliedRuleNames, rule.Name)
	}

	evaluation.DurationMS = time.Since(start).Milliseconds()
	return evaluation, nil
}

// ruleMatches evaluates condition groups: AND within a group, OR across
// groups. A rule with no conditions always matches. Condition fields read
// the accumulator first so rules can chain on each other's outputs.
func (e *Engine) ruleMatches(rule domain.Rule, working, modified map[string]any) (bool, error) {
	if len(rule.Conditions) == 0 {
		return true, nil
	}

	groups := make(map[int][]domain.RuleCondition)
	order := make([]int, 0)
	for _, cond := range rule.Conditions {
		if _, seen := groups[cond.LogicalGroup]; !seen {
			order = append(order, cond.LogicalGroup)
		}
		groups[cond.LogicalGroup] = append(groups[cond.LogicalGroup], cond)
	}
	sort.Ints(order)

	for _, groupID := range order {
		groupMatched := true
		for _, cond := range groups[groupID] {
			actual := readField(cond.Field, modified, working)
			ok, err := condition.Evaluate(cond.Operator, actual, cond.Value)
			if err != nil {
				return false, fmt.Errorf("condition on %q: %w", cond.Field, err)
			}
			if !ok {
				groupMatched = false
				break
			}
		}
		if groupMatched {
			return true, nil
		}
	}
	return false, nil
}

// scopeMatches applies tag semantics: no tags means universal; otherwise
// tags grouped by type are ORed within a type and ANDed across types.
func scopeMatches(tags []domain.ScopeTag, scope domain.Scope) bool {
	if len(tags) == 0 {
		return true
	}

	byType := make(map[string][]string)
	for _, tag := range tags {
		byType[tag.ScopeType] = append(byType[tag.ScopeType], tag.ScopeValue)
	}

	for scopeType, values := range byType {
		actual, known := scope.Dimension(scopeType)
		if !known {
			return false
		}
		anyMatch := false
		for _, v := range values {
			if v == actual {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			return false
		}
	}
	return true
}

// readField resolves a field for condition or action input: the shared delta
// map wins over the working context so effects chain within one evaluation.
func readField(field string, modified, working map[string]any) any {
	field = fieldpath.Normalize(field)
	if value, ok := fieldpath.Get(modified, field); ok {
		return value
	}
	value, _ := fieldpath.Get(working, field)
	return value
}
