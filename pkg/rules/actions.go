package rules

import (
	"fmt"
	"sort"

	"github.com/rately/ratecore/pkg/condition"
	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/fieldpath"
)

// applyActions executes a rule's actions in sortOrder against the staged
// delta. Reject is represented as data so callers decide how to surface it.
func applyActions(actions []domain.RuleAction, staged, working map[string]any) error {
	ordered := make([]domain.RuleAction, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SortOrder < ordered[j].SortOrder
	})

	for _, action := range ordered {
		if err := applyAction(action, staged, working); err != nil {
			return fmt.Errorf("action %s on %q: %w", action.ActionType, action.TargetField, err)
		}
	}
	return nil
}

func applyAction(action domain.RuleAction, staged, working map[string]any) error {
	target := fieldpath.Normalize(action.TargetField)

	switch action.ActionType {
	case domain.ActionSet:
		fieldpath.Set(staged, target, action.Value)
		return nil

	case domain.ActionReject:
		fieldpath.Set(staged, domain.RejectedField, true)
		fieldpath.Set(staged, domain.RejectReasonField, condition.Stringify(action.Value))
		return nil

	case domain.ActionAdd, domain.ActionSubtract, domain.ActionMultiply, domain.ActionDivide,
		domain.ActionSurcharge, domain.ActionDiscount:
		current, err := numericField(target, staged, working)
		if err != nil {
			return err
		}
		operand, ok := condition.ToNumber(action.Value)
		if !ok {
			return fmt.Errorf("action value %v is not numeric", action.Value)
		}
		result, err := arithmetic(action.ActionType, current, operand)
		if err != nil {
			return err
		}
		fieldpath.Set(staged, target, result)
		return nil

	default:
		return fmt.Errorf("unknown action type %q", action.ActionType)
	}
}

// numericField reads the action target as a number; a missing field starts
// from zero so additive actions work on untouched fields.
func numericField(target string, staged, working map[string]any) (float64, error) {
	value := readField(target, staged, working)
	if value == nil {
		return 0, nil
	}
	number, ok := condition.ToNumber(value)
	if !ok {
		return 0, fmt.Errorf("field value %v is not numeric", value)
	}
	return number, nil
}

func arithmetic(actionType string, current, operand float64) (float64, error) {
	switch actionType {
	case domain.ActionAdd:
		return current + operand, nil
	case domain.ActionSubtract:
		return current - operand, nil
	case domain.ActionMultiply:
		return current * operand, nil
	case domain.ActionDivide:
		if operand == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return current / operand, nil
	case domain.ActionSurcharge:
		// The action value is a rate: 0.1 surcharges by 10%.
		return current * (1 + operand), nil
	case domain.ActionDiscount:
		return current * (1 - operand), nil
	}
	return 0, fmt.Errorf("unknown arithmetic action %q", actionType)
}
