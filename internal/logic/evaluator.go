// Package logic evaluates conditional field rules of a form schema.
package logic

import (
	"strings"

	"github.com/formflow/formflow/internal/domain"
)

// Evaluate reports whether a rule's conditions hold for values.
// With no conditions, "all" holds and "any" does not.
func Evaluate(rule domain.Rule, values domain.FieldValues) bool {
	if rule.Logic == domain.LogicAny {
		for _, c := range rule.Conditions {
			if Match(c, lookup(rule, c, values)) {
				return true
			}
		}
		return false
	}

	for _, c := range rule.Conditions {
		if !Match(c, lookup(rule, c, values)) {
			return false
		}
	}
	return true
}

// lookup returns the source value of a condition. A condition on the rule's
// own target or on an absent field sees nil.
func lookup(rule domain.Rule, c domain.Condition, values domain.FieldValues) any {
	if c.Field == rule.TargetField {
		return nil
	}
	return values[c.Field]
}

// Match applies one condition's operator to a field value.
// Unknown operators never match.
func Match(c domain.Condition, value any) bool {
	switch c.Operator {
	case domain.OpEquals:
		return toString(value) == c.Value
	case domain.OpNotEquals:
		return toString(value) != c.Value
	case domain.OpContains:
		return strings.Contains(toString(value), c.Value)
	case domain.OpNotContains:
		return !strings.Contains(toString(value), c.Value)
	case domain.OpStartsWith:
		return strings.HasPrefix(toString(value), c.Value)
	case domain.OpEndsWith:
		return strings.HasSuffix(toString(value), c.Value)
	case domain.OpGreaterThan:
		return toFloat(value) > toFloat(c.Value)
	case domain.OpLessThan:
		return toFloat(value) < toFloat(c.Value)
	case domain.OpIsEmpty:
		return isEmpty(value)
	case domain.OpIsNotEmpty:
		return !isEmpty(value)
	case domain.OpIsChecked:
		return isChecked(value)
	default:
		return false
	}
}
