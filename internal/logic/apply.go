package logic

import (
	"errors"
	"fmt"
	"maps"

	"github.com/formflow/formflow/internal/domain"
)

// ErrInvalidSchema is returned by ValidateSchema.
var ErrInvalidSchema = errors.New("invalid form schema")

// Apply evaluates every rule in schema order and returns the resulting state
// of each field. Toggle actions apply their inverse when the rule does not
// hold; set_value and clear_value only act when it holds. When two rules
// target the same field the later one wins. Conditions see values changed by
// earlier set_value and clear_value rules.
func Apply(schema domain.FormSchema, values domain.FieldValues) map[string]domain.FieldState {
	working := maps.Clone(values)
	if working == nil {
		working = domain.FieldValues{}
	}

	states := make(map[string]domain.FieldState, len(schema.Fields))
	for _, f := range schema.Fields {
		states[f.Name] = domain.FieldState{
			Visible:  !f.Hidden,
			Enabled:  !f.Disabled,
			Required: f.Required,
			Value:    working[f.Name],
		}
	}

	for _, rule := range schema.Rules {
		st, ok := states[rule.TargetField]
		if !ok {
			continue
		}
		matched := Evaluate(rule, working)

		switch rule.Action {
		case domain.ActionShow:
			st.Visible = matched
		case domain.ActionHide:
			st.Visible = !matched
		case domain.ActionEnable:
			st.Enabled = matched
		case domain.ActionDisable:
			st.Enabled = !matched
		case domain.ActionRequire:
			st.Required = matched
		case domain.ActionUnrequire:
			st.Required = !matched
		case domain.ActionSetValue:
			if matched {
				st.Value = rule.Value
				working[rule.TargetField] = rule.Value
			}
		case domain.ActionClearValue:
			if matched {
				st.Value = nil
				delete(working, rule.TargetField)
			}
		}
		states[rule.TargetField] = st
	}

	return states
}

// Narrow returns the values to persist at submit time: hidden fields are
// dropped and rule-set values replace submitted ones. Keys that are not
// schema fields pass through.
func Narrow(schema domain.FormSchema, values domain.FieldValues) domain.FieldValues {
	states := Apply(schema, values)

	out := make(domain.FieldValues, len(values))
	for k, v := range values {
		if _, isField := states[k]; !isField {
			out[k] = v
		}
	}
	for name, st := range states {
		if !st.Visible || st.Value == nil {
			continue
		}
		out[name] = st.Value
	}
	return out
}

// MissingRequired lists visible required fields that are empty, in schema order.
func MissingRequired(schema domain.FormSchema, values domain.FieldValues) []string {
	states := Apply(schema, values)

	var missing []string
	for _, f := range schema.Fields {
		st := states[f.Name]
		if st.Visible && st.Required && isEmpty(st.Value) {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// DeleteField removes a field and cascades: rules targeting it are dropped,
// condition rows reading it are stripped, and rules left without any
// condition are dropped.
func DeleteField(schema domain.FormSchema, name string) domain.FormSchema {
	out := domain.FormSchema{
		Fields: make([]domain.Field, 0, len(schema.Fields)),
		Rules:  make([]domain.Rule, 0, len(schema.Rules)),
	}

	for _, f := range schema.Fields {
		if f.Name != name {
			out.Fields = append(out.Fields, f)
		}
	}

	for _, r := range schema.Rules {
		if r.TargetField == name {
			continue
		}
		kept := make([]domain.Condition, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			if c.Field != name {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 && len(r.Conditions) > 0 {
			continue
		}
		r.Conditions = kept
		out.Rules = append(out.Rules, r)
	}

	return out
}

var (
	validOperators = map[domain.Operator]bool{
		domain.OpEquals: true, domain.OpNotEquals: true,
		domain.OpContains: true, domain.OpNotContains: true,
		domain.OpStartsWith: true, domain.OpEndsWith: true,
		domain.OpGreaterThan: true, domain.OpLessThan: true,
		domain.OpIsEmpty: true, domain.OpIsNotEmpty: true,
		domain.OpIsChecked: true,
	}
	validActions = map[domain.Action]bool{
		domain.ActionShow: true, domain.ActionHide: true,
		domain.ActionEnable: true, domain.ActionDisable: true,
		domain.ActionRequire: true, domain.ActionUnrequire: true,
		domain.ActionSetValue: true, domain.ActionClearValue: true,
	}
)

// ValidateSchema rejects duplicate field names and rules with an unknown
// target, logic, action or operator.
func ValidateSchema(schema domain.FormSchema) error {
	fields := make(map[string]bool, len(schema.Fields))
	for _, f := range schema.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field without a name", ErrInvalidSchema)
		}
		if fields[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		fields[f.Name] = true
	}

	for i, r := range schema.Rules {
		if !fields[r.TargetField] {
			return fmt.Errorf("%w: rule %d targets unknown field %q", ErrInvalidSchema, i, r.TargetField)
		}
		if r.Logic != domain.LogicAll && r.Logic != domain.LogicAny {
			return fmt.Errorf("%w: rule %d has logic %q", ErrInvalidSchema, i, r.Logic)
		}
		if !validActions[r.Action] {
			return fmt.Errorf("%w: rule %d has action %q", ErrInvalidSchema, i, r.Action)
		}
		for _, c := range r.Conditions {
			if !validOperators[c.Operator] {
				return fmt.Errorf("%w: rule %d has operator %q", ErrInvalidSchema, i, c.Operator)
			}
		}
	}
	return nil
}
