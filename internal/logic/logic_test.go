package logic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formflow/formflow/internal/domain"
)

func cond(field string, op domain.Operator, value string) domain.Condition {
	return domain.Condition{Field: field, Operator: op, Value: value}
}

func TestEvaluateAllAny(t *testing.T) {
	rule := domain.Rule{
		TargetField: "county",
		Logic:       domain.LogicAll,
		Action:      domain.ActionShow,
		Conditions: []domain.Condition{
			cond("state", domain.OpEquals, "DE"),
			cond("age", domain.OpGreaterThan, "17"),
		},
	}

	assert.True(t, Evaluate(rule, domain.FieldValues{"state": "DE", "age": "21"}))
	assert.False(t, Evaluate(rule, domain.FieldValues{"state": "DE", "age": "15"}))

	rule.Logic = domain.LogicAny
	assert.True(t, Evaluate(rule, domain.FieldValues{"state": "DE", "age": "15"}))
	assert.False(t, Evaluate(rule, domain.FieldValues{"state": "MD", "age": "15"}))
}

func TestEvaluateNoConditions(t *testing.T) {
	assert.True(t, Evaluate(domain.Rule{Logic: domain.LogicAll}, nil))
	assert.False(t, Evaluate(domain.Rule{Logic: domain.LogicAny}, nil))
}

func TestMatchOperators(t *testing.T) {
	tests := []struct {
		name  string
		cond  domain.Condition
		value any
		want  bool
	}{
		{"equals is case sensitive", cond("f", domain.OpEquals, "de"), "DE", false},
		{"equals", cond("f", domain.OpEquals, "DE"), "DE", true},
		{"equals number", cond("f", domain.OpEquals, "3"), float64(3), true},
		{"not equals", cond("f", domain.OpNotEquals, "DE"), "MD", true},
		{"contains", cond("f", domain.OpContains, "heat"), "heat pump", true},
		{"contains list", cond("f", domain.OpContains, "ac"), []any{"heat", "ac"}, true},
		{"not contains", cond("f", domain.OpNotContains, "gas"), "electric", true},
		{"starts with", cond("f", domain.OpStartsWith, "19"), "19701", true},
		{"ends with", cond("f", domain.OpEndsWith, ".org"), "a@b.com", false},
		{"greater than", cond("f", domain.OpGreaterThan, "17"), "21", true},
		{"greater than numeric prefix", cond("f", domain.OpGreaterThan, "17"), "21 years", true},
		{"non-numeric is zero", cond("f", domain.OpGreaterThan, "-1"), "abc", true},
		{"less than", cond("f", domain.OpLessThan, "100"), 99.5, true},
		{"less than nil", cond("f", domain.OpLessThan, "1"), nil, true},
		{"is empty nil", cond("f", domain.OpIsEmpty, ""), nil, true},
		{"is empty zero string", cond("f", domain.OpIsEmpty, ""), "0", true},
		{"is empty false", cond("f", domain.OpIsEmpty, ""), false, true},
		{"is empty list", cond("f", domain.OpIsEmpty, ""), []any{}, true},
		{"is not empty", cond("f", domain.OpIsNotEmpty, ""), "x", true},
		{"is not empty nil", cond("f", domain.OpIsNotEmpty, ""), nil, false},
		{"is checked on", cond("f", domain.OpIsChecked, ""), "on", true},
		{"is checked bool", cond("f", domain.OpIsChecked, ""), true, true},
		{"is checked list", cond("f", domain.OpIsChecked, ""), []any{"a"}, true},
		{"is checked empty", cond("f", domain.OpIsChecked, ""), "", false},
		{"unknown operator", cond("f", "matches", "x"), "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.cond, tt.value))
		})
	}
}

func TestSelfReferenceIsNotPresent(t *testing.T) {
	rule := domain.Rule{
		TargetField: "email",
		Logic:       domain.LogicAll,
		Action:      domain.ActionRequire,
		Conditions:  []domain.Condition{cond("email", domain.OpIsEmpty, "")},
	}
	assert.True(t, Evaluate(rule, domain.FieldValues{"email": "a@b.com"}))

	rule.Conditions = []domain.Condition{cond("email", domain.OpIsNotEmpty, "")}
	assert.False(t, Evaluate(rule, domain.FieldValues{"email": "a@b.com"}))
}

func testSchema() domain.FormSchema {
	return domain.FormSchema{
		Fields: []domain.Field{
			{Name: "state", Type: "select"},
			{Name: "county", Type: "select", Required: true},
			{Name: "program", Type: "text"},
			{Name: "owner", Type: "checkbox"},
			{Name: "landlord_name", Type: "text", Hidden: true},
		},
		Rules: []domain.Rule{
			{TargetField: "county", Logic: domain.LogicAll, Action: domain.ActionShow,
				Conditions: []domain.Condition{cond("state", domain.OpEquals, "DE")}},
			{TargetField: "program", Logic: domain.LogicAll, Action: domain.ActionSetValue, Value: "residential",
				Conditions: []domain.Condition{cond("state", domain.OpIsNotEmpty, "")}},
			{TargetField: "landlord_name", Logic: domain.LogicAll, Action: domain.ActionHide,
				Conditions: []domain.Condition{cond("owner", domain.OpIsChecked, "")}},
		},
	}
}

func TestApply(t *testing.T) {
	schema := testSchema()

	states := Apply(schema, domain.FieldValues{"state": "DE", "owner": "1"})
	assert.True(t, states["county"].Visible)
	assert.Equal(t, "residential", states["program"].Value)
	assert.False(t, states["landlord_name"].Visible)

	states = Apply(schema, domain.FieldValues{"state": "MD"})
	assert.False(t, states["county"].Visible, "show rule hides when unmatched")
	assert.True(t, states["landlord_name"].Visible, "hide rule shows when unmatched")

	states = Apply(schema, nil)
	assert.Nil(t, states["program"].Value, "set_value is a no-op when unmatched")
}

func TestApplyLastRuleWins(t *testing.T) {
	schema := domain.FormSchema{
		Fields: []domain.Field{{Name: "a"}, {Name: "b"}},
		Rules: []domain.Rule{
			{TargetField: "b", Logic: domain.LogicAll, Action: domain.ActionShow,
				Conditions: []domain.Condition{cond("a", domain.OpEquals, "x")}},
			{TargetField: "b", Logic: domain.LogicAll, Action: domain.ActionHide,
				Conditions: []domain.Condition{cond("a", domain.OpEquals, "x")}},
		},
	}

	assert.False(t, Apply(schema, domain.FieldValues{"a": "x"})["b"].Visible)
}

func TestApplyClearValueChains(t *testing.T) {
	schema := domain.FormSchema{
		Fields: []domain.Field{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		Rules: []domain.Rule{
			{TargetField: "a", Logic: domain.LogicAll, Action: domain.ActionClearValue,
				Conditions: []domain.Condition{cond("b", domain.OpEquals, "reset")}},
			{TargetField: "c", Logic: domain.LogicAll, Action: domain.ActionShow,
				Conditions: []domain.Condition{cond("a", domain.OpIsNotEmpty, "")}},
		},
	}

	states := Apply(schema, domain.FieldValues{"a": "v", "b": "reset"})
	assert.Nil(t, states["a"].Value)
	assert.False(t, states["c"].Visible)
}

func TestNarrow(t *testing.T) {
	values := domain.FieldValues{
		"state":         "MD",
		"county":        "Kent",
		"landlord_name": "Bob",
		"session_token": "abc",
	}

	got := Narrow(testSchema(), values)
	assert.NotContains(t, got, "county")
	assert.Equal(t, "Bob", got["landlord_name"])
	assert.Equal(t, "residential", got["program"])
	assert.Equal(t, "abc", got["session_token"])
}

func TestMissingRequired(t *testing.T) {
	schema := testSchema()
	assert.Equal(t, []string{"county"}, MissingRequired(schema, domain.FieldValues{"state": "DE"}))
	assert.Empty(t, MissingRequired(schema, domain.FieldValues{"state": "MD"}), "hidden required fields are not enforced")
}

func TestDeleteFieldCascade(t *testing.T) {
	schema := domain.FormSchema{
		Fields: []domain.Field{{Name: "state"}, {Name: "county"}, {Name: "zip"}},
		Rules: []domain.Rule{
			{TargetField: "county", Logic: domain.LogicAll, Action: domain.ActionShow,
				Conditions: []domain.Condition{cond("state", domain.OpEquals, "DE")}},
			{TargetField: "zip", Logic: domain.LogicAny, Action: domain.ActionRequire,
				Conditions: []domain.Condition{cond("state", domain.OpIsNotEmpty, ""), cond("county", domain.OpIsNotEmpty, "")}},
			{TargetField: "zip", Logic: domain.LogicAll, Action: domain.ActionShow,
				Conditions: []domain.Condition{cond("state", domain.OpEquals, "MD")}},
		},
	}

	got := DeleteField(schema, "state")
	require.Len(t, got.Fields, 2)
	require.Len(t, got.Rules, 1, "rules targeting or left empty by the deleted field are dropped")
	assert.Equal(t, "zip", got.Rules[0].TargetField)
	assert.Equal(t, []domain.Condition{cond("county", domain.OpIsNotEmpty, "")}, got.Rules[0].Conditions)

	assert.Len(t, schema.Rules, 3, "input schema is not mutated")
}

func TestDeletedFieldEvaluatesAsAbsent(t *testing.T) {
	rule := domain.Rule{TargetField: "x", Logic: domain.LogicAll, Action: domain.ActionShow,
		Conditions: []domain.Condition{cond("gone", domain.OpIsEmpty, "")}}
	assert.True(t, Evaluate(rule, domain.FieldValues{}))
}

func TestRuleJSONRoundTrip(t *testing.T) {
	rule := domain.Rule{
		TargetField: "county",
		Logic:       domain.LogicAny,
		Action:      domain.ActionShow,
		Conditions: []domain.Condition{
			cond("state", domain.OpEquals, "DE"),
			cond("age", domain.OpGreaterThan, "17"),
		},
	}

	data, err := json.Marshal(rule)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"target_field":"county"`)

	var reloaded domain.Rule
	require.NoError(t, json.Unmarshal(data, &reloaded))

	for _, values := range []domain.FieldValues{
		{"state": "DE", "age": "15"},
		{"state": "MD", "age": "30"},
		{"state": "MD", "age": "10"},
		{},
	} {
		assert.Equal(t, Evaluate(rule, values), Evaluate(reloaded, values))
	}
}

func TestValidateSchema(t *testing.T) {
	require.NoError(t, ValidateSchema(testSchema()))

	bad := testSchema()
	bad.Rules[0].Conditions[0].Operator = "like"
	assert.ErrorIs(t, ValidateSchema(bad), ErrInvalidSchema)

	bad = testSchema()
	bad.Rules[0].TargetField = "nope"
	assert.ErrorIs(t, ValidateSchema(bad), ErrInvalidSchema)

	bad = testSchema()
	bad.Fields = append(bad.Fields, domain.Field{Name: "state"})
	assert.ErrorIs(t, ValidateSchema(bad), ErrInvalidSchema)
}
