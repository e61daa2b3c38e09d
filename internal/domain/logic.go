package domain

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
	OpIsChecked   Operator = "is_checked"
)

// Logic combines a rule's conditions.
type Logic string

const (
	LogicAll Logic = "all"
	LogicAny Logic = "any"
)

// Action is what a matching rule does to its target field.
type Action string

const (
	ActionShow       Action = "show"
	ActionHide       Action = "hide"
	ActionEnable     Action = "enable"
	ActionDisable    Action = "disable"
	ActionRequire    Action = "require"
	ActionUnrequire  Action = "unrequire"
	ActionSetValue   Action = "set_value"
	ActionClearValue Action = "clear_value"
)

// Condition tests one source field.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// Rule applies Action to TargetField when its conditions hold.
// Value is only read by set_value.
type Rule struct {
	TargetField string      `json:"target_field"`
	Conditions  []Condition `json:"conditions"`
	Logic       Logic       `json:"logic"`
	Action      Action      `json:"action"`
	Value       string      `json:"value,omitempty"`
}

// Field is one input of a form schema.
type Field struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type"`
	Step     int      `json:"step,omitempty"`
	Required bool     `json:"required,omitempty"`
	Hidden   bool     `json:"hidden,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// FormSchema is the builder document stored on an instance.
type FormSchema struct {
	Fields []Field `json:"fields"`
	Rules  []Rule  `json:"rules"`
}

// FieldState is the evaluated render state of a field.
type FieldState struct {
	Visible  bool `json:"visible"`
	Enabled  bool `json:"enabled"`
	Required bool `json:"required"`
	Value    any  `json:"value,omitempty"`
}

// FieldValues is the flat field-name to current-value bag rules evaluate against.
type FieldValues map[string]any
