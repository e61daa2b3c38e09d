package domain

import "time"

// Modifications are the presentation overrides a variation applies.
type Modifications struct {
	Heading    string `json:"heading,omitempty"`
	Subheading string `json:"subheading,omitempty"`
	ButtonText string `json:"button_text,omitempty"`
	CTAText    string `json:"cta_text,omitempty"`
	CSSClass   string `json:"css_class,omitempty"`
	CustomCSS  string `json:"custom_css,omitempty"`
	Layout     string `json:"layout,omitempty"`
}

// Variation is one arm of an A/B experiment.
type Variation struct {
	ID            string        `json:"id" validate:"required"`
	Name          string        `json:"name"`
	Weight        int           `json:"weight" validate:"min=0"`
	IsControl     bool          `json:"is_control"`
	Modifications Modifications `json:"modifications"`
}

// Assignment records which variation a session saw.
type Assignment struct {
	InstanceID  string    `json:"instance_id"`
	SessionID   string    `json:"session_id"`
	VariationID string    `json:"variation_id"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"user_agent"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversion records a goal reached by an assigned session.
type Conversion struct {
	InstanceID  string    `json:"instance_id"`
	SessionID   string    `json:"session_id"`
	VariationID string    `json:"variation_id"`
	Goal        string    `json:"goal"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversion goal recorded when a submission completes.
const GoalSubmission = "submission"

// VariationCounts are the raw per-variation tallies read from storage.
type VariationCounts struct {
	VariationID string
	Assignments int
	Conversions int
}

// VariationResult is the reported outcome of one arm.
type VariationResult struct {
	VariationID         string  `json:"variation_id"`
	Name                string  `json:"name"`
	IsControl           bool    `json:"is_control"`
	Assignments         int     `json:"assignments"`
	Conversions         int     `json:"conversions"`
	ConversionRate      float64 `json:"conversion_rate"`
	RelativeImprovement float64 `json:"relative_improvement"`
	IsSignificant       bool    `json:"is_significant"`
	IsWinner            bool    `json:"is_winner"`
	Confidence          float64 `json:"confidence"`
}

// ExperimentResults is the report for one instance.
type ExperimentResults struct {
	InstanceID  string            `json:"instance_id"`
	ControlID   string            `json:"control_id"`
	Variations  []VariationResult `json:"variations"`
	GeneratedAt time.Time         `json:"generated_at"`
}
