package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidSettings wraps every settings decoding or validation failure.
var ErrInvalidSettings = errors.New("invalid instance settings")

// FeatureName identifies one per-instance feature config.
type FeatureName string

const (
	FeatureCapacity   FeatureName = "capacity_management"
	FeatureScheduling FeatureName = "scheduling"
	FeatureFraud      FeatureName = "fraud_detection"
	FeatureABTesting  FeatureName = "ab_testing"
	FeatureSMS        FeatureName = "sms_notifications"
	FeatureTeam       FeatureName = "team_notifications"
	FeatureDigest     FeatureName = "email_digest"
)

// FeatureConfig is one variant of the per-instance settings union.
type FeatureConfig interface {
	Feature() FeatureName
	IsEnabled() bool
}

// CapacityConfig caps bookings per day and per slot.
// A cap of zero means unlimited.
type CapacityConfig struct {
	Enabled         bool           `json:"enabled"`
	DailyCap        int            `json:"daily_cap" validate:"min=0"`
	PerSlotCap      int            `json:"per_slot_cap" validate:"min=0"`
	BlackoutDates   []BlackoutDate `json:"blackout_dates,omitempty"`
	WaitlistEnabled bool           `json:"waitlist_enabled"`
}

// SchedulingConfig describes the candidate appointment calendar.
type SchedulingConfig struct {
	Enabled     bool       `json:"enabled"`
	DaysAhead   int        `json:"days_ahead" validate:"min=0,max=365"`
	MinLeadDays int        `json:"min_lead_days" validate:"min=0"`
	Weekdays    []int      `json:"weekdays,omitempty" validate:"dive,min=0,max=6"`
	TimeSlots   []TimeSlot `json:"time_slots,omitempty" validate:"dive"`
}

// FraudConfig configures the check battery.
type FraudConfig struct {
	Enabled             bool                   `json:"enabled"`
	Threshold           float64                `json:"threshold" validate:"min=0,max=100"`
	ActionOnHighRisk    FraudAction            `json:"action_on_high_risk,omitempty" validate:"omitempty,oneof=allow flag block"`
	Checks              map[FraudCheck]bool    `json:"checks,omitempty"`
	Weights             map[FraudCheck]float64 `json:"weights,omitempty"`
	IPVelocityThreshold int                    `json:"ip_velocity_threshold" validate:"min=0"`
	BlockedDomains      []string               `json:"blocked_domains,omitempty"`
	CustomRules         []CustomFraudRule      `json:"custom_rules,omitempty" validate:"dive"`
	NotifyAdmin         bool                   `json:"notify_admin"`
	AdminEmail          string                 `json:"admin_email,omitempty" validate:"omitempty,email"`
	AdminWebhookURL     string                 `json:"admin_webhook_url,omitempty" validate:"omitempty,url"`
}

// ABTestConfig enables variation assignment.
type ABTestConfig struct {
	Enabled bool   `json:"enabled"`
	TrackBy string `json:"track_by,omitempty" validate:"omitempty,oneof=session cookie persistent"`
}

// SMSConfig holds Twilio credentials and the message template.
type SMSConfig struct {
	Enabled         bool     `json:"enabled"`
	AccountSID      string   `json:"account_sid,omitempty"`
	AuthToken       string   `json:"auth_token,omitempty"`
	FromNumber      string   `json:"from_number,omitempty"`
	Template        string   `json:"template,omitempty"`
	NotifyApplicant bool     `json:"notify_applicant"`
	AdminNumbers    []string `json:"admin_numbers,omitempty"`
}

// TeamConfig posts submissions to a Slack or Teams incoming webhook.
type TeamConfig struct {
	Enabled    bool   `json:"enabled"`
	Platform   string `json:"platform" validate:"omitempty,oneof=slack teams"`
	WebhookURL string `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

// DigestConfig schedules the periodic summary email.
type DigestConfig struct {
	Enabled    bool     `json:"enabled"`
	Frequency  string   `json:"frequency" validate:"omitempty,oneof=daily weekly"`
	Hour       int      `json:"hour" validate:"min=0,max=23"`
	Weekday    int      `json:"weekday" validate:"min=0,max=6"`
	Recipients []string `json:"recipients,omitempty" validate:"dive,email"`
}

func (c *CapacityConfig) Feature() FeatureName   { return FeatureCapacity }
func (c *SchedulingConfig) Feature() FeatureName { return FeatureScheduling }
func (c *FraudConfig) Feature() FeatureName      { return FeatureFraud }
func (c *ABTestConfig) Feature() FeatureName     { return FeatureABTesting }
func (c *SMSConfig) Feature() FeatureName        { return FeatureSMS }
func (c *TeamConfig) Feature() FeatureName       { return FeatureTeam }
func (c *DigestConfig) Feature() FeatureName     { return FeatureDigest }

func (c *CapacityConfig) IsEnabled() bool   { return c != nil && c.Enabled }
func (c *SchedulingConfig) IsEnabled() bool { return c != nil && c.Enabled }
func (c *FraudConfig) IsEnabled() bool      { return c != nil && c.Enabled }
func (c *ABTestConfig) IsEnabled() bool     { return c != nil && c.Enabled }
func (c *SMSConfig) IsEnabled() bool        { return c != nil && c.Enabled }
func (c *TeamConfig) IsEnabled() bool       { return c != nil && c.Enabled }
func (c *DigestConfig) IsEnabled() bool     { return c != nil && c.Enabled }

// Fraud defaults.
const (
	DefaultFraudThreshold      = 70.0
	DefaultIPVelocityThreshold = 5
)

// CheckEnabled reports whether a check runs. Checks are on unless turned off.
func (c *FraudConfig) CheckEnabled(check FraudCheck) bool {
	if c == nil || c.Checks == nil {
		return true
	}
	on, ok := c.Checks[check]
	return !ok || on
}

// EffectiveThreshold returns the configured threshold or the default.
func (c *FraudConfig) EffectiveThreshold() float64 {
	if c == nil || c.Threshold <= 0 {
		return DefaultFraudThreshold
	}
	return c.Threshold
}

// HighRiskAction returns the configured action or flag.
func (c *FraudConfig) HighRiskAction() FraudAction {
	if c == nil || c.ActionOnHighRisk == "" {
		return FraudFlag
	}
	return c.ActionOnHighRisk
}

// VelocityThreshold returns the per-hour IP threshold or the default.
func (c *FraudConfig) VelocityThreshold() int {
	if c == nil || c.IPVelocityThreshold <= 0 {
		return DefaultIPVelocityThreshold
	}
	return c.IPVelocityThreshold
}

// TrackMode returns how assignments are persisted; session by default.
func (c *ABTestConfig) TrackMode() string {
	if c == nil || c.TrackBy == "" {
		return "session"
	}
	return c.TrackBy
}

// UsesCookie reports whether assignments also live in a long-lived cookie.
func (c *ABTestConfig) UsesCookie() bool {
	mode := c.TrackMode()
	return mode == "cookie" || mode == "persistent"
}

// Settings is the typed form of an instance's nested settings blob.
type Settings struct {
	Capacity   *CapacityConfig
	Scheduling *SchedulingConfig
	Fraud      *FraudConfig
	ABTesting  *ABTestConfig
	SMS        *SMSConfig
	Team       *TeamConfig
	Digest     *DigestConfig
}

type rawSettings struct {
	Features map[FeatureName]json.RawMessage `json:"features"`
}

var settingsValidator = validator.New()

// newFeature returns an empty config for a known name.
func newFeature(name FeatureName) (FeatureConfig, bool) {
	switch name {
	case FeatureCapacity:
		return &CapacityConfig{}, true
	case FeatureScheduling:
		return &SchedulingConfig{}, true
	case FeatureFraud:
		return &FraudConfig{}, true
	case FeatureABTesting:
		return &ABTestConfig{}, true
	case FeatureSMS:
		return &SMSConfig{}, true
	case FeatureTeam:
		return &TeamConfig{}, true
	case FeatureDigest:
		return &DigestConfig{}, true
	}
	return nil, false
}

// ParseSettings decodes and validates a settings blob.
// Unknown feature names and unknown keys inside a feature are rejected.
func ParseSettings(data []byte) (*Settings, error) {
	s := &Settings{}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}

	var raw rawSettings
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	for name, body := range raw.Features {
		cfg, ok := newFeature(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown feature %q", ErrInvalidSettings, name)
		}
		fd := json.NewDecoder(bytes.NewReader(body))
		fd.DisallowUnknownFields()
		if err := fd.Decode(cfg); err != nil {
			return nil, fmt.Errorf("%w: feature %s: %v", ErrInvalidSettings, name, err)
		}
		if err := settingsValidator.Struct(cfg); err != nil {
			return nil, fmt.Errorf("%w: feature %s: %v", ErrInvalidSettings, name, err)
		}
		s.set(cfg)
	}

	return s, nil
}

func (s *Settings) set(cfg FeatureConfig) {
	switch c := cfg.(type) {
	case *CapacityConfig:
		s.Capacity = c
	case *SchedulingConfig:
		s.Scheduling = c
	case *FraudConfig:
		s.Fraud = c
	case *ABTestConfig:
		s.ABTesting = c
	case *SMSConfig:
		s.SMS = c
	case *TeamConfig:
		s.Team = c
	case *DigestConfig:
		s.Digest = c
	}
}

// All returns the configured features sorted by name.
func (s *Settings) All() []FeatureConfig {
	var out []FeatureConfig
	for _, cfg := range []FeatureConfig{s.Capacity, s.Scheduling, s.Fraud, s.ABTesting, s.SMS, s.Team, s.Digest} {
		if !isNilFeature(cfg) {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature() < out[j].Feature() })
	return out
}

// IsEnabled reports whether the named feature is configured and on.
func (s *Settings) IsEnabled(name FeatureName) bool {
	for _, cfg := range s.All() {
		if cfg.Feature() == name {
			return cfg.IsEnabled()
		}
	}
	return false
}

// MarshalJSON writes the settings back into the nested blob form.
func (s Settings) MarshalJSON() ([]byte, error) {
	features := make(map[FeatureName]FeatureConfig)
	for _, cfg := range s.All() {
		features[cfg.Feature()] = cfg
	}
	return json.Marshal(map[string]any{"features": features})
}

// UnmarshalJSON is the strict ParseSettings path.
func (s *Settings) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSettings(data)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

func isNilFeature(cfg FeatureConfig) bool {
	switch c := cfg.(type) {
	case *CapacityConfig:
		return c == nil
	case *SchedulingConfig:
		return c == nil
	case *FraudConfig:
		return c == nil
	case *ABTestConfig:
		return c == nil
	case *SMSConfig:
		return c == nil
	case *TeamConfig:
		return c == nil
	case *DigestConfig:
		return c == nil
	}
	return cfg == nil
}
