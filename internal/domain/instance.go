package domain

import (
	"encoding/json"
	"time"
)

// Instance is one configured form deployment.
type Instance struct {
	ID         string      `json:"id"`
	Name       string      `json:"name" validate:"required"`
	Slug       string      `json:"slug" validate:"required"`
	Utility    string      `json:"utility,omitempty"`
	Settings   Settings    `json:"settings"`
	Schema     FormSchema  `json:"schema"`
	Variations []Variation `json:"variations,omitempty" validate:"dive"`
	Active     bool        `json:"active"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Control returns the control variation, or the first when none is flagged.
func (i *Instance) Control() (Variation, bool) {
	if len(i.Variations) == 0 {
		return Variation{}, false
	}
	for _, v := range i.Variations {
		if v.IsControl {
			return v, true
		}
	}
	return i.Variations[0], true
}

// Variation looks up a variation by id.
func (i *Instance) Variation(id string) (Variation, bool) {
	for _, v := range i.Variations {
		if v.ID == id {
			return v, true
		}
	}
	return Variation{}, false
}

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	StatusInProgress SubmissionStatus = "in_progress"
	StatusCompleted  SubmissionStatus = "completed"
	StatusCancelled  SubmissionStatus = "cancelled"
	StatusFlagged    SubmissionStatus = "flagged"
	StatusBlocked    SubmissionStatus = "blocked"
)

// CapacityStatuses are the statuses that hold a slot.
var CapacityStatuses = []SubmissionStatus{StatusCompleted, StatusInProgress}

// Submission is one enrollment attempt.
type Submission struct {
	ID            string           `json:"id"`
	InstanceID    string           `json:"instance_id"`
	SessionID     string           `json:"session_id,omitempty"`
	Status        SubmissionStatus `json:"status"`
	FormData      FieldValues      `json:"form_data"`
	AccountNumber string           `json:"account_number,omitempty"`
	Email         string           `json:"email,omitempty"`
	IP            string           `json:"ip,omitempty"`
	UserAgent     string           `json:"user_agent,omitempty"`
	Fingerprint   string           `json:"fingerprint,omitempty"`
	ScheduleDate  string           `json:"schedule_date,omitempty"`
	ScheduleTime  string           `json:"schedule_time,omitempty"`
	VariationID   string           `json:"variation_id,omitempty"`
	RiskScore     float64          `json:"risk_score"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// FormDataJSON encodes FormData for storage.
func (s *Submission) FormDataJSON() string {
	if s.FormData == nil {
		return "{}"
	}
	b, err := json.Marshal(s.FormData)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ActivityLog records one outbound provider call.
type ActivityLog struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	Provider   string    `json:"provider"`
	Action     string    `json:"action"`
	Success    bool      `json:"success"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProviderUsage aggregates activity log rows per provider.
type ProviderUsage struct {
	Provider  string `json:"provider"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// DigestSummary is the enrollment activity reported by a digest email.
type DigestSummary struct {
	InstanceID  string    `json:"instance_id"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Completed   int       `json:"completed"`
	InProgress  int       `json:"in_progress"`
	Cancelled   int       `json:"cancelled"`
	Flagged     int       `json:"flagged"`
	Blocked     int       `json:"blocked"`
	FraudAlerts int       `json:"fraud_alerts"`
}

// Total is the number of submissions created in the period.
func (d DigestSummary) Total() int {
	return d.Completed + d.InProgress + d.Cancelled + d.Flagged + d.Blocked
}
