package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the storage and wire format of schedule dates.
const DateLayout = "2006-01-02"

// BlackoutDate is either a single date or an inclusive range.
// On the wire a single date is a bare string; a range is {start,end,reason}.
type BlackoutDate struct {
	Start  string `json:"start"`
	End    string `json:"end,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// IsRange reports whether the entry spans more than its start date.
func (b BlackoutDate) IsRange() bool {
	return b.End != "" && b.End != b.Start
}

// UnmarshalJSON accepts both "2024-07-04" and {"start":..,"end":..}.
func (b *BlackoutDate) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*b = BlackoutDate{Start: single}
		return nil
	}

	type alias BlackoutDate
	var r alias
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("blackout date must be a date string or {start,end}: %w", err)
	}
	*b = BlackoutDate(r)
	return nil
}

// MarshalJSON writes single dates back as bare strings.
func (b BlackoutDate) MarshalJSON() ([]byte, error) {
	if !b.IsRange() && b.Reason == "" {
		return json.Marshal(b.Start)
	}
	type alias BlackoutDate
	return json.Marshal(alias(b))
}

// TimeSlot is one bookable time code within a day, e.g. "AM".
type TimeSlot struct {
	Code  string `json:"code" validate:"required"`
	Label string `json:"label,omitempty"`
}

// DaySlots is a candidate day with its inner time slots.
type DaySlots struct {
	Date  string     `json:"date"`
	Times []TimeSlot `json:"times"`
}

// WaitlistStatus is the lifecycle of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = "waiting"
	WaitlistNotified WaitlistStatus = "notified"
	WaitlistRemoved  WaitlistStatus = "removed"
)

// WaitlistEntry captures contact info against a date/time preference.
type WaitlistEntry struct {
	ID            string         `json:"id"`
	InstanceID    string         `json:"instance_id"`
	Name          string         `json:"name"`
	Email         string         `json:"email" validate:"required,email"`
	Phone         string         `json:"phone,omitempty"`
	PreferredDate string         `json:"preferred_date" validate:"required,datetime=2006-01-02"`
	PreferredTime string         `json:"preferred_time,omitempty"`
	Status        WaitlistStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	NotifiedAt    *time.Time     `json:"notified_at,omitempty"`
}
