// Package capacity decides which appointment slots an instance can still offer.
//
// Counts are read and compared without a transaction: two visitors can both
// pass IsSlotAvailable for the last seat in a slot.
package capacity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/formflow/formflow/internal/domain"
)

// Store is the appointment-count query the filter depends on.
type Store interface {
	CountScheduled(ctx context.Context, instanceID string, date string, timeSlot string, statuses []domain.SubmissionStatus) (int, error)
}

// Default calendar used when scheduling is not configured.
var DefaultTimeSlots = []domain.TimeSlot{
	{Code: "AM", Label: "Morning"},
	{Code: "PM", Label: "Afternoon"},
}

const defaultDaysAhead = 30

// Filter applies blackout dates and caps.
type Filter struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewFilter creates a capacity filter.
func NewFilter(store Store, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{store: store, logger: logger, now: time.Now}
}

// IsBlackoutDate reports whether date matches a single blackout entry or
// falls inside an inclusive range. Malformed dates never match.
func IsBlackoutDate(cfg *domain.CapacityConfig, date string) bool {
	if cfg == nil {
		return false
	}
	d, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return false
	}

	for _, b := range cfg.BlackoutDates {
		start, err := time.Parse(domain.DateLayout, b.Start)
		if err != nil {
			continue
		}
		if !b.IsRange() {
			if d.Equal(start) {
				return true
			}
			continue
		}
		end, err := time.Parse(domain.DateLayout, b.End)
		if err != nil {
			continue
		}
		if !d.Before(start) && !d.After(end) {
			return true
		}
	}
	return false
}

// IsSlotAvailable reports whether (date, timeSlot) can take another booking.
// Instances without capacity management have no limits.
func (f *Filter) IsSlotAvailable(ctx context.Context, inst *domain.Instance, date, timeSlot string) (bool, error) {
	cfg := inst.Settings.Capacity
	if !cfg.IsEnabled() {
		return true, nil
	}
	ok, err := f.dayAvailable(ctx, inst.ID, cfg, date)
	if err != nil || !ok {
		return false, err
	}
	if timeSlot == "" {
		return true, nil
	}
	return f.slotAvailable(ctx, inst.ID, cfg, date, timeSlot)
}

// FilterAvailableSlots drops blacked-out and full days, then full time
// slots, then days left with no time slots.
func (f *Filter) FilterAvailableSlots(ctx context.Context, inst *domain.Instance, days []domain.DaySlots) ([]domain.DaySlots, error) {
	cfg := inst.Settings.Capacity
	if !cfg.IsEnabled() {
		return lo.Filter(days, func(d domain.DaySlots, _ int) bool { return len(d.Times) > 0 }), nil
	}

	out := make([]domain.DaySlots, 0, len(days))
	for _, day := range days {
		ok, err := f.dayAvailable(ctx, inst.ID, cfg, day.Date)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		var slotErr error
		times := lo.Filter(day.Times, func(ts domain.TimeSlot, _ int) bool {
			if slotErr != nil {
				return false
			}
			avail, err := f.slotAvailable(ctx, inst.ID, cfg, day.Date, ts.Code)
			if err != nil {
				slotErr = err
				return false
			}
			return avail
		})
		if slotErr != nil {
			return nil, slotErr
		}
		if len(times) == 0 {
			continue
		}
		out = append(out, domain.DaySlots{Date: day.Date, Times: times})
	}
	return out, nil
}

// AvailableSlots generates the instance's calendar and filters it.
func (f *Filter) AvailableSlots(ctx context.Context, inst *domain.Instance) ([]domain.DaySlots, error) {
	return f.FilterAvailableSlots(ctx, inst, GenerateSlots(inst.Settings.Scheduling, f.now()))
}

func (f *Filter) dayAvailable(ctx context.Context, instanceID string, cfg *domain.CapacityConfig, date string) (bool, error) {
	if IsBlackoutDate(cfg, date) {
		return false, nil
	}
	if cfg.DailyCap <= 0 {
		return true, nil
	}
	n, err := f.store.CountScheduled(ctx, instanceID, date, "", domain.CapacityStatuses)
	if err != nil {
		return false, fmt.Errorf("failed to count bookings for %s: %w", date, err)
	}
	return n < cfg.DailyCap, nil
}

func (f *Filter) slotAvailable(ctx context.Context, instanceID string, cfg *domain.CapacityConfig, date, timeSlot string) (bool, error) {
	if cfg.PerSlotCap <= 0 {
		return true, nil
	}
	n, err := f.store.CountScheduled(ctx, instanceID, date, timeSlot, domain.CapacityStatuses)
	if err != nil {
		return false, fmt.Errorf("failed to count bookings for %s %s: %w", date, timeSlot, err)
	}
	return n < cfg.PerSlotCap, nil
}

// GenerateSlots lists candidate days from now+MinLeadDays through
// now+DaysAhead on the allowed weekdays. A nil config offers the next 30
// weekdays with the default time slots.
func GenerateSlots(cfg *domain.SchedulingConfig, now time.Time) []domain.DaySlots {
	daysAhead := defaultDaysAhead
	minLead := 0
	weekdays := []int{1, 2, 3, 4, 5}
	slots := DefaultTimeSlots

	if cfg.IsEnabled() {
		if cfg.DaysAhead > 0 {
			daysAhead = cfg.DaysAhead
		}
		minLead = cfg.MinLeadDays
		if len(cfg.Weekdays) > 0 {
			weekdays = cfg.Weekdays
		}
		if len(cfg.TimeSlots) > 0 {
			slots = cfg.TimeSlots
		}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var out []domain.DaySlots
	for i := minLead; i <= daysAhead; i++ {
		d := today.AddDate(0, 0, i)
		if !lo.Contains(weekdays, int(d.Weekday())) {
			continue
		}
		out = append(out, domain.DaySlots{
			Date:  d.Format(domain.DateLayout),
			Times: append([]domain.TimeSlot(nil), slots...),
		})
	}
	return out
}
