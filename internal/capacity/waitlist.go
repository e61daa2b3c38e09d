package capacity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/repository"
)

// ErrWaitlistDisabled is returned when the instance does not take waitlist entries.
var ErrWaitlistDisabled = errors.New("waitlist is not enabled for this instance")

// WaitlistStore persists waitlist entries.
type WaitlistStore interface {
	SaveWaitlistEntry(ctx context.Context, e *domain.WaitlistEntry) error
	OldestWaiting(ctx context.Context, instanceID string, date string, timeSlot string) (*domain.WaitlistEntry, error)
	MarkWaitlistNotified(ctx context.Context, instanceID string, entryID string, at time.Time) error
}

// Mailer tells a waitlisted visitor that a slot opened.
type Mailer interface {
	SendWaitlistOpening(ctx context.Context, inst *domain.Instance, entry *domain.WaitlistEntry) error
}

// Waitlist captures visitors for full slots and notifies them first-come
// first-served. Notifying does not reserve the slot.
type Waitlist struct {
	store    WaitlistStore
	mailer   Mailer
	bus      domain.EventBus
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewWaitlist creates a waitlist. bus may be nil.
func NewWaitlist(store WaitlistStore, mailer Mailer, bus domain.EventBus, logger *slog.Logger) *Waitlist {
	if logger == nil {
		logger = slog.Default()
	}
	return &Waitlist{
		store:    store,
		mailer:   mailer,
		bus:      bus,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Join records a visitor's contact info against a date and optional time.
func (w *Waitlist) Join(ctx context.Context, inst *domain.Instance, entry domain.WaitlistEntry) (*domain.WaitlistEntry, error) {
	cfg := inst.Settings.Capacity
	if !cfg.IsEnabled() || !cfg.WaitlistEnabled {
		return nil, ErrWaitlistDisabled
	}

	entry.Email = strings.TrimSpace(entry.Email)
	if err := w.validate.Struct(entry); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}

	entry.ID = uuid.New().String()
	entry.InstanceID = inst.ID
	entry.Status = domain.WaitlistWaiting
	entry.CreatedAt = w.now().UTC()
	entry.NotifiedAt = nil

	if err := w.store.SaveWaitlistEntry(ctx, &entry); err != nil {
		return nil, fmt.Errorf("failed to save waitlist entry: %w", err)
	}

	w.logger.Info("waitlist entry added",
		"instance_id", inst.ID,
		"entry_id", entry.ID,
		"date", entry.PreferredDate,
		"time", entry.PreferredTime,
	)
	return &entry, nil
}

// NotifyNext emails the oldest waiting entry for (date, timeSlot) and marks
// it notified. It returns nil when nobody is waiting.
func (w *Waitlist) NotifyNext(ctx context.Context, inst *domain.Instance, date, timeSlot string) (*domain.WaitlistEntry, error) {
	entry, err := w.store.OldestWaiting(ctx, inst.ID, date, timeSlot)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load waitlist: %w", err)
	}

	if err := w.mailer.SendWaitlistOpening(ctx, inst, entry); err != nil {
		return nil, fmt.Errorf("failed to notify waitlist entry %s: %w", entry.ID, err)
	}

	at := w.now().UTC()
	if err := w.store.MarkWaitlistNotified(ctx, inst.ID, entry.ID, at); err != nil {
		return nil, fmt.Errorf("failed to mark waitlist entry %s notified: %w", entry.ID, err)
	}
	entry.Status = domain.WaitlistNotified
	entry.NotifiedAt = &at

	w.logger.Info("waitlist entry notified", "instance_id", inst.ID, "entry_id", entry.ID, "date", date)
	return entry, nil
}

// Release announces that a booked slot was freed. Instances without a
// waitlist publish nothing.
func (w *Waitlist) Release(ctx context.Context, inst *domain.Instance, sub *domain.Submission) error {
	cfg := inst.Settings.Capacity
	if w.bus == nil || !cfg.IsEnabled() || !cfg.WaitlistEnabled || sub.ScheduleDate == "" {
		return nil
	}
	payload, err := json.Marshal(domain.SlotFreedEvent{
		InstanceID: inst.ID,
		Date:       sub.ScheduleDate,
		Time:       sub.ScheduleTime,
	})
	if err != nil {
		return err
	}
	return w.bus.Publish(ctx, inst.ID, domain.TopicSlotFreed, payload)
}
