// Package abtest buckets visitors into form variations and reports results.
package abtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/formflow/formflow/internal/domain"
)

var (
	ErrNoVariations = errors.New("instance has no variations")
	ErrNotAssigned  = errors.New("session has no variation assignment")

	ErrInvalidVariations = errors.New("invalid variations")
)

// CookieTTL is the lifetime of the assignment cookie.
const CookieTTL = 30 * 24 * time.Hour

// SessionStore is the per-visitor server-side store.
type SessionStore interface {
	Get(sessionID, key string) (string, bool)
	Set(sessionID, key, value string)
}

// Store persists exposures and conversions.
type Store interface {
	SaveAssignment(ctx context.Context, a *domain.Assignment) error
	SaveConversion(ctx context.Context, c *domain.Conversion) (bool, error)
	VariationCounts(ctx context.Context, instanceID string, goal string) ([]domain.VariationCounts, error)
}

// Visitor identifies who is being assigned.
type Visitor struct {
	SessionID string
	Cookie    string // value of the assignment cookie, if any
	IP        string
	UserAgent string
}

// Assigner performs sticky weighted assignment.
type Assigner struct {
	sessions SessionStore
	store    Store
	intN     func(n int) int
	now      func() time.Time
	logger   *slog.Logger
}

// NewAssigner creates an Assigner.
func NewAssigner(sessions SessionStore, store Store, logger *slog.Logger) *Assigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{
		sessions: sessions,
		store:    store,
		intN:     rand.IntN,
		now:      time.Now,
		logger:   logger,
	}
}

// Pick draws a uniform integer in [1, total weight] and returns the first
// variation whose cumulative weight reaches it. Negative weights count as
// zero; when every weight is zero the first variation is returned.
func Pick(variations []domain.Variation, intN func(int) int) (domain.Variation, error) {
	if len(variations) == 0 {
		return domain.Variation{}, ErrNoVariations
	}

	total := 0
	for _, v := range variations {
		total += max(v.Weight, 0)
	}
	if total <= 0 {
		return variations[0], nil
	}

	draw := intN(total) + 1
	cumulative := 0
	for _, v := range variations {
		cumulative += max(v.Weight, 0)
		if cumulative >= draw {
			return v, nil
		}
	}
	return variations[len(variations)-1], nil
}

// ValidateVariations rejects duplicate or empty ids, more than one control
// and a zero total weight. No variations at all is valid.
func ValidateVariations(variations []domain.Variation) error {
	if len(variations) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(variations))
	controls, total := 0, 0
	for _, v := range variations {
		if v.ID == "" {
			return fmt.Errorf("%w: variation without an id", ErrInvalidVariations)
		}
		if seen[v.ID] {
			return fmt.Errorf("%w: duplicate variation %q", ErrInvalidVariations, v.ID)
		}
		seen[v.ID] = true
		if v.Weight < 0 {
			return fmt.Errorf("%w: variation %q has negative weight", ErrInvalidVariations, v.ID)
		}
		total += v.Weight
		if v.IsControl {
			controls++
		}
	}
	if controls > 1 {
		return fmt.Errorf("%w: %d variations marked as control", ErrInvalidVariations, controls)
	}
	if total == 0 {
		return fmt.Errorf("%w: weights sum to zero", ErrInvalidVariations)
	}
	return nil
}

// SessionKey is the session entry holding an instance's variation id.
func SessionKey(instanceID string) string {
	return "ab_variation_" + instanceID
}

// CookieName is the assignment cookie for an instance.
func CookieName(instanceID string) string {
	return "ff_ab_" + instanceID
}

// Cookie builds the long-lived assignment cookie.
func Cookie(instanceID, variationID string, now time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName(instanceID),
		Value:    variationID,
		Path:     "/",
		Expires:  now.Add(CookieTTL),
		MaxAge:   int(CookieTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// GetVariation returns the visitor's variation for an instance, assigning one
// on first exposure. A stored id no longer present in the instance is
// discarded and a new variation drawn. Every session newly bound to a
// variation, drawn or restored from the cookie, is logged as an assignment.
// The boolean reports a new draw.
func (a *Assigner) GetVariation(ctx context.Context, inst *domain.Instance, v Visitor) (domain.Variation, bool, error) {
	if len(inst.Variations) == 0 {
		return domain.Variation{}, false, ErrNoVariations
	}

	key := SessionKey(inst.ID)
	if id, ok := a.sessions.Get(v.SessionID, key); ok {
		if found, ok := inst.Variation(id); ok {
			return found, false, nil
		}
	}

	if inst.Settings.ABTesting.UsesCookie() && v.Cookie != "" {
		if found, ok := inst.Variation(v.Cookie); ok {
			a.sessions.Set(v.SessionID, key, found.ID)
			a.logAssignment(ctx, inst.ID, found.ID, v)
			return found, false, nil
		}
	}

	picked, err := Pick(inst.Variations, a.intN)
	if err != nil {
		return domain.Variation{}, false, err
	}
	a.sessions.Set(v.SessionID, key, picked.ID)
	a.logAssignment(ctx, inst.ID, picked.ID, v)

	return picked, true, nil
}

// logAssignment records a session newly bound to a variation. A failure is
// logged and the visitor keeps the variation.
func (a *Assigner) logAssignment(ctx context.Context, instanceID, variationID string, v Visitor) {
	err := a.store.SaveAssignment(ctx, &domain.Assignment{
		InstanceID:  instanceID,
		SessionID:   v.SessionID,
		VariationID: variationID,
		IP:          v.IP,
		UserAgent:   v.UserAgent,
		CreatedAt:   a.now().UTC(),
	})
	if err != nil {
		a.logger.Error("failed to log variation assignment",
			"instance_id", instanceID,
			"variation_id", variationID,
			"error", err,
		)
	}
}

// RecordConversion logs a goal against the session's assigned variation.
// Repeat conversions for the same goal are ignored; the boolean reports
// whether this call recorded one.
func (a *Assigner) RecordConversion(ctx context.Context, inst *domain.Instance, sessionID, goal string) (bool, error) {
	id, ok := a.sessions.Get(sessionID, SessionKey(inst.ID))
	if !ok {
		return false, ErrNotAssigned
	}
	if goal == "" {
		goal = domain.GoalSubmission
	}

	return a.store.SaveConversion(ctx, &domain.Conversion{
		InstanceID:  inst.ID,
		SessionID:   sessionID,
		VariationID: id,
		Goal:        goal,
		CreatedAt:   a.now().UTC(),
	})
}

// Assigned returns the session's variation id for an instance, if any.
func (a *Assigner) Assigned(instanceID, sessionID string) (string, bool) {
	return a.sessions.Get(sessionID, SessionKey(instanceID))
}
