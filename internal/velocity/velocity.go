// Package velocity counts recent submissions along fraud-relevant dimensions.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/formflow/formflow/internal/domain"
)

// Dimension is the attribute submissions are grouped by.
type Dimension string

const (
	ByIP          Dimension = "ip"
	ByFingerprint Dimension = "fingerprint"
	ByAccount     Dimension = "account"
)

// HistoryStore is the submission history the service queries.
type HistoryStore interface {
	CountSubmissionsByIP(ctx context.Context, instanceID string, ip string, since time.Time) (int, error)
	CountSubmissionsByFingerprint(ctx context.Context, instanceID string, fingerprint string, since time.Time) (int, error)
	CountSubmissionsByAccount(ctx context.Context, instanceID string, account string, statuses []domain.SubmissionStatus, since time.Time) (int, error)
}

// Service answers "how many submissions in the last window" questions.
type Service struct {
	store HistoryStore
	now   func() time.Time
}

// NewService creates a velocity service.
func NewService(store HistoryStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Count returns how many submissions share value on dim within window.
// Account counts only include completed submissions.
func (s *Service) Count(ctx context.Context, instanceID string, dim Dimension, value string, window time.Duration) (int, error) {
	if instanceID == "" || value == "" {
		return 0, fmt.Errorf("instanceID and value are required")
	}

	since := s.now().Add(-window)

	var n int
	var err error
	switch dim {
	case ByIP:
		n, err = s.store.CountSubmissionsByIP(ctx, instanceID, value, since)
	case ByFingerprint:
		n, err = s.store.CountSubmissionsByFingerprint(ctx, instanceID, value, since)
	case ByAccount:
		n, err = s.store.CountSubmissionsByAccount(ctx, instanceID, value, []domain.SubmissionStatus{domain.StatusCompleted}, since)
	default:
		return 0, fmt.Errorf("unknown velocity dimension: %s", dim)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions by %s: %w", dim, err)
	}
	return n, nil
}

// Snapshot is the IP activity summary exposed to custom rules.
type Snapshot struct {
	LastHour int
	LastDay  int
}

// IPSnapshot counts an IP's submissions over the last hour and day.
// An empty IP yields a zero snapshot.
func (s *Service) IPSnapshot(ctx context.Context, instanceID, ip string) (Snapshot, error) {
	if ip == "" {
		return Snapshot{}, nil
	}
	hour, err := s.Count(ctx, instanceID, ByIP, ip, time.Hour)
	if err != nil {
		return Snapshot{}, err
	}
	day, err := s.Count(ctx, instanceID, ByIP, ip, 24*time.Hour)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{LastHour: hour, LastDay: day}, nil
}
