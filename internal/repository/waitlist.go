package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/formflow/formflow/internal/domain"
)

// SaveWaitlistEntry inserts a waiting entry.
func (r *SQLRepository) SaveWaitlistEntry(ctx context.Context, e *domain.WaitlistEntry) error {
	if e == nil || e.InstanceID == "" {
		return fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = domain.WaitlistWaiting
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO waitlist (
			id, instance_id, name, email, phone, preferred_date, preferred_time, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, e.InstanceID, e.Name, e.Email, e.Phone,
		e.PreferredDate, e.PreferredTime, string(e.Status), e.CreatedAt,
	)
	return err
}

// OldestWaiting returns the oldest waiting entry for a date. When timeSlot is
// set, entries preferring that slot or no particular slot match.
func (r *SQLRepository) OldestWaiting(ctx context.Context, instanceID string, date string, timeSlot string) (*domain.WaitlistEntry, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, instance_id, name, email, phone, preferred_date, preferred_time, status, created_at
		FROM waitlist
		WHERE instance_id = ? AND preferred_date = ? AND status = ?
	`
	args := []any{instanceID, date, string(domain.WaitlistWaiting)}
	if timeSlot != "" {
		query += ` AND (preferred_time = ? OR preferred_time = '')`
		args = append(args, timeSlot)
	}
	query += ` ORDER BY created_at ASC LIMIT 1`

	var e domain.WaitlistEntry
	var status string
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(
		&e.ID, &e.InstanceID, &e.Name, &e.Email, &e.Phone,
		&e.PreferredDate, &e.PreferredTime, &status, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.Status = domain.WaitlistStatus(status)
	return &e, nil
}

// MarkWaitlistNotified moves a waiting entry to notified.
func (r *SQLRepository) MarkWaitlistNotified(ctx context.Context, instanceID string, entryID string, at time.Time) error {
	if instanceID == "" {
		return fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}

	query := `
		UPDATE waitlist
		SET status = ?, notified_at = ?
		WHERE instance_id = ? AND id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(domain.WaitlistNotified), at.UTC(), instanceID, entryID, string(domain.WaitlistWaiting),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
