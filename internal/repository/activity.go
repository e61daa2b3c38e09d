package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/formflow/formflow/internal/domain"
)

// SaveActivity records one outbound provider call.
func (r *SQLRepository) SaveActivity(ctx context.Context, l *domain.ActivityLog) error {
	if l == nil || l.InstanceID == "" {
		return fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO activity_logs (id, instance_id, provider, action, success, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		l.ID, l.InstanceID, l.Provider, l.Action, boolToInt(l.Success), l.Detail, l.CreatedAt,
	)
	return err
}

// ProviderUsage aggregates calls per provider since a time.
func (r *SQLRepository) ProviderUsage(ctx context.Context, instanceID string, since time.Time) ([]domain.ProviderUsage, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}

	query := `
		SELECT provider, COUNT(*), COALESCE(SUM(success), 0)
		FROM activity_logs
		WHERE instance_id = ? AND created_at >= ?
		GROUP BY provider
		ORDER BY provider
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), instanceID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usage []domain.ProviderUsage
	for rows.Next() {
		var u domain.ProviderUsage
		if err := rows.Scan(&u.Provider, &u.Total, &u.Succeeded); err != nil {
			return nil, err
		}
		u.Failed = u.Total - u.Succeeded
		usage = append(usage, u)
	}

	return usage, rows.Err()
}
