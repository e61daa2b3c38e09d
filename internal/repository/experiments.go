package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/formflow/formflow/internal/domain"
)

// SaveAssignment logs a variation exposure.
func (r *SQLRepository) SaveAssignment(ctx context.Context, a *domain.Assignment) error {
	if a == nil || a.InstanceID == "" {
		return fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO ab_assignments (id, instance_id, session_id, variation_id, ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), a.InstanceID, a.SessionID, a.VariationID,
		a.IP, a.UserAgent, a.CreatedAt,
	)
	return err
}

// SaveConversion logs a goal for a session. A session converts at most once
// per goal; the boolean reports whether a new row was written.
func (r *SQLRepository) SaveConversion(ctx context.Context, c *domain.Conversion) (bool, error) {
	if c == nil || c.InstanceID == "" {
		return false, fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO ab_conversions (id, instance_id, session_id, variation_id, goal, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (instance_id, session_id, goal) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), c.InstanceID, c.SessionID, c.VariationID, c.Goal, c.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// VariationCounts returns unique-session assignment and conversion tallies
// per variation. An empty goal counts conversions for every goal.
func (r *SQLRepository) VariationCounts(ctx context.Context, instanceID string, goal string) ([]domain.VariationCounts, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}

	counts := make(map[string]*domain.VariationCounts)
	get := func(id string) *domain.VariationCounts {
		c, ok := counts[id]
		if !ok {
			c = &domain.VariationCounts{VariationID: id}
			counts[id] = c
		}
		return c
	}

	assignments := `
		SELECT variation_id, COUNT(DISTINCT session_id)
		FROM ab_assignments
		WHERE instance_id = ?
		GROUP BY variation_id
	`
	if err := r.scanCounts(ctx, assignments, []any{instanceID}, func(id string, n int) {
		get(id).Assignments = n
	}); err != nil {
		return nil, err
	}

	conversions := `
		SELECT variation_id, COUNT(DISTINCT session_id)
		FROM ab_conversions
		WHERE instance_id = ?
	`
	args := []any{instanceID}
	if goal != "" {
		conversions += ` AND goal = ?`
		args = append(args, goal)
	}
	conversions += ` GROUP BY variation_id`
	if err := r.scanCounts(ctx, conversions, args, func(id string, n int) {
		get(id).Conversions = n
	}); err != nil {
		return nil, err
	}

	out := make([]domain.VariationCounts, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariationID < out[j].VariationID })
	return out, nil
}

func (r *SQLRepository) scanCounts(ctx context.Context, query string, args []any, fn func(string, int)) error {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}
