package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/formflow/formflow/internal/domain"
)

// SaveSubmission inserts a submission.
func (r *SQLRepository) SaveSubmission(ctx context.Context, sub *domain.Submission) error {
	if sub == nil || sub.InstanceID == "" || sub.ID == "" {
		return fmt.Errorf("%w: submission id and instanceID are required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	query := `
		INSERT INTO submissions (
			id, instance_id, session_id, status, form_data, account_number, email,
			ip, user_agent, fingerprint, schedule_date, schedule_time,
			variation_id, risk_score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		sub.ID, sub.InstanceID, sub.SessionID, string(sub.Status), sub.FormDataJSON(),
		sub.AccountNumber, sub.Email, sub.IP, sub.UserAgent, sub.Fingerprint,
		sub.ScheduleDate, sub.ScheduleTime, sub.VariationID, sub.RiskScore,
		sub.CreatedAt, sub.UpdatedAt,
	)
	return err
}

// GetSubmission retrieves a submission scoped to its instance.
func (r *SQLRepository) GetSubmission(ctx context.Context, instanceID string, submissionID string) (*domain.Submission, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, instance_id, session_id, status, form_data, account_number, email,
			   ip, user_agent, fingerprint, schedule_date, schedule_time,
			   variation_id, risk_score, created_at, updated_at
		FROM submissions
		WHERE instance_id = ? AND id = ?
	`

	var sub domain.Submission
	var status, formData string

	err := r.db.QueryRowContext(ctx, r.rebind(query), instanceID, submissionID).Scan(
		&sub.ID, &sub.InstanceID, &sub.SessionID, &status, &formData,
		&sub.AccountNumber, &sub.Email, &sub.IP, &sub.UserAgent, &sub.Fingerprint,
		&sub.ScheduleDate, &sub.ScheduleTime, &sub.VariationID, &sub.RiskScore,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sub.Status = domain.SubmissionStatus(status)
	if formData != "" {
		if err := json.Unmarshal([]byte(formData), &sub.FormData); err != nil {
			return nil, fmt.Errorf("failed to parse form data for %s: %w", sub.ID, err)
		}
	}

	return &sub, nil
}

// UpdateSubmissionStatus moves a submission to a new status.
func (r *SQLRepository) UpdateSubmissionStatus(ctx context.Context, instanceID string, submissionID string, status domain.SubmissionStatus) error {
	if instanceID == "" {
		return fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}

	query := `
		UPDATE submissions
		SET status = ?, updated_at = ?
		WHERE instance_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), string(status), time.Now().UTC(), instanceID, submissionID)
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

// CountSubmissionsByAccount counts submissions for an account number since a time.
// An empty statuses list counts every status.
func (r *SQLRepository) CountSubmissionsByAccount(ctx context.Context, instanceID string, account string, statuses []domain.SubmissionStatus, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM submissions WHERE instance_id = ? AND account_number = ? AND created_at >= ?`
	args := []any{instanceID, account, since.UTC()}
	if len(statuses) > 0 {
		query += ` AND status IN (` + inClause(len(statuses)) + `)`
		args = append(args, statusArgs(statuses)...)
	}
	return r.count(ctx, instanceID, query, args...)
}

// CountSubmissionsByIP counts submissions from an IP since a time.
func (r *SQLRepository) CountSubmissionsByIP(ctx context.Context, instanceID string, ip string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM submissions WHERE instance_id = ? AND ip = ? AND created_at >= ?`
	return r.count(ctx, instanceID, query, instanceID, ip, since.UTC())
}

// CountSubmissionsByFingerprint counts submissions carrying a device fingerprint since a time.
func (r *SQLRepository) CountSubmissionsByFingerprint(ctx context.Context, instanceID string, fingerprint string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM submissions WHERE instance_id = ? AND fingerprint = ? AND created_at >= ?`
	return r.count(ctx, instanceID, query, instanceID, fingerprint, since.UTC())
}

// CountScheduled counts submissions booked on a date, and on a time slot
// when timeSlot is non-empty, restricted to the given statuses.
func (r *SQLRepository) CountScheduled(ctx context.Context, instanceID string, date string, timeSlot string, statuses []domain.SubmissionStatus) (int, error) {
	query := `SELECT COUNT(*) FROM submissions WHERE instance_id = ? AND schedule_date = ?`
	args := []any{instanceID, date}
	if timeSlot != "" {
		query += ` AND schedule_time = ?`
		args = append(args, timeSlot)
	}
	if len(statuses) > 0 {
		query += ` AND status IN (` + inClause(len(statuses)) + `)`
		args = append(args, statusArgs(statuses)...)
	}
	return r.count(ctx, instanceID, query, args...)
}

// SummarizeSubmissions tallies submissions by status created in [from, to).
func (r *SQLRepository) SummarizeSubmissions(ctx context.Context, instanceID string, from, to time.Time) (*domain.DigestSummary, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}

	summary := &domain.DigestSummary{InstanceID: instanceID, From: from, To: to}

	query := `
		SELECT status, COUNT(*)
		FROM submissions
		WHERE instance_id = ? AND created_at >= ? AND created_at < ?
		GROUP BY status
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), instanceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch domain.SubmissionStatus(status) {
		case domain.StatusCompleted:
			summary.Completed = n
		case domain.StatusInProgress:
			summary.InProgress = n
		case domain.StatusCancelled:
			summary.Cancelled = n
		case domain.StatusFlagged:
			summary.Flagged = n
		case domain.StatusBlocked:
			summary.Blocked = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	alerts := `SELECT COUNT(*) FROM fraud_logs WHERE instance_id = ? AND passed = 0 AND created_at >= ? AND created_at < ?`
	summary.FraudAlerts, err = r.count(ctx, instanceID, alerts, instanceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}

	return summary, nil
}

func (r *SQLRepository) count(ctx context.Context, instanceID string, query string, args ...any) (int, error) {
	if instanceID == "" {
		return 0, fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
