package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/formflow/formflow/internal/domain"
)

// SaveFraudLog persists an analysis, passed or not.
func (r *SQLRepository) SaveFraudLog(ctx context.Context, a *domain.FraudAnalysis) error {
	if a == nil || a.InstanceID == "" {
		return fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	checks, err := json.Marshal(a.Checks)
	if err != nil {
		return fmt.Errorf("failed to encode checks: %w", err)
	}

	query := `
		INSERT INTO fraud_logs (
			id, instance_id, submission_id, ip, masked_email, masked_account,
			risk_score, threshold, passed, action, checks, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.InstanceID, a.SubmissionID, a.IP, a.MaskedEmail, a.MaskedAcct,
		a.RiskScore, a.Threshold, boolToInt(a.Passed), string(a.Action),
		string(checks), a.CreatedAt,
	)
	return err
}

// ListFraudLogs returns the most recent analyses first.
func (r *SQLRepository) ListFraudLogs(ctx context.Context, instanceID string, limit int) ([]*domain.FraudAnalysis, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT id, instance_id, submission_id, ip, masked_email, masked_account,
			   risk_score, threshold, passed, action, checks, created_at
		FROM fraud_logs
		WHERE instance_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.FraudAnalysis
	for rows.Next() {
		var a domain.FraudAnalysis
		var passed int
		var action, checks string

		if err := rows.Scan(
			&a.ID, &a.InstanceID, &a.SubmissionID, &a.IP, &a.MaskedEmail, &a.MaskedAcct,
			&a.RiskScore, &a.Threshold, &passed, &action, &checks, &a.CreatedAt,
		); err != nil {
			return nil, err
		}

		a.Passed = passed == 1
		a.Action = domain.FraudAction(action)
		if err := json.Unmarshal([]byte(checks), &a.Checks); err != nil {
			return nil, fmt.Errorf("failed to parse checks for %s: %w", a.ID, err)
		}
		logs = append(logs, &a)
	}

	return logs, rows.Err()
}

// BlockFingerprint adds a fingerprint to the instance's blocked list.
func (r *SQLRepository) BlockFingerprint(ctx context.Context, instanceID string, fingerprint string, reason string) error {
	if instanceID == "" || fingerprint == "" {
		return fmt.Errorf("%w: instanceID and fingerprint are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO fraud_fingerprints (instance_id, fingerprint, reason, blocked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (instance_id, fingerprint) DO UPDATE SET
			reason = excluded.reason,
			blocked_at = excluded.blocked_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), instanceID, fingerprint, reason, time.Now().UTC())
	return err
}

// IsFingerprintBlocked reports whether a fingerprint is on the blocked list.
func (r *SQLRepository) IsFingerprintBlocked(ctx context.Context, instanceID string, fingerprint string) (bool, error) {
	query := `SELECT COUNT(*) FROM fraud_fingerprints WHERE instance_id = ? AND fingerprint = ?`
	n, err := r.count(ctx, instanceID, query, instanceID, fingerprint)
	return n > 0, err
}
