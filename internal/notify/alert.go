package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/formflow/formflow/internal/domain"
)

// SendFraudAlert notifies the instance admin of a failed fraud screen by
// webhook and email, whichever are configured.
func (d *Dispatcher) SendFraudAlert(ctx context.Context, inst *domain.Instance, a *domain.FraudAnalysis) error {
	cfg := inst.Settings.Fraud
	if cfg == nil || (cfg.AdminWebhookURL == "" && cfg.AdminEmail == "") {
		return d.notConfigured(inst.ID, ProviderWebhook, "admin_webhook_url/admin_email")
	}

	triggered := a.Triggered()
	var errs []error

	if cfg.AdminWebhookURL != "" {
		checks := make([]map[string]any, 0, len(triggered))
		for _, c := range triggered {
			checks = append(checks, map[string]any{
				"check":    c.Check,
				"severity": c.Severity,
				"score":    c.Score,
				"reason":   c.Reason,
			})
		}
		payload := map[string]any{
			"event":         "fraud_alert",
			"instance_id":   inst.ID,
			"instance_name": inst.Name,
			"submission_id": a.SubmissionID,
			"risk_score":    a.RiskScore,
			"threshold":     a.Threshold,
			"action":        a.Action,
			"ip":            a.IP,
			"email":         a.MaskedEmail,
			"checks":        checks,
			"created_at":    a.CreatedAt,
		}
		if err := d.postJSON(ctx, inst.ID, ProviderWebhook, "fraud_alert", cfg.AdminWebhookURL, payload); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.AdminEmail != "" {
		if err := d.SendEmail(ctx, inst.ID, "fraud_alert", Email{
			To:      []string{cfg.AdminEmail},
			Subject: fmt.Sprintf("[%s] High-risk submission (score %.0f)", inst.Name, a.RiskScore),
			Body:    FormatFraudAlert(inst, a),
		}); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// FormatFraudAlert renders the plain-text alert body.
func FormatFraudAlert(inst *domain.Instance, a *domain.FraudAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A submission to %s failed fraud screening.\n\n", inst.Name)
	fmt.Fprintf(&b, "Risk score: %.1f (threshold %.0f)\n", a.RiskScore, a.Threshold)
	fmt.Fprintf(&b, "Action: %s\n", a.Action)
	if a.IP != "" {
		fmt.Fprintf(&b, "IP: %s\n", a.IP)
	}
	if a.MaskedEmail != "" {
		fmt.Fprintf(&b, "Email: %s\n", a.MaskedEmail)
	}
	b.WriteString("\nTriggered checks:\n")
	for _, c := range a.Triggered() {
		fmt.Fprintf(&b, "- %s (+%.1f): %s\n", c.Check, c.Score, c.Reason)
	}
	return b.String()
}
