// Package notify formats and sends enrollment notifications: Twilio SMS,
// Slack and Teams webhooks, email over SMTP or Resend, fraud alerts and digests.
//
// Every send is one synchronous call. Failures are logged, recorded in the
// activity log and returned; nothing is retried.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/httpclient"
)

// ErrNotConfigured is returned when a provider lacks credentials or an endpoint.
var ErrNotConfigured = errors.New("notification provider not configured")

// Provider names recorded in the activity log.
const (
	ProviderTwilio  = "twilio"
	ProviderSlack   = "slack"
	ProviderTeams   = "teams"
	ProviderSMTP    = "smtp"
	ProviderWebhook = "webhook"
)

// Providers lists every provider in reporting order.
var Providers = []string{ProviderTwilio, ProviderSlack, ProviderTeams, ProviderSMTP, ProviderWebhook}

// ActivityStore records provider calls.
type ActivityStore interface {
	SaveActivity(ctx context.Context, l *domain.ActivityLog) error
	ProviderUsage(ctx context.Context, instanceID string, since time.Time) ([]domain.ProviderUsage, error)
}

// Dispatcher sends notifications for instances.
type Dispatcher struct {
	client        httpclient.Client
	mail          EmailSender
	activity      ActivityStore
	logger        *slog.Logger
	now           func() time.Time
	twilioBaseURL string
}

// NewDispatcher creates a dispatcher. mail may be nil when no email provider is configured.
func NewDispatcher(client httpclient.Client, mail EmailSender, activity ActivityStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:        client,
		mail:          mail,
		activity:      activity,
		logger:        logger,
		now:           time.Now,
		twilioBaseURL: TwilioBaseURL,
	}
}

// notConfigured logs and returns a configuration error.
func (d *Dispatcher) notConfigured(instanceID, provider, missing string) error {
	d.logger.Warn("notification skipped, provider not configured",
		"instance_id", instanceID,
		"provider", provider,
		"missing", missing,
	)
	return fmt.Errorf("%w: %s: %s", ErrNotConfigured, provider, missing)
}

// record writes the activity row for one provider call and logs failures.
func (d *Dispatcher) record(ctx context.Context, instanceID, provider, action string, callErr error) {
	entry := &domain.ActivityLog{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Provider:   provider,
		Action:     action,
		Success:    callErr == nil,
		CreatedAt:  d.now().UTC(),
	}

	if callErr != nil {
		attrs := []any{"instance_id", instanceID, "provider", provider, "action", action, "error", callErr}
		if httpErr, ok := httpclient.IsHTTPError(callErr); ok {
			attrs = append(attrs, "status", httpErr.StatusCode, "body", string(httpErr.Response))
			entry.Detail = fmt.Sprintf("status %d", httpErr.StatusCode)
		} else {
			entry.Detail = callErr.Error()
		}
		d.logger.Error("notification failed", attrs...)
	} else {
		d.logger.Debug("notification sent", "instance_id", instanceID, "provider", provider, "action", action)
	}

	if d.activity == nil {
		return
	}
	if err := d.activity.SaveActivity(ctx, entry); err != nil {
		d.logger.Error("failed to record activity", "instance_id", instanceID, "provider", provider, "error", err)
	}
}

// ProviderStatus reports whether a provider is configured and how it has fared.
type ProviderStatus struct {
	Provider   string               `json:"provider"`
	Configured bool                 `json:"configured"`
	Usage      domain.ProviderUsage `json:"usage"`
}

// Health reports every provider's configuration and usage since a time.
func (d *Dispatcher) Health(ctx context.Context, inst *domain.Instance, since time.Time) ([]ProviderStatus, error) {
	usage := map[string]domain.ProviderUsage{}
	if d.activity != nil {
		rows, err := d.activity.ProviderUsage(ctx, inst.ID, since)
		if err != nil {
			return nil, fmt.Errorf("failed to load provider usage: %w", err)
		}
		for _, u := range rows {
			usage[u.Provider] = u
		}
	}

	out := make([]ProviderStatus, 0, len(Providers))
	for _, p := range Providers {
		u, ok := usage[p]
		if !ok {
			u = domain.ProviderUsage{Provider: p}
		}
		out = append(out, ProviderStatus{Provider: p, Configured: d.configured(inst, p), Usage: u})
	}
	return out, nil
}

func (d *Dispatcher) configured(inst *domain.Instance, provider string) bool {
	s := inst.Settings
	switch provider {
	case ProviderTwilio:
		return s.SMS.IsEnabled() && s.SMS.AccountSID != "" && s.SMS.AuthToken != "" && s.SMS.FromNumber != ""
	case ProviderSlack:
		return s.Team.IsEnabled() && s.Team.Platform != "teams" && s.Team.WebhookURL != ""
	case ProviderTeams:
		return s.Team.IsEnabled() && s.Team.Platform == "teams" && s.Team.WebhookURL != ""
	case ProviderSMTP:
		return d.mail != nil
	case ProviderWebhook:
		return s.Fraud != nil && s.Fraud.AdminWebhookURL != ""
	}
	return false
}

// TestProvider sends a test message through one provider.
// target is a phone number for SMS and an address for SMTP.
func (d *Dispatcher) TestProvider(ctx context.Context, inst *domain.Instance, provider, target string) error {
	msg := fmt.Sprintf("FormFlow test message for %s", inst.Name)
	switch provider {
	case ProviderTwilio:
		if target == "" {
			return fmt.Errorf("a phone number is required to test %s", provider)
		}
		return d.SendSMS(ctx, inst, target, msg)
	case ProviderSlack, ProviderTeams:
		return d.postTeam(ctx, inst, "test", teamMessage{Title: "FormFlow test", Text: msg})
	case ProviderSMTP:
		if target == "" {
			return fmt.Errorf("an email address is required to test %s", provider)
		}
		return d.SendEmail(ctx, inst.ID, "test", Email{To: []string{target}, Subject: "FormFlow test", Body: msg})
	case ProviderWebhook:
		if inst.Settings.Fraud == nil || inst.Settings.Fraud.AdminWebhookURL == "" {
			return d.notConfigured(inst.ID, ProviderWebhook, "admin_webhook_url")
		}
		return d.postJSON(ctx, inst.ID, ProviderWebhook, "test", inst.Settings.Fraud.AdminWebhookURL,
			map[string]any{"event": "test", "instance_id": inst.ID, "message": msg})
	}
	return fmt.Errorf("unknown provider: %s", provider)
}
