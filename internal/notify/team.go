package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/httpclient"
)

type teamMessage struct {
	Title  string
	Text   string
	Facts  [][2]string
	Accent string
}

// SlackPayload renders a message in Block Kit.
func SlackPayload(m teamMessage) map[string]any {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": m.Title},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": m.Text},
		},
	}
	if len(m.Facts) > 0 {
		fields := make([]map[string]any, 0, len(m.Facts))
		for _, f := range m.Facts {
			fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*%s*\n%s", f[0], f[1])})
		}
		blocks = append(blocks, map[string]any{"type": "section", "fields": fields})
	}
	return map[string]any{"text": m.Title, "blocks": blocks}
}

// TeamsPayload renders a message as a legacy MessageCard.
func TeamsPayload(m teamMessage) map[string]any {
	facts := make([]map[string]string, 0, len(m.Facts))
	for _, f := range m.Facts {
		facts = append(facts, map[string]string{"name": f[0], "value": f[1]})
	}
	color := m.Accent
	if color == "" {
		color = "0076D7"
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"summary":    m.Title,
		"themeColor": color,
		"title":      m.Title,
		"sections": []map[string]any{
			{"text": m.Text, "facts": facts},
		},
	}
}

func submissionMessage(inst *domain.Instance, sub *domain.Submission) teamMessage {
	m := teamMessage{
		Title: fmt.Sprintf("New enrollment: %s", inst.Name),
		Text:  fmt.Sprintf("Submission `%s` completed.", sub.ID),
	}
	if sub.ScheduleDate != "" {
		m.Facts = append(m.Facts, [2]string{"Appointment", sub.ScheduleDate + " " + sub.ScheduleTime})
	}
	for _, k := range []string{"first_name", "last_name", "email", "phone", "zip"} {
		if v := fieldString(sub.FormData, k); v != "" {
			m.Facts = append(m.Facts, [2]string{k, v})
		}
	}
	return m
}

// NotifyTeam posts a completed submission to the instance's chat webhook.
func (d *Dispatcher) NotifyTeam(ctx context.Context, inst *domain.Instance, sub *domain.Submission) error {
	if !inst.Settings.Team.IsEnabled() {
		return nil
	}
	return d.postTeam(ctx, inst, "submission", submissionMessage(inst, sub))
}

func (d *Dispatcher) postTeam(ctx context.Context, inst *domain.Instance, action string, m teamMessage) error {
	cfg := inst.Settings.Team
	provider := ProviderSlack
	if cfg != nil && cfg.Platform == "teams" {
		provider = ProviderTeams
	}
	if !cfg.IsEnabled() || cfg.WebhookURL == "" {
		return d.notConfigured(inst.ID, provider, "webhook_url")
	}

	var payload map[string]any
	if provider == ProviderTeams {
		payload = TeamsPayload(m)
	} else {
		payload = SlackPayload(m)
	}
	return d.postJSON(ctx, inst.ID, provider, action, cfg.WebhookURL, payload)
}

func (d *Dispatcher) postJSON(ctx context.Context, instanceID, provider, action, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", provider, err)
	}
	_, err = d.client.Send(ctx, &httpclient.Request{
		Method: http.MethodPost,
		URL:    url,
		Body:   body,
	})
	d.record(ctx, instanceID, provider, action, err)
	return err
}
