package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/httpclient"
)

// TwilioBaseURL is the Twilio REST API root.
const TwilioBaseURL = "https://api.twilio.com/2010-04-01"

// DefaultSMSTemplate is used when an instance sets none.
const DefaultSMSTemplate = "Thanks {first_name}, your {instance} enrollment was received. Confirmation: {id}"

// SendSMS posts one message to the Twilio Messages API.
func (d *Dispatcher) SendSMS(ctx context.Context, inst *domain.Instance, to, body string) error {
	cfg := inst.Settings.SMS
	switch {
	case !cfg.IsEnabled():
		return d.notConfigured(inst.ID, ProviderTwilio, "sms_notifications disabled")
	case cfg.AccountSID == "" || cfg.AuthToken == "":
		return d.notConfigured(inst.ID, ProviderTwilio, "account_sid/auth_token")
	case cfg.FromNumber == "":
		return d.notConfigured(inst.ID, ProviderTwilio, "from_number")
	case strings.TrimSpace(to) == "":
		return d.notConfigured(inst.ID, ProviderTwilio, "recipient number")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", cfg.FromNumber)
	form.Set("Body", body)

	_, err := d.client.Send(ctx, &httpclient.Request{
		Method:      http.MethodPost,
		URL:         fmt.Sprintf("%s/Accounts/%s/Messages.json", d.twilioBaseURL, url.PathEscape(cfg.AccountSID)),
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
		BasicAuth:   &httpclient.BasicAuth{Username: cfg.AccountSID, Password: cfg.AuthToken},
	})
	d.record(ctx, inst.ID, ProviderTwilio, "send_sms", err)
	return err
}

// NotifySubmission texts the applicant and the configured admin numbers.
func (d *Dispatcher) NotifySubmission(ctx context.Context, inst *domain.Instance, sub *domain.Submission) error {
	cfg := inst.Settings.SMS
	if !cfg.IsEnabled() {
		return nil
	}

	tmpl := cfg.Template
	if tmpl == "" {
		tmpl = DefaultSMSTemplate
	}
	body := RenderTemplate(tmpl, inst, sub)

	var recipients []string
	if cfg.NotifyApplicant {
		if phone := fieldString(sub.FormData, "phone"); phone != "" {
			recipients = append(recipients, phone)
		}
	}
	recipients = append(recipients, cfg.AdminNumbers...)

	var errs []error
	for _, to := range recipients {
		if err := d.SendSMS(ctx, inst, to, body); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d SMS failed: %w", len(errs), len(recipients), errs[0])
	}
	return nil
}

// RenderTemplate replaces {key} placeholders with submission values.
// Built-ins are {instance}, {id}, {date} and {time}; any form field name
// also works. Unknown placeholders are left as is.
func RenderTemplate(tmpl string, inst *domain.Instance, sub *domain.Submission) string {
	pairs := []string{
		"{instance}", inst.Name,
		"{id}", sub.ID,
		"{date}", sub.ScheduleDate,
		"{time}", sub.ScheduleTime,
	}

	keys := make([]string, 0, len(sub.FormData))
	for k := range sub.FormData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", fieldString(sub.FormData, k))
	}

	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func fieldString(data domain.FieldValues, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
