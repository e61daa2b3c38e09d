package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"

	"github.com/formflow/formflow/internal/domain"
)

// resendEmails is the part of the Resend client the sender uses.
type resendEmails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender delivers mail through the Resend HTTP API.
type ResendSender struct {
	emails  resendEmails
	from    string
	replyTo string
}

// NewResendSender returns nil when no API key is configured.
func NewResendSender(cfg domain.ResendConfig) *ResendSender {
	if cfg.APIKey == "" {
		return nil
	}
	client := resend.NewClient(cfg.APIKey)
	return &ResendSender{emails: client.Emails, from: cfg.From, replyTo: cfg.ReplyTo}
}

// Send delivers msg as plain text.
func (s *ResendSender) Send(ctx context.Context, msg Email) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("email has no recipients")
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.Body,
	}
	if s.replyTo != "" {
		params.ReplyTo = s.replyTo
	}

	if _, err := s.emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
