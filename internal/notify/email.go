package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/formflow/formflow/internal/domain"
)

// Email is one plain-text message.
type Email struct {
	To      []string
	Subject string
	Body    string
}

// EmailSender delivers email.
type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	cfg      domain.SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPSender returns nil when no relay host is configured.
func NewSMTPSender(cfg domain.SMTPConfig) *SMTPSender {
	if cfg.Host == "" || cfg.From == "" {
		return nil
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}
}

// Send delivers msg. net/smtp has no context support, so ctx is only
// checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, msg Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("email has no recipients")
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	return s.sendMail(addr, auth, s.cfg.From, msg.To, s.build(msg))
}

func (s *SMTPSender) build(msg Email) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return b.Bytes()
}

// SendEmail sends one message and records it.
func (d *Dispatcher) SendEmail(ctx context.Context, instanceID, action string, msg Email) error {
	if d.mail == nil {
		return d.notConfigured(instanceID, ProviderSMTP, "email provider")
	}
	err := d.mail.Send(ctx, msg)
	d.record(ctx, instanceID, ProviderSMTP, action, err)
	return err
}

// SendWaitlistOpening tells a waitlisted visitor their slot opened.
func (d *Dispatcher) SendWaitlistOpening(ctx context.Context, inst *domain.Instance, entry *domain.WaitlistEntry) error {
	when := entry.PreferredDate
	if entry.PreferredTime != "" {
		when += " (" + entry.PreferredTime + ")"
	}
	name := entry.Name
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf(
		"Hi %s,\n\nA spot opened up for %s on %s. Spots are first come, first served, so book soon.\n",
		name, inst.Name, when,
	)
	return d.SendEmail(ctx, inst.ID, "waitlist_opening", Email{
		To:      []string{entry.Email},
		Subject: fmt.Sprintf("A slot opened for %s", inst.Name),
		Body:    body,
	})
}
