// ABOUTME: SMTP email delivery using go-mail. Dial-per-send for sporadic alert traffic.
// ABOUTME: BCC all recipients in a single email; retry means retry all recipients.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP connection parameters sourced from environment
// configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	TLS      bool
}

// SMTPEmailer is the production EmailSender.
type SMTPEmailer struct {
	cfg SMTPConfig
}

// NewSMTPEmailer returns an EmailSender delivering over the given SMTP relay.
func NewSMTPEmailer(cfg SMTPConfig) *SMTPEmailer {
	return &SMTPEmailer{cfg: cfg}
}

// SendEmail sends a plaintext email to all recipients via BCC. Uses
// DialAndSend (dial-per-send), no persistent SMTP connection.
func (e *SMTPEmailer) SendEmail(ctx context.Context, subject string, recipients []string, body string) error {
	if len(recipients) == 0 {
		return errors.New("email send: no recipients")
	}

	// Strip CR/LF from the subject to prevent header injection.
	subject = strings.NewReplacer("\r", "", "\n", "").Replace(subject)

	m := mail.NewMsg()
	if err := m.FromFormat("Nexa", e.cfg.From); err != nil {
		return fmt.Errorf("email send: set from: %w", err)
	}
	if err := m.Bcc(recipients...); err != nil {
		return fmt.Errorf("email send: set bcc: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(e.cfg.Port),
	}
	if e.cfg.Username != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain))
		opts = append(opts, mail.WithUsername(e.cfg.Username))
		opts = append(opts, mail.WithPassword(e.cfg.Password))
	}
	if e.cfg.TLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}

	c, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("email send: create client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}
