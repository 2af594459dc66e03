// ABOUTME: Notification channel capability interfaces and the simulated adapters.
// ABOUTME: Production email goes over SMTP; whatsapp/sms are simulated pending a provider contract.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// EmailSender delivers an email to a set of recipients. Implementations own
// their transport-level retry semantics; the worker pool only cares whether
// the call returned an error.
type EmailSender interface {
	SendEmail(ctx context.Context, subject string, recipients []string, body string) error
}

// MessageSender delivers a short text message (WhatsApp, SMS) to a phone
// number.
type MessageSender interface {
	SendMessage(ctx context.Context, phone, message string) error
}

// SimulatedMessenger stands in for an external messaging provider: it logs
// the message and succeeds after a fixed latency. Channel names the
// provider slot it fills ("whatsapp", "sms").
type SimulatedMessenger struct {
	Channel string
	Latency time.Duration
}

func (s SimulatedMessenger) SendMessage(ctx context.Context, phone, message string) error {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	slog.InfoContext(ctx, "simulated message sent",
		"channel", s.Channel, "phone", phone, "chars", len(message))
	return nil
}

// SimulatedEmailer is the dev-mode EmailSender used when SMTP is not
// configured.
type SimulatedEmailer struct {
	Latency time.Duration
}

func (s SimulatedEmailer) SendEmail(ctx context.Context, subject string, recipients []string, _ string) error {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	slog.InfoContext(ctx, "simulated email sent",
		"subject", subject, "recipients", len(recipients))
	return nil
}
