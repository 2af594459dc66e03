// ABOUTME: Job handlers for the notifications queue: email, whatsapp, sms kinds.
// ABOUTME: Malformed payloads are permanent errors; channel failures are retryable.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mcastro2021/nexa-worker/internal/queue"
	"github.com/mcastro2021/nexa-worker/internal/worker"
)

// EmailPayload is the payload of an "email" job.
type EmailPayload struct {
	Type       string         `json:"type"`
	Subject    string         `json:"subject"`
	Recipients []string       `json:"recipients"`
	Intro      string         `json:"intro,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// MessagePayload is the payload of a "whatsapp" or "sms" job.
type MessagePayload struct {
	Type    string `json:"type"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Handlers owns the notification-kind job handlers and their channel
// adapters.
type Handlers struct {
	email    EmailSender
	whatsapp MessageSender
	sms      MessageSender
	log      *slog.Logger
}

// NewHandlers wires the channel adapters into the notification handlers.
func NewHandlers(email EmailSender, whatsapp, sms MessageSender) *Handlers {
	return &Handlers{email: email, whatsapp: whatsapp, sms: sms, log: slog.Default()}
}

// Register binds the notification kinds into reg.
func (h *Handlers) Register(reg *worker.Registry) {
	reg.Register(queue.KindEmail, h.HandleEmail)
	reg.Register(queue.KindWhatsApp, h.HandleWhatsApp)
	reg.Register(queue.KindSMS, h.HandleSMS)
}

// HandleEmail renders and sends one email job.
func (h *Handlers) HandleEmail(ctx context.Context, payload json.RawMessage) error {
	var p EmailPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.Permanentf("email payload: %w", err)
	}
	if len(p.Recipients) == 0 {
		return worker.Permanentf("email payload: no recipients")
	}
	body, err := renderBody(p.Intro, p.Data)
	if err != nil {
		return worker.Permanent(err)
	}
	if err := h.email.SendEmail(ctx, p.Subject, p.Recipients, body); err != nil {
		return err // transient: SMTP relay may recover
	}
	h.log.InfoContext(ctx, "email notification sent",
		"type", p.Type, "subject", p.Subject, "recipients", len(p.Recipients))
	return nil
}

// HandleWhatsApp sends one whatsapp job through the messaging adapter.
func (h *Handlers) HandleWhatsApp(ctx context.Context, payload json.RawMessage) error {
	return h.handleMessage(ctx, payload, h.whatsapp, queue.KindWhatsApp)
}

// HandleSMS sends one sms job through the messaging adapter.
func (h *Handlers) HandleSMS(ctx context.Context, payload json.RawMessage) error {
	return h.handleMessage(ctx, payload, h.sms, queue.KindSMS)
}

func (h *Handlers) handleMessage(ctx context.Context, payload json.RawMessage, sender MessageSender, kind string) error {
	var p MessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.Permanentf("%s payload: %w", kind, err)
	}
	if p.Phone == "" {
		return worker.Permanentf("%s payload: no phone number", kind)
	}
	if err := sender.SendMessage(ctx, p.Phone, p.Message); err != nil {
		return err
	}
	h.log.InfoContext(ctx, "message notification sent", "kind", kind, "type", p.Type)
	return nil
}
