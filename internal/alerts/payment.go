// ABOUTME: payment-reminder handler: pending payments due within 3 days or overdue.
// ABOUTME: Paid-in-the-meantime payments ack silently. Client email plus optional whatsapp.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/mcastro2021/nexa-worker/internal/notify"
	"github.com/mcastro2021/nexa-worker/internal/queue"
	"github.com/mcastro2021/nexa-worker/internal/store"
	"github.com/mcastro2021/nexa-worker/internal/worker"
)

// PaymentReminderPayload references the payment to re-check.
type PaymentReminderPayload struct {
	PaymentID uuid.UUID `json:"payment_id"`
}

// HandlePaymentReminder re-checks the referenced payment and, if it is still
// pending and due within 3 days (or overdue), sends the client a whatsapp
// reminder. No-op when the payment is gone, already paid, has no due date,
// or is not close enough to its due date yet.
func (h *Handlers) HandlePaymentReminder(ctx context.Context, payload json.RawMessage) error {
	var p PaymentReminderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.Permanentf("payment-reminder payload: %w", err)
	}

	payment, err := h.store.GetPayment(ctx, p.PaymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		h.log.WarnContext(ctx, "payment not found, skipping reminder", "payment_id", p.PaymentID)
		return nil
	}
	if payment.Status != store.PaymentPending || payment.DueDate == nil {
		return nil
	}

	now := h.now()
	daysLeft := int(math.Ceil(payment.DueDate.Sub(now).Hours() / 24))
	if daysLeft > paymentReminderDays {
		return nil
	}

	client, err := h.store.GetClient(ctx, payment.ClientID)
	if err != nil {
		return err
	}
	if client == nil || client.Phone == "" {
		h.log.WarnContext(ctx, "payment client unreachable, skipping reminder",
			"payment_id", payment.ID, "client_id", payment.ClientID)
		return nil
	}

	projectName := ""
	if project, err := h.store.GetProject(ctx, payment.ProjectID); err != nil {
		return err
	} else if project != nil {
		projectName = project.Name
	}

	h.log.InfoContext(ctx, "payment due soon, sending reminder",
		"payment_id", payment.ID, "concept", payment.Concept, "days_left", daysLeft)

	message := notify.MessagePayload{
		Type:  "payment_reminder",
		Phone: client.Phone,
		Message: fmt.Sprintf(
			"Payment reminder\n\nProject: %s\nConcept: %s\nAmount: $%.2f\nDue: %s\n\nPlease coordinate the payment to avoid delays on site.",
			projectName, payment.Concept, payment.Amount,
			payment.DueDate.Format("2006-01-02")),
	}
	return h.enqueueNotification(ctx, queue.KindWhatsApp, message)
}
