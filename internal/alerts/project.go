// ABOUTME: project-delay handler: counts overdue milestones for an active project.
// ABOUTME: Notifies the project manager route; zero overdue milestones is a clean no-op.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcastro2021/nexa-worker/internal/notify"
	"github.com/mcastro2021/nexa-worker/internal/queue"
	"github.com/mcastro2021/nexa-worker/internal/worker"
)

// ProjectDelayPayload references the project to re-check.
type ProjectDelayPayload struct {
	ProjectID uuid.UUID `json:"project_id"`
}

// HandleProjectDelay re-checks the referenced project for overdue pending
// milestones (planned date strictly before now). If any exist, the client
// gets a schedule-update whatsapp message and the internal team an email.
// No-op when the project is gone or nothing is overdue.
func (h *Handlers) HandleProjectDelay(ctx context.Context, payload json.RawMessage) error {
	var p ProjectDelayPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.Permanentf("project-delay payload: %w", err)
	}

	project, err := h.store.GetProject(ctx, p.ProjectID)
	if err != nil {
		return err
	}
	if project == nil {
		h.log.WarnContext(ctx, "project not found, skipping alert", "project_id", p.ProjectID)
		return nil
	}

	milestones, err := h.store.ListPendingMilestones(ctx, project.ID)
	if err != nil {
		return err
	}
	now := h.now()
	overdue := 0
	for _, m := range milestones {
		if m.PlannedDate.Before(now) {
			overdue++
		}
	}
	if overdue == 0 {
		return nil
	}

	h.log.WarnContext(ctx, "project has overdue milestones",
		"project", project.Name, "overdue", overdue)

	client, err := h.store.GetClient(ctx, project.ClientID)
	if err != nil {
		return err
	}
	clientName := ""
	if client != nil {
		clientName = client.Name
		if client.Phone != "" {
			message := notify.MessagePayload{
				Type:  "project_delay",
				Phone: client.Phone,
				Message: fmt.Sprintf(
					"Project update\n\n%s\n\nWe are adjusting the schedule and will contact you shortly to coordinate new dates.\n\nThank you for your patience.",
					project.Name),
			}
			if err := h.enqueueNotification(ctx, queue.KindWhatsApp, message); err != nil {
				return err
			}
		}
	}

	email := notify.EmailPayload{
		Type:       "project_delay",
		Subject:    fmt.Sprintf("Delay alert: %s", project.Name),
		Recipients: h.cfg.InternalRecipients,
		Intro:      "A project has pending milestones past their planned date.",
		Data: map[string]any{
			"project":            project.Name,
			"client":             clientName,
			"overdue_milestones": overdue,
		},
	}
	return h.enqueueNotification(ctx, queue.KindEmail, email)
}
