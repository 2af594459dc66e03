// ABOUTME: maintenance-check sweep: scans stock, projects and payments in one pass.
// ABOUTME: Fans out one alert job per finding with staggered NotBefore to spread the load.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcastro2021/nexa-worker/internal/queue"
)

// Fan-out stagger per category. Spreads the follow-up load a little; the
// exact values carry no correctness weight.
const (
	stockStagger   = 1 * time.Second
	delayStagger   = 2 * time.Second
	paymentStagger = 3 * time.Second
)

// HandleMaintenanceCheck is the hourly sweep: it scans for low stock, delayed
// projects and payments coming due, and fans out one alert job per match.
// The follow-up handlers re-check their condition, so a match that clears
// before its job runs costs nothing.
func (h *Handlers) HandleMaintenanceCheck(ctx context.Context, _ json.RawMessage) error {
	now := h.now()

	items, err := h.store.ListLowStockItems(ctx)
	if err != nil {
		return fmt.Errorf("scan low stock: %w", err)
	}
	for _, item := range items {
		err := h.enqueueAlert(ctx, queue.KindStockLow,
			StockLowPayload{StockItemID: item.ID}, now.Add(stockStagger))
		if err != nil {
			return err
		}
	}
	if len(items) > 0 {
		h.log.InfoContext(ctx, "enqueued stock alerts", "count", len(items))
	}

	projects, err := h.store.ListDelayedProjects(ctx, now)
	if err != nil {
		return fmt.Errorf("scan delayed projects: %w", err)
	}
	for _, project := range projects {
		err := h.enqueueAlert(ctx, queue.KindProjectDelay,
			ProjectDelayPayload{ProjectID: project.ID}, now.Add(delayStagger))
		if err != nil {
			return err
		}
	}
	if len(projects) > 0 {
		h.log.InfoContext(ctx, "enqueued delay alerts", "count", len(projects))
	}

	payments, err := h.store.ListPaymentsDueWithin(ctx, now, maintenanceLookoutDays)
	if err != nil {
		return fmt.Errorf("scan payments due: %w", err)
	}
	for _, payment := range payments {
		err := h.enqueueAlert(ctx, queue.KindPaymentReminder,
			PaymentReminderPayload{PaymentID: payment.ID}, now.Add(paymentStagger))
		if err != nil {
			return err
		}
	}
	if len(payments) > 0 {
		h.log.InfoContext(ctx, "enqueued payment reminders", "count", len(payments))
	}

	return nil
}

func (h *Handlers) enqueueAlert(ctx context.Context, kind string, payload any, notBefore time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	if _, err := h.q.Enqueue(ctx, queue.Job{
		Queue:       queue.QueueAlerts,
		Kind:        kind,
		Payload:     raw,
		NotBefore:   notBefore,
		MaxAttempts: queue.DefaultMaxAttempts,
	}); err != nil {
		return fmt.Errorf("enqueue %s alert: %w", kind, err)
	}
	return nil
}
