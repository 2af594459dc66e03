// ABOUTME: stock-low handler: re-checks quantity <= minimum, then notifies purchasing.
// ABOUTME: Recovered or deleted items ack without sending. Email plus whatsapp when a phone exists.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcastro2021/nexa-worker/internal/notify"
	"github.com/mcastro2021/nexa-worker/internal/queue"
	"github.com/mcastro2021/nexa-worker/internal/store"
	"github.com/mcastro2021/nexa-worker/internal/worker"
)

// StockLowPayload references the stock item to re-check.
type StockLowPayload struct {
	StockItemID uuid.UUID `json:"stock_item_id"`
}

// HandleStockLow re-checks the referenced item and, if it is still below its
// minimum, emits one internal email and one logistics whatsapp message.
// No-op when the item is gone or stock has recovered.
func (h *Handlers) HandleStockLow(ctx context.Context, payload json.RawMessage) error {
	var p StockLowPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.Permanentf("stock-low payload: %w", err)
	}

	item, err := h.store.GetStockItem(ctx, p.StockItemID)
	if err != nil {
		return err
	}
	if item == nil {
		h.log.WarnContext(ctx, "stock item not found, skipping alert", "stock_item_id", p.StockItemID)
		return nil
	}
	if !item.Low() {
		h.log.InfoContext(ctx, "stock recovered, skipping alert",
			"sku", item.SKU, "quantity", item.Quantity, "minimum", item.Minimum)
		return nil
	}

	h.log.WarnContext(ctx, "stock below minimum",
		"sku", item.SKU, "name", item.Name,
		"quantity", item.Quantity, "minimum", item.Minimum)

	email := notify.EmailPayload{
		Type:       "stock_alert",
		Subject:    fmt.Sprintf("Stock alert: %s", item.Name),
		Recipients: h.cfg.InternalRecipients,
		Intro:      "A stock item has fallen below its reorder threshold.",
		Data: map[string]any{
			"item":           item.Name,
			"sku":            item.SKU,
			"quantity":       fmt.Sprintf("%d %s", item.Quantity, item.Unit),
			"minimum":        fmt.Sprintf("%d %s", item.Minimum, item.Unit),
			"lead_time_days": item.LeadTimeDays,
		},
	}
	if err := h.enqueueNotification(ctx, queue.KindEmail, email); err != nil {
		return err
	}

	message := notify.MessagePayload{
		Type:    "stock_alert",
		Phone:   h.cfg.LogisticsPhone,
		Message: stockAlertMessage(item),
	}
	return h.enqueueNotification(ctx, queue.KindWhatsApp, message)
}

func stockAlertMessage(item *store.StockItem) string {
	return fmt.Sprintf(
		"STOCK ALERT\n\n%s\nSKU: %s\nStock: %d %s\nMinimum: %d %s\n\nRestock needed.",
		item.Name, item.SKU, item.Quantity, item.Unit, item.Minimum, item.Unit)
}

// enqueueNotification marshals payload and enqueues it as kind into the
// notifications queue.
func (h *Handlers) enqueueNotification(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return worker.Permanentf("marshal %s payload: %w", kind, err)
	}
	if _, err := h.q.Enqueue(ctx, queue.Job{
		Queue:   queue.QueueNotifications,
		Kind:    kind,
		Payload: raw,
	}); err != nil {
		return fmt.Errorf("enqueue %s notification: %w", kind, err)
	}
	return nil
}
