// Package alerts implements the alert-queue job handlers: stock-low,
// project-delay, payment-reminder and the maintenance-check sweep that fans
// them out. Every handler is idempotent: it re-checks the condition against
// the store before notifying, so re-running a job after the condition has
// cleared is a no-op.
package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mcastro2021/nexa-worker/internal/queue"
	"github.com/mcastro2021/nexa-worker/internal/store"
	"github.com/mcastro2021/nexa-worker/internal/worker"
)

// paymentReminderDays is how close to its due date a payment must be before
// the reminder fires. The maintenance sweep looks further ahead so reminders
// are already enqueued when they come into range.
const (
	paymentReminderDays    = 3
	maintenanceLookoutDays = 7
)

// Store is the read access the alert handlers need. *store.Store satisfies
// it; tests supply a fake.
type Store interface {
	GetStockItem(ctx context.Context, id uuid.UUID) (*store.StockItem, error)
	ListLowStockItems(ctx context.Context) ([]store.StockItem, error)
	GetProject(ctx context.Context, id uuid.UUID) (*store.Project, error)
	GetClient(ctx context.Context, id uuid.UUID) (*store.Client, error)
	ListPendingMilestones(ctx context.Context, projectID uuid.UUID) ([]store.Milestone, error)
	ListDelayedProjects(ctx context.Context, asOf time.Time) ([]store.Project, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*store.Payment, error)
	ListPaymentsDueWithin(ctx context.Context, asOf time.Time, days int) ([]store.Payment, error)
}

// Enqueuer is the queue access the handlers need to emit follow-up jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) (uuid.UUID, error)
}

// Config carries the notification routing the handlers cannot derive from
// the domain data: where internal alerts go.
type Config struct {
	// InternalRecipients receive internal alert emails (admin, logistics).
	InternalRecipients []string
	// LogisticsPhone receives stock alert messages.
	LogisticsPhone string
}

// Handlers owns the alert-queue handlers.
type Handlers struct {
	store Store
	q     Enqueuer
	cfg   Config
	now   func() time.Time
	log   *slog.Logger
}

// New wires the alert handlers over st and q.
func New(st Store, q Enqueuer, cfg Config) *Handlers {
	return &Handlers{
		store: st,
		q:     q,
		cfg:   cfg,
		now:   time.Now,
		log:   slog.Default(),
	}
}

// SetNow overrides the clock. Tests only.
func (h *Handlers) SetNow(now func() time.Time) { h.now = now }

// Register binds the alert kinds into reg.
func (h *Handlers) Register(reg *worker.Registry) {
	reg.Register(queue.KindStockLow, h.HandleStockLow)
	reg.Register(queue.KindProjectDelay, h.HandleProjectDelay)
	reg.Register(queue.KindPaymentReminder, h.HandlePaymentReminder)
	reg.Register(queue.KindMaintenanceCheck, h.HandleMaintenanceCheck)
}
