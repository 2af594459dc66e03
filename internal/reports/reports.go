// Package reports implements the report-queue job handlers. Each handler
// aggregates the period that just closed, persists the result to the reports
// table and logs a short digest.
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mcastro2021/nexa-worker/internal/queue"
	"github.com/mcastro2021/nexa-worker/internal/store"
	"github.com/mcastro2021/nexa-worker/internal/worker"
)

// Source is the aggregation access the report handlers need. *store.Store
// satisfies it; tests supply a fake.
type Source interface {
	GetDailySummary(ctx context.Context, day time.Time) (*store.DailySummary, error)
	GetWeeklyKPIs(ctx context.Context, weekStart time.Time) (*store.WeeklyKPIs, error)
	GetMonthlyFinancial(ctx context.Context, monthStart time.Time) (*store.MonthlyFinancial, error)
	SaveReport(ctx context.Context, kind string, periodStart, periodEnd time.Time, body json.RawMessage) (uuid.UUID, error)
}

// Handlers owns the report-kind job handlers.
type Handlers struct {
	src Source
	now func() time.Time
	log *slog.Logger
}

// New wires the report handlers over src.
func New(src Source) *Handlers {
	return &Handlers{src: src, now: time.Now, log: slog.Default()}
}

// SetNow overrides the clock. Tests only.
func (h *Handlers) SetNow(now func() time.Time) { h.now = now }

// Register binds the report kinds into reg.
func (h *Handlers) Register(reg *worker.Registry) {
	reg.Register(queue.KindDailySummary, h.HandleDailySummary)
	reg.Register(queue.KindWeeklyKPIs, h.HandleWeeklyKPIs)
	reg.Register(queue.KindMonthlyFinancial, h.HandleMonthlyFinancial)
}

// HandleDailySummary reports on the day before the job runs.
func (h *Handlers) HandleDailySummary(ctx context.Context, _ json.RawMessage) error {
	day := startOfDay(h.now()).AddDate(0, 0, -1)
	summary, err := h.src.GetDailySummary(ctx, day)
	if err != nil {
		return err
	}
	id, err := h.save(ctx, queue.KindDailySummary, day, day.AddDate(0, 0, 1), summary)
	if err != nil {
		return err
	}
	h.log.InfoContext(ctx, "daily summary generated",
		"report_id", id, "day", day.Format("2006-01-02"),
		"new_projects", summary.NewProjects,
		"milestones_completed", summary.MilestonesCompleted,
		"payments_received", summary.PaymentsReceived,
		"low_stock_items", summary.LowStockItems)
	return nil
}

// HandleWeeklyKPIs reports on the calendar week (Monday-based) before the
// job runs.
func (h *Handlers) HandleWeeklyKPIs(ctx context.Context, _ json.RawMessage) error {
	weekStart := startOfWeek(h.now()).AddDate(0, 0, -7)
	kpis, err := h.src.GetWeeklyKPIs(ctx, weekStart)
	if err != nil {
		return err
	}
	id, err := h.save(ctx, queue.KindWeeklyKPIs, weekStart, weekStart.AddDate(0, 0, 7), kpis)
	if err != nil {
		return err
	}
	h.log.InfoContext(ctx, "weekly kpis generated",
		"report_id", id, "week_start", weekStart.Format("2006-01-02"),
		"milestones_due", kpis.MilestonesDue,
		"milestones_on_time", kpis.MilestonesOnTime,
		"amount_billed", kpis.AmountBilled,
		"amount_collected", kpis.AmountCollected)
	return nil
}

// HandleMonthlyFinancial reports on the calendar month before the job runs.
func (h *Handlers) HandleMonthlyFinancial(ctx context.Context, _ json.RawMessage) error {
	monthStart := startOfMonth(h.now()).AddDate(0, -1, 0)
	fin, err := h.src.GetMonthlyFinancial(ctx, monthStart)
	if err != nil {
		return err
	}
	id, err := h.save(ctx, queue.KindMonthlyFinancial, monthStart, monthStart.AddDate(0, 1, 0), fin)
	if err != nil {
		return err
	}
	h.log.InfoContext(ctx, "monthly financial report generated",
		"report_id", id, "month", monthStart.Format("2006-01"),
		"billed", fin.Billed, "collected", fin.Collected, "clients", len(fin.Clients))
	return nil
}

func (h *Handlers) save(ctx context.Context, kind string, start, end time.Time, body any) (uuid.UUID, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal %s report: %w", kind, err)
	}
	id, err := h.src.SaveReport(ctx, kind, start, end, raw)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Monday 00:00 of t's week.
func startOfWeek(t time.Time) time.Time {
	d := startOfDay(t)
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return d.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
