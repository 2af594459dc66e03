// ABOUTME: Report aggregation queries (daily summary, weekly KPIs, monthly financial) and SaveReport.
// ABOUTME: Aggregates use FILTER (WHERE ...) so each period needs a single round trip.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DailySummary aggregates one day of activity.
type DailySummary struct {
	Day                 time.Time `json:"day"`
	NewProjects         int       `json:"new_projects"`
	MilestonesCompleted int       `json:"milestones_completed"`
	PaymentsReceived    float64   `json:"payments_received"`
	LowStockItems       int       `json:"low_stock_items"`
}

// GetDailySummary aggregates activity for the day starting at day (local
// midnight chosen by the caller).
func (s *Store) GetDailySummary(ctx context.Context, day time.Time) (*DailySummary, error) {
	next := day.AddDate(0, 0, 1)
	out := DailySummary{Day: day}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM projects WHERE created_at >= $1 AND created_at < $2),
			(SELECT count(*) FROM milestones WHERE status = 'done' AND done_at >= $1 AND done_at < $2),
			(SELECT COALESCE(sum(amount), 0) FROM payments WHERE status = 'paid' AND paid_at >= $1 AND paid_at < $2),
			(SELECT count(*) FROM stock_items WHERE active AND quantity < minimum)`,
		day, next).
		Scan(&out.NewProjects, &out.MilestonesCompleted, &out.PaymentsReceived, &out.LowStockItems)
	if err != nil {
		return nil, fmt.Errorf("daily summary: %w", err)
	}
	return &out, nil
}

// WeeklyKPIs aggregates one week of delivery and billing performance.
type WeeklyKPIs struct {
	WeekStart        time.Time `json:"week_start"`
	MilestonesDue    int       `json:"milestones_due"`
	MilestonesOnTime int       `json:"milestones_on_time"`
	AmountBilled     float64   `json:"amount_billed"`
	AmountCollected  float64   `json:"amount_collected"`
}

// GetWeeklyKPIs aggregates the 7 days starting at weekStart.
func (s *Store) GetWeeklyKPIs(ctx context.Context, weekStart time.Time) (*WeeklyKPIs, error) {
	weekEnd := weekStart.AddDate(0, 0, 7)
	out := WeeklyKPIs{WeekStart: weekStart}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM milestones WHERE planned_date >= $1 AND planned_date < $2),
			(SELECT count(*) FROM milestones
			 WHERE planned_date >= $1 AND planned_date < $2
			   AND status = 'done' AND done_at <= planned_date),
			(SELECT COALESCE(sum(amount), 0) FROM payments WHERE due_date >= $1 AND due_date < $2),
			(SELECT COALESCE(sum(amount), 0) FROM payments
			 WHERE status = 'paid' AND paid_at >= $1 AND paid_at < $2)`,
		weekStart, weekEnd).
		Scan(&out.MilestonesDue, &out.MilestonesOnTime, &out.AmountBilled, &out.AmountCollected)
	if err != nil {
		return nil, fmt.Errorf("weekly kpis: %w", err)
	}
	return &out, nil
}

// ClientBalance is the per-client line of the monthly financial report.
type ClientBalance struct {
	ClientID    uuid.UUID `json:"client_id"`
	ClientName  string    `json:"client_name"`
	Billed      float64   `json:"billed"`
	Collected   float64   `json:"collected"`
	Outstanding float64   `json:"outstanding"`
}

// MonthlyFinancial aggregates one month of billing per client.
type MonthlyFinancial struct {
	MonthStart time.Time       `json:"month_start"`
	Billed     float64         `json:"billed"`
	Collected  float64         `json:"collected"`
	Clients    []ClientBalance `json:"clients"`
}

// GetMonthlyFinancial aggregates the calendar month starting at monthStart.
func (s *Store) GetMonthlyFinancial(ctx context.Context, monthStart time.Time) (*MonthlyFinancial, error) {
	monthEnd := monthStart.AddDate(0, 1, 0)
	out := MonthlyFinancial{MonthStart: monthStart}

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name,
			COALESCE(sum(p.amount) FILTER (WHERE p.due_date >= $1 AND p.due_date < $2), 0) AS billed,
			COALESCE(sum(p.amount) FILTER (WHERE p.status = 'paid' AND p.paid_at >= $1 AND p.paid_at < $2), 0) AS collected,
			COALESCE(sum(p.amount) FILTER (WHERE p.status = 'pending' AND p.due_date < $2), 0) AS outstanding
		FROM clients c
		JOIN payments p ON p.client_id = c.id
		GROUP BY c.id, c.name
		HAVING count(p.id) FILTER (WHERE p.due_date < $2) > 0
		ORDER BY c.name`, monthStart, monthEnd)
	if err != nil {
		return nil, fmt.Errorf("monthly financial: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b ClientBalance
		if err := rows.Scan(&b.ClientID, &b.ClientName, &b.Billed, &b.Collected, &b.Outstanding); err != nil {
			return nil, fmt.Errorf("scan client balance: %w", err)
		}
		out.Billed += b.Billed
		out.Collected += b.Collected
		out.Clients = append(out.Clients, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monthly financial: %w", err)
	}
	return &out, nil
}

// SaveReport persists a generated report body for later retrieval.
func (s *Store) SaveReport(ctx context.Context, kind string, periodStart, periodEnd time.Time, body json.RawMessage) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reports (id, kind, period_start, period_end, body)
		VALUES ($1, $2, $3, $4, $5)`,
		id, kind, periodStart, periodEnd, body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save report: %w", err)
	}
	return id, nil
}
