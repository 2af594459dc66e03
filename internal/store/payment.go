// ABOUTME: Payment reads for the payment-reminder alert: lookup plus the due/overdue scan.
// ABOUTME: Joins clients so handlers get routing (email, phone) in one query.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, project_id, client_id, concept, amount, status, due_date, paid_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.ProjectID, &p.ClientID, &p.Concept, &p.Amount,
		&p.Status, &p.DueDate, &p.PaidAt)
	return p, err
}

// GetPayment returns the payment with the given id, or (nil, nil) if it does
// not exist.
func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}
	return &p, nil
}

// ListPaymentsDueWithin returns pending payments whose due date falls in
// [asOf, asOf+days].
func (s *Store) ListPaymentsDueWithin(ctx context.Context, asOf time.Time, days int) ([]Payment, error) {
	until := asOf.AddDate(0, 0, days)
	rows, err := s.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = $1 AND due_date IS NOT NULL AND due_date >= $2 AND due_date <= $3
		 ORDER BY due_date`, PaymentPending, asOf, until)
	if err != nil {
		return nil, fmt.Errorf("list payments due: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
