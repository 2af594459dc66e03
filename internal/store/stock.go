// ABOUTME: Stock item reads for the stock-low alert: single lookup and the low-stock scan.
// ABOUTME: Only active items count; low means quantity <= minimum.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const stockColumns = `id, sku, name, unit, quantity, minimum, lead_time_days, active`

func scanStockItem(row pgx.Row) (StockItem, error) {
	var i StockItem
	err := row.Scan(&i.ID, &i.SKU, &i.Name, &i.Unit, &i.Quantity, &i.Minimum,
		&i.LeadTimeDays, &i.Active)
	return i, err
}

// GetStockItem returns the stock item with the given id, or (nil, nil) if it
// does not exist.
func (s *Store) GetStockItem(ctx context.Context, id uuid.UUID) (*StockItem, error) {
	i, err := scanStockItem(s.pool.QueryRow(ctx,
		`SELECT `+stockColumns+` FROM stock_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stock item %s: %w", id, err)
	}
	return &i, nil
}

// ListLowStockItems returns all active items below their reorder threshold.
func (s *Store) ListLowStockItems(ctx context.Context) ([]StockItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stockColumns+` FROM stock_items
		 WHERE active AND quantity < minimum
		 ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("list low stock items: %w", err)
	}
	defer rows.Close()

	var out []StockItem
	for rows.Next() {
		i, err := scanStockItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
