// Package store is the read-mostly data access layer over the Nexa domain
// schema (clients, projects, milestones, payments, stock). Handlers read
// entities by id and run the aggregate queries behind the report jobs; the
// job queue itself lives in internal/queue.
//
// Lookup methods return (nil, nil) when the entity does not exist, so a
// stale job reference is a no-op for its handler, not an error.
package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the central data access object backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool, e.g. for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Client is a customer of the construction company. Email and Phone are the
// notification endpoints used by the alert handlers.
type Client struct {
	ID    uuid.UUID
	Name  string
	Email string
	Phone string
}

// Project statuses.
const (
	ProjectActive    = "active"
	ProjectDelivered = "delivered"
)

// Project is one construction project belonging to a client.
type Project struct {
	ID           uuid.UUID
	ClientID     uuid.UUID
	Name         string
	Status       string
	DeliveryDate *time.Time
}

// Milestone statuses.
const (
	MilestonePending = "pending"
	MilestoneDone    = "done"
)

// Milestone is a planned stage of a project.
type Milestone struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	Name        string
	Status      string
	PlannedDate time.Time
}

// Payment statuses.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// Payment is one scheduled payment for a project.
type Payment struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	ClientID  uuid.UUID
	Concept   string
	Amount    float64
	Status    string
	DueDate   *time.Time
	PaidAt    *time.Time
}

// StockItem is one tracked material with a reorder threshold.
type StockItem struct {
	ID           uuid.UUID
	SKU          string
	Name         string
	Unit         string
	Quantity     int
	Minimum      int
	LeadTimeDays int
	Active       bool
}

// Low reports whether the item is below its reorder threshold.
func (i StockItem) Low() bool { return i.Quantity < i.Minimum }
