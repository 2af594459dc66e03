// Package queue defines the durable job queue used by the alert pipeline:
// the Job record, the Queue contract with atomic claim semantics, and the
// retry backoff policy. Two implementations exist: Postgres (production,
// FOR UPDATE SKIP LOCKED) and in-memory (tests and local development).
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Job.
type State string

const (
	StatePending   State = "pending"
	StateInFlight  State = "inflight"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s permits no further automatic transition.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Logical queue names. Concurrency caps per queue live in config.
const (
	QueueAlerts        = "alerts"
	QueueNotifications = "notifications"
	QueueReports       = "reports"
)

// Job kinds, one per registered handler.
const (
	KindStockLow         = "stock-low"
	KindProjectDelay     = "project-delay"
	KindPaymentReminder  = "payment-reminder"
	KindMaintenanceCheck = "maintenance-check"

	KindEmail    = "email"
	KindWhatsApp = "whatsapp"
	KindSMS      = "sms"

	KindDailySummary     = "daily-summary"
	KindWeeklyKPIs       = "weekly-kpis"
	KindMonthlyFinancial = "monthly-financial"
)

// DefaultMaxAttempts is the attempt ceiling applied when a job is enqueued
// without an explicit one.
const DefaultMaxAttempts = 3

// Job is one unit of background work. Identity and scheduling fields are
// fixed at enqueue time; State, Attempts and LastError are mutated by the
// worker pool through the Queue methods, never directly.
type Job struct {
	ID          uuid.UUID
	Queue       string
	Kind        string
	Payload     json.RawMessage
	NotBefore   time.Time
	Attempts    int
	MaxAttempts int
	State       State
	// Recurrence is an optional 5-field cron pattern. When set, terminal
	// completion causes a new Job to be enqueued for the next occurrence;
	// the historical record itself is never reused.
	Recurrence string
	// DedupeKey suppresses duplicate enqueues: at most one non-terminal job
	// with a given key may exist. Empty means no deduplication.
	DedupeKey string
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidationError reports a bad job submitted to Enqueue. It is returned
// synchronously; the job is never stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job: %s %s", e.Field, e.Reason)
}

// normalize validates j and fills defaults in place. Called by both queue
// implementations at the top of Enqueue.
func normalize(j *Job, now time.Time) error {
	if j.Queue == "" {
		return &ValidationError{Field: "queue", Reason: "must not be empty"}
	}
	if j.Kind == "" {
		return &ValidationError{Field: "kind", Reason: "must not be empty"}
	}
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.NotBefore.IsZero() {
		j.NotBefore = now
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	j.State = StatePending
	j.Attempts = 0
	j.CreatedAt = now
	j.UpdatedAt = now
	return nil
}
