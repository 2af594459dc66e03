// ABOUTME: Queue contract plus the retry Backoff policy shared by both implementations.
// ABOUTME: Claims charge the attempt; backoff is base*2^(n-1) with jitter, capped.
package queue

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the referenced job does not exist or is not
// in a state the operation accepts (e.g. Ack on a job that is not inflight).
var ErrNotFound = errors.New("job not found")

// Queue is the durable holding area for jobs. All claim operations are
// atomic: no two concurrent DequeueReady callers ever receive the same job.
type Queue interface {
	// Enqueue stores a new pending job and returns its ID. Rejects jobs with
	// an empty queue or kind with *ValidationError.
	Enqueue(ctx context.Context, job Job) (uuid.UUID, error)

	// EnqueueUnique is Enqueue guarded by a dedupe key: if a non-terminal job
	// with the same key already exists, nothing is stored and ok is false.
	EnqueueUnique(ctx context.Context, job Job, key string) (id uuid.UUID, ok bool, err error)

	// DequeueReady atomically claims up to maxN pending jobs of the named
	// queue whose NotBefore has elapsed, transitioning them to inflight.
	// Jobs are served earliest-NotBefore first, insertion order breaking ties.
	DequeueReady(ctx context.Context, queue string, maxN int) ([]Job, error)

	// Ack marks an inflight job succeeded.
	Ack(ctx context.Context, id uuid.UUID) error

	// Nack records a handler failure. Attempts was already charged when the
	// job was claimed; the job is rescheduled with exponential backoff, or
	// marked failed when attempts has reached MaxAttempts.
	Nack(ctx context.Context, id uuid.UUID, cause error) error

	// Cancel marks a pending job cancelled. Inflight and terminal jobs are
	// left untouched and ErrNotFound is returned.
	Cancel(ctx context.Context, id uuid.UUID) error

	// Get returns the job with the given ID, or (nil, nil) if it is unknown.
	Get(ctx context.Context, id uuid.UUID) (*Job, error)

	// List returns jobs matching filter, most recently updated first.
	List(ctx context.Context, filter ListFilter) ([]Job, error)

	// RecoverStale resets jobs stuck inflight longer than olderThan back to
	// pending, so work orphaned by a crashed worker is retried. A stale job
	// whose claimed attempt was its last permitted one is marked failed.
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)

	// PruneHistory deletes terminal jobs of the named queue beyond the
	// retention caps, oldest first. Returns the number deleted.
	PruneHistory(ctx context.Context, queue string, keepSucceeded, keepFailed int) (int, error)
}

// ListFilter narrows a List call. Zero values mean "any".
type ListFilter struct {
	Queue string
	State State
	Limit int
}

// Backoff computes retry delays: Base doubled per attempt, multiplied by a
// jitter factor in [0.5, 1.5), capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff matches the original pipeline: 1s base, 5m ceiling.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 5 * time.Minute}
}

// Delay returns the backoff delay before retry number attempt (attempt >= 1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	jitter := 0.5 + rand.Float64() //nolint:gosec // G404: backoff jitter is not security-sensitive
	delay := time.Duration(d * jitter)
	if delay > b.Max {
		delay = b.Max
	}
	return delay
}
