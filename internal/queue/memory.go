// ABOUTME: In-process Queue for unit tests and dev mode: mutex-guarded map, seq-ordered scans.
// ABOUTME: Mirrors the Postgres queue method for method, including dedupe and stale recovery.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Queue with the same claim semantics as the
// Postgres implementation. Used by unit tests and the local dev backend;
// contents do not survive a restart.
type Memory struct {
	backoff Backoff

	mu     sync.Mutex
	jobs   map[uuid.UUID]*memJob
	active map[string]uuid.UUID // dedupe key -> non-terminal job
	seq    uint64
}

type memJob struct {
	Job
	seq      uint64
	lockedAt time.Time
}

// NewMemory returns an empty in-memory queue using DefaultBackoff.
func NewMemory() *Memory {
	return &Memory{
		backoff: DefaultBackoff(),
		jobs:    make(map[uuid.UUID]*memJob),
		active:  make(map[string]uuid.UUID),
	}
}

// SetBackoff overrides the retry policy. Call before use; not safe
// concurrently with queue operations.
func (m *Memory) SetBackoff(b Backoff) { m.backoff = b }

func (m *Memory) Enqueue(_ context.Context, job Job) (uuid.UUID, error) {
	id, _, err := m.enqueue(job, "")
	return id, err
}

func (m *Memory) EnqueueUnique(_ context.Context, job Job, key string) (uuid.UUID, bool, error) {
	return m.enqueue(job, key)
}

func (m *Memory) enqueue(job Job, key string) (uuid.UUID, bool, error) {
	if err := normalize(&job, time.Now()); err != nil {
		return uuid.Nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if key != "" {
		if _, exists := m.active[key]; exists {
			return uuid.Nil, false, nil
		}
		job.DedupeKey = key
		m.active[key] = job.ID
	}
	m.seq++
	m.jobs[job.ID] = &memJob{Job: job, seq: m.seq}
	return job.ID, true, nil
}

func (m *Memory) DequeueReady(_ context.Context, queue string, maxN int) ([]Job, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	ready := make([]*memJob, 0, maxN)
	for _, j := range m.jobs {
		if j.Queue == queue && j.State == StatePending && !j.NotBefore.After(now) {
			ready = append(ready, j)
		}
	}
	sort.Slice(ready, func(a, b int) bool {
		if !ready[a].NotBefore.Equal(ready[b].NotBefore) {
			return ready[a].NotBefore.Before(ready[b].NotBefore)
		}
		return ready[a].seq < ready[b].seq
	})
	if len(ready) > maxN {
		ready = ready[:maxN]
	}

	claimed := make([]Job, 0, len(ready))
	for _, j := range ready {
		j.State = StateInFlight
		j.Attempts++ // attempts counts executions, charged at claim time
		j.lockedAt = now
		j.UpdatedAt = now
		claimed = append(claimed, j.Job)
	}
	return claimed, nil
}

func (m *Memory) Ack(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.State != StateInFlight {
		return ErrNotFound
	}
	m.settle(j, StateSucceeded)
	return nil
}

func (m *Memory) Nack(_ context.Context, id uuid.UUID, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.State != StateInFlight {
		return ErrNotFound
	}
	if cause != nil {
		j.LastError = cause.Error()
	}
	now := time.Now()
	if j.Attempts >= j.MaxAttempts {
		m.settle(j, StateFailed)
		return nil
	}
	j.State = StatePending
	j.NotBefore = now.Add(m.backoff.Delay(j.Attempts))
	j.UpdatedAt = now
	return nil
}

func (m *Memory) Cancel(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.State != StatePending {
		return ErrNotFound
	}
	m.settle(j, StateCancelled)
	return nil
}

// settle moves j to a terminal state and releases its dedupe key.
// Caller holds m.mu.
func (m *Memory) settle(j *memJob, s State) {
	j.State = s
	j.UpdatedAt = time.Now()
	if j.DedupeKey != "" {
		delete(m.active, j.DedupeKey)
	}
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := j.Job
	return &cp, nil
}

func (m *Memory) List(_ context.Context, filter ListFilter) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]*memJob, 0)
	for _, j := range m.jobs {
		if filter.Queue != "" && j.Queue != filter.Queue {
			continue
		}
		if filter.State != "" && j.State != filter.State {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].UpdatedAt.Equal(matched[b].UpdatedAt) {
			return matched[a].UpdatedAt.After(matched[b].UpdatedAt)
		}
		return matched[a].seq > matched[b].seq
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	out := make([]Job, len(matched))
	for i, j := range matched {
		out[i] = j.Job
	}
	return out, nil
}

func (m *Memory) RecoverStale(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.State != StateInFlight || !j.lockedAt.Before(cutoff) {
			continue
		}
		// A claim charged the attempt already. If the crashed execution was
		// the last permitted one, re-pending would let the next claim push
		// attempts past the ceiling; the job fails instead.
		if j.Attempts >= j.MaxAttempts {
			j.LastError = "worker lost mid-execution"
			m.settle(j, StateFailed)
		} else {
			j.State = StatePending
			j.UpdatedAt = time.Now()
		}
		n++
	}
	return n, nil
}

func (m *Memory) PruneHistory(_ context.Context, queue string, keepSucceeded, keepFailed int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.prune(queue, StateSucceeded, keepSucceeded)
	n += m.prune(queue, StateFailed, keepFailed)
	return n, nil
}

// prune deletes all but the keep most recent jobs of the given terminal
// state. Caller holds m.mu.
func (m *Memory) prune(queue string, s State, keep int) int {
	matched := make([]*memJob, 0)
	for _, j := range m.jobs {
		if j.Queue == queue && j.State == s {
			matched = append(matched, j)
		}
	}
	if len(matched) <= keep {
		return 0
	}
	sort.Slice(matched, func(a, b int) bool {
		return matched[a].UpdatedAt.After(matched[b].UpdatedAt)
	})
	victims := matched[keep:]
	for _, j := range victims {
		delete(m.jobs, j.ID)
	}
	return len(victims)
}

var _ Queue = (*Memory)(nil)
