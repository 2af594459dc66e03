// ABOUTME: Pool behavior tests on the memory queue: retries, permanence, panics, drain.
// ABOUTME: RunOnce drives jobs deterministically; Start/cancel covers the graceful path.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mcastro2021/nexa-worker/internal/queue"
	"github.com/mcastro2021/nexa-worker/internal/schedule"
	"github.com/mcastro2021/nexa-worker/internal/worker"
)

func newTestQueue() *queue.Memory {
	q := queue.NewMemory()
	q.SetBackoff(queue.Backoff{Base: time.Millisecond, Max: time.Millisecond})
	return q
}

func testQueues() []worker.QueueConfig {
	return []worker.QueueConfig{
		{Name: queue.QueueAlerts, Concurrency: 5, KeepSucceeded: 100, KeepFailed: 50},
	}
}

// drain runs claim passes until the job reaches a terminal state or the
// deadline expires. Bridges the millisecond retry backoff.
func drain(t *testing.T, p *worker.Pool, q queue.Queue, id uuid.UUID) queue.Job {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.RunOnce(ctx)
		job, err := q.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job == nil {
			t.Fatalf("job %s vanished", id)
		}
		if job.State.Terminal() {
			return *job
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s did not settle in time", id)
	return queue.Job{}
}

func TestPool_Success(t *testing.T) {
	t.Parallel()
	q := newTestQueue()
	reg := worker.NewRegistry()

	var got atomic.Value
	reg.Register(queue.KindStockLow, func(_ context.Context, payload json.RawMessage) error {
		got.Store(string(payload))
		return nil
	})
	p := worker.New(q, reg, testQueues())

	id, err := q.Enqueue(context.Background(), queue.Job{
		Queue: queue.QueueAlerts, Kind: queue.KindStockLow, Payload: json.RawMessage(`{"n":1}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job := drain(t, p, q, id)
	if job.State != queue.StateSucceeded {
		t.Errorf("state = %q, want succeeded", job.State)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
	if got.Load() != `{"n":1}` {
		t.Errorf("handler payload = %v, want {\"n\":1}", got.Load())
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	q := newTestQueue()
	reg := worker.NewRegistry()

	var calls atomic.Int32
	reg.Register(queue.KindStockLow, func(context.Context, json.RawMessage) error {
		if calls.Add(1) <= 2 {
			return errors.New("transient")
		}
		return nil
	})
	p := worker.New(q, reg, testQueues())

	id, _ := q.Enqueue(context.Background(), queue.Job{Queue: queue.QueueAlerts, Kind: queue.KindStockLow})
	job := drain(t, p, q, id)

	if job.State != queue.StateSucceeded {
		t.Errorf("state = %q, want succeeded", job.State)
	}
	if job.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", job.Attempts)
	}
	if calls.Load() != 3 {
		t.Errorf("handler ran %d times, want 3", calls.Load())
	}
}

func TestPool_ExhaustsAttempts(t *testing.T) {
	t.Parallel()
	q := newTestQueue()
	reg := worker.NewRegistry()

	var calls atomic.Int32
	reg.Register(queue.KindStockLow, func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return errors.New("still broken")
	})
	p := worker.New(q, reg, testQueues())

	id, _ := q.Enqueue(context.Background(), queue.Job{Queue: queue.QueueAlerts, Kind: queue.KindStockLow})
	job := drain(t, p, q, id)

	if job.State != queue.StateFailed {
		t.Errorf("state = %q, want failed", job.State)
	}
	if job.Attempts != queue.DefaultMaxAttempts {
		t.Errorf("attempts = %d, want %d", job.Attempts, queue.DefaultMaxAttempts)
	}
	if calls.Load() != queue.DefaultMaxAttempts {
		t.Errorf("handler ran %d times, want %d", calls.Load(), queue.DefaultMaxAttempts)
	}
	if job.LastError == "" {
		t.Error("last_error not recorded")
	}
}

func TestPool_PermanentErrorDoesNotRetry(t *testing.T) {
	t.Parallel()
	q := newTestQueue()
	reg := worker.NewRegistry()

	var calls atomic.Int32
	reg.Register(queue.KindStockLow, func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return worker.Permanentf("payload is garbage")
	})
	p := worker.New(q, reg, testQueues())

	id, _ := q.Enqueue(context.Background(), queue.Job{Queue: queue.QueueAlerts, Kind: queue.KindStockLow})
	job := drain(t, p, q, id)

	if job.State != queue.StateSucceeded {
		t.Errorf("state = %q, want succeeded (acked, not rescheduled)", job.State)
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", calls.Load())
	}
}

func TestPool_PanicIsRetriable(t *testing.T) {
	t.Parallel()
	q := newTestQueue()
	reg := worker.NewRegistry()

	reg.Register(queue.KindStockLow, func(context.Context, json.RawMessage) error {
		panic("nil map write or similar")
	})
	p := worker.New(q, reg, testQueues())

	id, _ := q.Enqueue(context.Background(), queue.Job{Queue: queue.QueueAlerts, Kind: queue.KindStockLow})
	job := drain(t, p, q, id)

	if job.State != queue.StateFailed {
		t.Errorf("state = %q, want failed after exhausting retries", job.State)
	}
	if job.Attempts != queue.DefaultMaxAttempts {
		t.Errorf("attempts = %d, want %d", job.Attempts, queue.DefaultMaxAttempts)
	}
}

func TestPool_UnknownKindIsDropped(t *testing.T) {
	t.Parallel()
	q := newTestQueue()
	p := worker.New(q, worker.NewRegistry(), testQueues())

	id, _ := q.Enqueue(context.Background(), queue.Job{Queue: queue.QueueAlerts, Kind: "no-such-kind"})
	job := drain(t, p, q, id)

	if job.State != queue.StateSucceeded {
		t.Errorf("state = %q, want succeeded (unknown kinds are acked)", job.State)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
}

func TestPool_RecurringJobEnqueuesSuccessor(t *testing.T) {
	t.Parallel()
	q := newTestQueue()
	ctx := context.Background()
	reg := worker.NewRegistry()
	reg.Register(queue.KindMaintenanceCheck, func(context.Context, json.RawMessage) error {
		return nil
	})
	p := worker.New(q, reg, testQueues())

	id, _ := q.Enqueue(ctx, queue.Job{
		Queue:      queue.QueueAlerts,
		Kind:       queue.KindMaintenanceCheck,
		Recurrence: "0 * * * *",
	})
	job := drain(t, p, q, id)
	if job.State != queue.StateSucceeded {
		t.Fatalf("state = %q, want succeeded", job.State)
	}

	pending, err := q.List(ctx, queue.ListFilter{Queue: queue.QueueAlerts, State: queue.StatePending})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending successors = %d, want 1", len(pending))
	}
	succ := pending[0]
	if succ.Kind != queue.KindMaintenanceCheck {
		t.Errorf("successor kind = %q", succ.Kind)
	}
	if succ.Recurrence != "0 * * * *" {
		t.Errorf("successor recurrence = %q", succ.Recurrence)
	}
	if !succ.NotBefore.After(time.Now()) {
		t.Errorf("successor not_before = %v, want in the future", succ.NotBefore)
	}

	// A scheduler tick targeting the same occurrence must collide with the
	// successor's dedupe key instead of creating a duplicate.
	key := schedule.OccurrenceKey(queue.QueueAlerts, queue.KindMaintenanceCheck, succ.NotBefore)
	_, created, err := q.EnqueueUnique(ctx, queue.Job{
		Queue:      queue.QueueAlerts,
		Kind:       queue.KindMaintenanceCheck,
		NotBefore:  succ.NotBefore,
		Recurrence: "0 * * * *",
	}, key)
	if err != nil {
		t.Fatalf("EnqueueUnique: %v", err)
	}
	if created {
		t.Error("scheduler-style enqueue duplicated the successor occurrence")
	}
}

func TestPool_GracefulDrain(t *testing.T) {
	t.Parallel()
	q := newTestQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	reg := worker.NewRegistry()
	reg.Register(queue.KindStockLow, func(context.Context, json.RawMessage) error {
		close(started)
		time.Sleep(150 * time.Millisecond)
		return nil
	})
	p := worker.New(q, reg, testQueues())
	p.SetPollInterval(10 * time.Millisecond)

	id, _ := q.Enqueue(context.Background(), queue.Job{Queue: queue.QueueAlerts, Kind: queue.KindStockLow})

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job was never claimed")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}

	// The in-flight job must have finished and been acked despite shutdown.
	job, err := q.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.State != queue.StateSucceeded {
		t.Errorf("state after drain = %q, want succeeded", job.State)
	}
}

func TestPermanentErrorWrapping(t *testing.T) {
	t.Parallel()

	base := errors.New("bad address")
	wrapped := worker.Permanent(fmt.Errorf("send: %w", base))
	if !worker.IsPermanent(wrapped) {
		t.Error("IsPermanent(Permanent(err)) = false")
	}
	if !worker.IsPermanent(fmt.Errorf("outer: %w", wrapped)) {
		t.Error("IsPermanent lost through wrapping")
	}
	if !errors.Is(wrapped, base) {
		t.Error("Permanent broke the error chain")
	}
	if worker.IsPermanent(errors.New("plain")) {
		t.Error("IsPermanent(plain error) = true")
	}
	if worker.Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
}
