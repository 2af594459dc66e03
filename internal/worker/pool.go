package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcastro2021/nexa-worker/internal/queue"
	"github.com/mcastro2021/nexa-worker/internal/schedule"
)

const (
	defaultPollInterval = 2 * time.Second

	// staleCheckInterval is how often the recovery goroutine runs.
	staleCheckInterval = 1 * time.Minute

	// staleThreshold is the age at which an inflight job is considered
	// orphaned by a crashed worker.
	staleThreshold = 5 * time.Minute

	pruneInterval = 5 * time.Minute
)

// QueueConfig describes one drained queue: its executor cap and how much
// terminal history it retains.
type QueueConfig struct {
	Name          string
	Concurrency   int
	KeepSucceeded int
	KeepFailed    int
}

// DefaultQueues carries the per-queue caps and retention of the original
// deployment: alerts 5 slots, notifications 3, reports 2.
func DefaultQueues() []QueueConfig {
	return []QueueConfig{
		{Name: queue.QueueAlerts, Concurrency: 5, KeepSucceeded: 100, KeepFailed: 50},
		{Name: queue.QueueNotifications, Concurrency: 3, KeepSucceeded: 100, KeepFailed: 50},
		{Name: queue.QueueReports, Concurrency: 2, KeepSucceeded: 50, KeepFailed: 25},
	}
}

// Pool drains the configured queues with bounded per-queue concurrency.
// One polling goroutine runs per queue; claimed jobs execute in their own
// goroutines up to the queue's slot cap. Errors are contained per job: a
// failing handler never stops the polling loop or sibling executions.
type Pool struct {
	q        queue.Queue
	reg      *Registry
	queues   []QueueConfig
	poll     time.Duration
	workerID string
	log      *slog.Logger
	wg       sync.WaitGroup
}

// New creates a Pool over q draining the given queues. A random workerID is
// generated to distinguish this process in logs.
func New(q queue.Queue, reg *Registry, queues []QueueConfig) *Pool {
	return &Pool{
		q:        q,
		reg:      reg,
		queues:   queues,
		poll:     defaultPollInterval,
		workerID: uuid.New().String(),
		log:      slog.Default(),
	}
}

// SetPollInterval overrides the claim tick. Call before Start.
func (p *Pool) SetPollInterval(d time.Duration) { p.poll = d }

// Start launches one polling goroutine per queue plus the stale-recovery and
// retention goroutines, then blocks until ctx is cancelled. On cancellation
// no new jobs are claimed, in-flight jobs run to completion (ack/nack
// included), and Start returns once every goroutine has exited.
func (p *Pool) Start(ctx context.Context) {
	var loops sync.WaitGroup

	for _, qc := range p.queues {
		loops.Add(1)
		go func(qc QueueConfig) {
			defer loops.Done()
			p.runQueue(ctx, qc)
		}(qc)
	}

	loops.Add(1)
	go func() {
		defer loops.Done()
		p.runStaleRecovery(ctx)
	}()

	loops.Add(1)
	go func() {
		defer loops.Done()
		p.runRetention(ctx)
	}()

	loops.Wait()
	p.wg.Wait() // in-flight jobs drain before Start returns
	p.log.Info("worker pool stopped", "worker_id", p.workerID)
}

// runQueue polls one queue until ctx is cancelled. Uses time.NewTicker (not
// time.After) to avoid timer leaks.
func (p *Pool) runQueue(ctx context.Context, qc QueueConfig) {
	sem := make(chan struct{}, qc.Concurrency)
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	p.log.Info("worker queue started",
		"queue", qc.Name, "concurrency", qc.Concurrency, "worker_id", p.workerID)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("worker queue stopping", "queue", qc.Name)
			return
		case <-ticker.C:
			p.claimTick(ctx, qc, sem)
		}
	}
}

// claimTick claims up to the number of free executor slots and dispatches
// each job. With zero free slots nothing is claimed: ready jobs stay pending
// until a slot opens (back-pressure, no job is dropped).
func (p *Pool) claimTick(ctx context.Context, qc QueueConfig, sem chan struct{}) {
	free := qc.Concurrency - len(sem)
	if free <= 0 {
		return
	}

	jobs, err := p.q.DequeueReady(ctx, qc.Name, free)
	if err != nil {
		p.log.Error("claim jobs failed", "queue", qc.Name, "error", err)
		return
	}

	for _, job := range jobs {
		sem <- struct{}{}
		p.wg.Add(1)
		go func(job queue.Job) {
			defer func() { <-sem }()
			defer p.wg.Done()
			p.execute(ctx, job)
		}(job)
	}
}

// RunOnce performs a single claim pass over every queue and waits for the
// dispatched jobs to finish. Tests only.
func (p *Pool) RunOnce(ctx context.Context) {
	for _, qc := range p.queues {
		sem := make(chan struct{}, qc.Concurrency)
		p.claimTick(ctx, qc, sem)
	}
	p.wg.Wait()
}

// execute runs one claimed job and settles it. All failure modes are
// absorbed here; nothing propagates to the polling loop.
func (p *Pool) execute(ctx context.Context, job queue.Job) {
	// Detach from the pool context: a claimed job runs to completion and is
	// settled even while the process is shutting down (graceful drain).
	ctx = context.WithoutCancel(ctx)

	jobsInFlight.WithLabelValues(job.Queue).Inc()
	defer jobsInFlight.WithLabelValues(job.Queue).Dec()

	h, ok := p.reg.Get(job.Kind)
	if !ok {
		p.log.Warn("no handler for job kind, dropping",
			"queue", job.Queue, "kind", job.Kind, "job_id", job.ID)
		p.settle(ctx, job, resultDropped, nil)
		return
	}

	p.log.Info("executing job",
		"queue", job.Queue, "kind", job.Kind, "job_id", job.ID, "attempt", job.Attempts)

	err := p.run(ctx, h, job)

	switch {
	case err == nil:
		p.settle(ctx, job, resultSucceeded, nil)
	case IsPermanent(err):
		p.log.Error("job failed permanently, dropping",
			"queue", job.Queue, "kind", job.Kind, "job_id", job.ID, "error", err)
		p.settle(ctx, job, resultDropped, nil)
	default:
		exhausted := job.Attempts >= job.MaxAttempts
		p.log.Error("job handler failed",
			"queue", job.Queue, "kind", job.Kind, "job_id", job.ID,
			"attempt", job.Attempts, "exhausted", exhausted, "error", err)
		p.settle(ctx, job, resultRetried, err)
	}
}

// run invokes h, converting a panic into an error so one bad handler cannot
// take down sibling in-flight jobs.
func (p *Pool) run(ctx context.Context, h Handler, job queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job.Payload)
}

// settle acks or nacks the job and, for recurring jobs reaching a terminal
// state, enqueues the next occurrence.
func (p *Pool) settle(ctx context.Context, job queue.Job, result string, cause error) {
	terminal := true
	switch result {
	case resultSucceeded, resultDropped:
		if err := p.q.Ack(ctx, job.ID); err != nil {
			p.log.Error("ack failed", "job_id", job.ID, "error", err)
		}
		if result == resultSucceeded {
			p.log.Info("job completed", "queue", job.Queue, "kind", job.Kind, "job_id", job.ID)
		}
	default:
		if err := p.q.Nack(ctx, job.ID, cause); err != nil {
			p.log.Error("nack failed", "job_id", job.ID, "error", err)
		}
		if job.Attempts >= job.MaxAttempts {
			result = resultFailed
		} else {
			terminal = false
		}
	}
	jobsProcessed.WithLabelValues(job.Queue, job.Kind, result).Inc()

	if terminal && job.Recurrence != "" {
		p.enqueueNextOccurrence(ctx, job)
	}
}

// enqueueNextOccurrence schedules the successor of a terminal recurring job.
// The occurrence-stamped dedupe key makes this idempotent with the
// scheduler's own ensure tick.
func (p *Pool) enqueueNextOccurrence(ctx context.Context, job queue.Job) {
	next, err := schedule.NextOccurrence(job.Recurrence, time.Now())
	if err != nil {
		p.log.Error("invalid recurrence pattern on job",
			"job_id", job.ID, "pattern", job.Recurrence, "error", err)
		return
	}
	successor := queue.Job{
		Queue:      job.Queue,
		Kind:       job.Kind,
		Payload:    job.Payload,
		NotBefore:  next,
		Recurrence: job.Recurrence,
	}
	key := schedule.OccurrenceKey(job.Queue, job.Kind, next)
	if _, created, err := p.q.EnqueueUnique(ctx, successor, key); err != nil {
		p.log.Error("enqueue next occurrence failed",
			"queue", job.Queue, "kind", job.Kind, "error", err)
	} else if created {
		p.log.Info("next occurrence scheduled",
			"queue", job.Queue, "kind", job.Kind, "run_at", next)
	}
}

// runStaleRecovery periodically resets jobs orphaned in inflight state, so a
// crash mid-execution never strands work permanently.
func (p *Pool) runStaleRecovery(ctx context.Context) {
	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.q.RecoverStale(ctx, staleThreshold)
			if err != nil {
				p.log.Error("stale job recovery failed", "error", err)
				continue
			}
			if n > 0 {
				staleRecovered.Add(float64(n))
				p.log.Info("reclaimed stale jobs", "count", n)
			}
		}
	}
}

// runRetention enforces the bounded terminal-job history per queue.
func (p *Pool) runRetention(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, qc := range p.queues {
				n, err := p.q.PruneHistory(ctx, qc.Name, qc.KeepSucceeded, qc.KeepFailed)
				if err != nil {
					p.log.Error("history prune failed", "queue", qc.Name, "error", err)
					continue
				}
				if n > 0 {
					p.log.Info("pruned job history", "queue", qc.Name, "deleted", n)
				}
			}
		}
	}
}
