// ABOUTME: Scheduler tick: ensures one pending job per rule occurrence via dedupe keys.
// ABOUTME: Keys are occurrence-stamped (queue/kind@RFC3339) so restarts and workers stay idempotent.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcastro2021/nexa-worker/internal/queue"
)

// Rule binds a cron pattern to a job that should exist once per occurrence.
type Rule struct {
	Queue   string
	Kind    string
	Pattern string
}

// DefaultRules is the fixed recurrence table of the pipeline, carried over
// from the original deployment: hourly maintenance sweep, daily summary at
// 08:00, weekly KPIs Monday 09:00, monthly financial report on the 1st at
// 10:00.
func DefaultRules() []Rule {
	return []Rule{
		{Queue: queue.QueueAlerts, Kind: queue.KindMaintenanceCheck, Pattern: "0 * * * *"},
		{Queue: queue.QueueReports, Kind: queue.KindDailySummary, Pattern: "0 8 * * *"},
		{Queue: queue.QueueReports, Kind: queue.KindWeeklyKPIs, Pattern: "0 9 * * 1"},
		{Queue: queue.QueueReports, Kind: queue.KindMonthlyFinancial, Pattern: "0 10 1 * *"},
	}
}

// Scheduler ensures that, for every rule, a job for the next pattern
// occurrence exists in the queue. Enqueues are idempotent: the dedupe key
// embeds the occurrence timestamp, so re-running a tick (or restarting the
// process mid-interval) never creates a duplicate. A worker that completes
// a recurring job enqueues the successor the same way, so the scheduler and
// the pool agree on keys.
type Scheduler struct {
	q     queue.Queue
	rules []Rule
	tick  time.Duration
	now   func() time.Time
	log   *slog.Logger
}

// New creates a Scheduler over q with the given rules. Invalid patterns are
// rejected here rather than at tick time.
func New(q queue.Queue, rules []Rule) (*Scheduler, error) {
	for _, r := range rules {
		if _, err := NextOccurrence(r.Pattern, time.Now()); err != nil {
			return nil, fmt.Errorf("rule %s/%s: %w", r.Queue, r.Kind, err)
		}
	}
	return &Scheduler{
		q:     q,
		rules: rules,
		tick:  30 * time.Second,
		now:   time.Now,
		log:   slog.Default(),
	}, nil
}

// SetNow overrides the clock. Tests only.
func (s *Scheduler) SetNow(now func() time.Time) { s.now = now }

// Start runs the ensure loop until ctx is cancelled. The first tick runs
// immediately so recurring jobs exist as soon as the process is up.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("scheduler started", "rules", len(s.rules))
	if err := s.Tick(ctx); err != nil {
		s.log.Error("scheduler tick failed", "error", err)
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick ensures one pending job per rule for the next occurrence after now.
// Safe to call repeatedly; only missing occurrences are enqueued.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()
	for _, r := range s.rules {
		next, err := NextOccurrence(r.Pattern, now)
		if err != nil {
			return err // unreachable for rules validated in New
		}
		job := queue.Job{
			Queue:      r.Queue,
			Kind:       r.Kind,
			NotBefore:  next,
			Recurrence: r.Pattern,
		}
		id, created, err := s.q.EnqueueUnique(ctx, job, OccurrenceKey(r.Queue, r.Kind, next))
		if err != nil {
			return fmt.Errorf("ensure %s/%s: %w", r.Queue, r.Kind, err)
		}
		if created {
			s.log.Info("recurring job scheduled",
				"queue", r.Queue, "kind", r.Kind, "job_id", id, "run_at", next)
		}
	}
	return nil
}

// OccurrenceKey is the dedupe key for one occurrence of a recurring job.
// Shared with the worker pool, which enqueues the successor occurrence when
// a recurring job reaches a terminal state.
func OccurrenceKey(queueName, kind string, occurrence time.Time) string {
	return fmt.Sprintf("%s/%s@%s", queueName, kind, occurrence.UTC().Format(time.RFC3339))
}
