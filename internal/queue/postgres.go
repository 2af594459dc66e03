// ABOUTME: Production Queue over one jobs table; claims via FOR UPDATE SKIP LOCKED CTE.
// ABOUTME: Dedupe rides a partial unique index; List builds dynamic filters with squirrel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the production Queue: one `jobs` table, claims via
// FOR UPDATE SKIP LOCKED so concurrent workers never receive the same row.
type Postgres struct {
	pool     *pgxpool.Pool
	backoff  Backoff
	lockedBy string
}

// NewPostgres creates a Postgres queue. lockedBy identifies this process in
// the locked_by column of claimed rows (typically a per-process UUID).
func NewPostgres(pool *pgxpool.Pool, backoff Backoff, lockedBy string) *Postgres {
	return &Postgres{pool: pool, backoff: backoff, lockedBy: lockedBy}
}

const jobColumns = `id, queue, kind, payload, not_before, attempts, max_attempts,
	state, recurrence, dedupe_key, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.Queue, &j.Kind, &j.Payload, &j.NotBefore,
		&j.Attempts, &j.MaxAttempts, &j.State, &j.Recurrence, &j.DedupeKey,
		&j.LastError, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

func (p *Postgres) Enqueue(ctx context.Context, job Job) (uuid.UUID, error) {
	id, _, err := p.insert(ctx, job, "")
	return id, err
}

func (p *Postgres) EnqueueUnique(ctx context.Context, job Job, key string) (uuid.UUID, bool, error) {
	return p.insert(ctx, job, key)
}

func (p *Postgres) insert(ctx context.Context, job Job, key string) (uuid.UUID, bool, error) {
	if err := normalize(&job, time.Now()); err != nil {
		return uuid.Nil, false, err
	}
	job.DedupeKey = key

	payload := job.Payload
	if payload == nil {
		payload = []byte("{}")
	}

	// The partial unique index jobs_dedupe_active enforces at most one
	// non-terminal job per dedupe key; conflicting inserts return no row.
	row := p.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, queue, kind, payload, not_before, attempts,
			max_attempts, state, recurrence, dedupe_key, last_error)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, '')
		ON CONFLICT (dedupe_key) WHERE dedupe_key <> '' AND state IN ('pending', 'inflight')
		DO NOTHING
		RETURNING id`,
		job.ID, job.Queue, job.Kind, payload, job.NotBefore,
		job.MaxAttempts, StatePending, job.Recurrence, job.DedupeKey)

	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil // dedupe conflict
		}
		return uuid.Nil, false, fmt.Errorf("enqueue job: %w", err)
	}
	return id, true, nil
}

func (p *Postgres) DequeueReady(ctx context.Context, queue string, maxN int) ([]Job, error) {
	rows, err := p.pool.Query(ctx, `
		WITH ready AS (
			SELECT id FROM jobs
			WHERE queue = $1 AND state = 'pending' AND not_before <= now()
			ORDER BY not_before, seq
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET state = 'inflight', attempts = j.attempts + 1,
		    locked_at = now(), locked_by = $3, updated_at = now()
		FROM ready
		WHERE j.id = ready.id
		RETURNING j.seq, j.id, j.queue, j.kind, j.payload, j.not_before, j.attempts,
			j.max_attempts, j.state, j.recurrence, j.dedupe_key, j.last_error,
			j.created_at, j.updated_at`,
		queue, maxN, p.lockedBy)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	type claimedJob struct {
		seq int64
		job Job
	}
	var claimed []claimedJob
	for rows.Next() {
		var c claimedJob
		err := rows.Scan(&c.seq, &c.job.ID, &c.job.Queue, &c.job.Kind, &c.job.Payload,
			&c.job.NotBefore, &c.job.Attempts, &c.job.MaxAttempts, &c.job.State,
			&c.job.Recurrence, &c.job.DedupeKey, &c.job.LastError,
			&c.job.CreatedAt, &c.job.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	// UPDATE ... FROM does not honor the CTE ordering; re-sort for callers.
	// seq tie-breaks equal not_before values in enqueue order.
	sort.Slice(claimed, func(a, b int) bool {
		if !claimed[a].job.NotBefore.Equal(claimed[b].job.NotBefore) {
			return claimed[a].job.NotBefore.Before(claimed[b].job.NotBefore)
		}
		return claimed[a].seq < claimed[b].seq
	})
	out := make([]Job, len(claimed))
	for i, c := range claimed {
		out[i] = c.job
	}
	return out, nil
}

func (p *Postgres) Ack(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'succeeded', locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE id = $1 AND state = 'inflight'`, id)
	if err != nil {
		return fmt.Errorf("ack job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Nack(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("nack job %s: begin: %w", id, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var attempts, maxAttempts int
	err = tx.QueryRow(ctx,
		`SELECT attempts, max_attempts FROM jobs WHERE id = $1 AND state = 'inflight' FOR UPDATE`,
		id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("nack job %s: %w", id, err)
	}

	// attempts was charged at claim time; exhaustion means this execution
	// was the last permitted one.
	if attempts >= maxAttempts {
		_, err = tx.Exec(ctx, `
			UPDATE jobs
			SET state = 'failed', last_error = $2,
			    locked_at = NULL, locked_by = NULL, updated_at = now()
			WHERE id = $1`, id, msg)
	} else {
		delay := p.backoff.Delay(attempts)
		_, err = tx.Exec(ctx, `
			UPDATE jobs
			SET state = 'pending', last_error = $2,
			    not_before = now() + $3,
			    locked_at = NULL, locked_by = NULL, updated_at = now()
			WHERE id = $1`, id, msg, delay)
	}
	if err != nil {
		return fmt.Errorf("nack job %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET state = 'cancelled', updated_at = now()
		WHERE id = $1 AND state = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := scanJob(p.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &j, nil
}

func (p *Postgres) List(ctx context.Context, filter ListFilter) ([]Job, error) {
	q := sq.Select("id", "queue", "kind", "payload", "not_before", "attempts",
		"max_attempts", "state", "recurrence", "dedupe_key", "last_error",
		"created_at", "updated_at").
		From("jobs").
		OrderBy("updated_at DESC", "id").
		PlaceholderFormat(sq.Dollar)
	if filter.Queue != "" {
		q = q.Where(sq.Eq{"queue": filter.Queue})
	}
	if filter.State != "" {
		q = q.Where(sq.Eq{"state": filter.State})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit)) //nolint:gosec // G115: limit is validated small
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list jobs: build query: %w", err)
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (p *Postgres) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	// Claims charge the attempt up front, so a job orphaned on its last
	// permitted attempt must fail here: re-pending it would make the next
	// claim trip the attempts <= max_attempts constraint.
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs
		SET state = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
		    last_error = CASE WHEN attempts >= max_attempts THEN 'worker lost mid-execution' ELSE last_error END,
		    locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE state = 'inflight' AND locked_at < now() - $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) PruneHistory(ctx context.Context, queue string, keepSucceeded, keepFailed int) (int, error) {
	total := 0
	for _, retain := range []struct {
		state State
		keep  int
	}{
		{StateSucceeded, keepSucceeded},
		{StateFailed, keepFailed},
	} {
		tag, err := p.pool.Exec(ctx, `
			DELETE FROM jobs
			WHERE queue = $1 AND state = $2 AND id NOT IN (
				SELECT id FROM jobs
				WHERE queue = $1 AND state = $2
				ORDER BY updated_at DESC
				LIMIT $3
			)`, queue, retain.state, retain.keep)
		if err != nil {
			return total, fmt.Errorf("prune %s jobs: %w", retain.state, err)
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

var _ Queue = (*Postgres)(nil)
