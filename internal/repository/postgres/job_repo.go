package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goshlabs/onboarding-pipeline/internal/domain/job"
)

var _ job.Repo = (*JobRepo)(nil)

type JobRepo struct{ db *DB }

func NewJobRepo(db *DB) *JobRepo { return &JobRepo{db: db} }

const (
	qJobEnqueue = `
INSERT INTO jobs (id, queue, payload, status, max_retries, backoff_kind, backoff_delay_ms, next_attempt_at)
VALUES ($1, $2, $3, 'WAITING', $4, $5, $6, NOW())
ON CONFLICT (id) DO NOTHING;`

	// Claims due jobs FIFO. A job stuck in ACTIVE longer than the TTL is
	// treated as abandoned by a dead worker and reclaimed.
	qJobPick = `
WITH cand AS (
   SELECT id
   FROM jobs
   WHERE queue = $1
     AND (
          (status IN ('WAITING', 'RETRYING') AND next_attempt_at <= NOW())
       OR (status = 'ACTIVE' AND updated_at < NOW() - $3::interval)
     )
   ORDER BY created_at
   LIMIT $2
   FOR UPDATE SKIP LOCKED
), upd AS (
   UPDATE jobs j
   SET status = 'ACTIVE', attempts = j.attempts + 1, updated_at = NOW()
   FROM cand
   WHERE j.id = cand.id
   RETURNING j.id, j.queue, j.payload, j.attempts, j.max_retries,
             j.backoff_kind, j.backoff_delay_ms, j.status, j.next_attempt_at,
             j.last_error, j.created_at, j.updated_at
)
SELECT id, queue, payload, attempts, max_retries,
       backoff_kind, backoff_delay_ms, status, next_attempt_at,
       last_error, created_at, updated_at
FROM upd
ORDER BY created_at;`

	qJobMarkSucceeded = `
UPDATE jobs
SET status = 'SUCCEEDED', updated_at = NOW()
WHERE id = ANY($1) AND status = 'ACTIVE';`

	qJobMarkRetrying = `
UPDATE jobs
SET status = 'RETRYING', next_attempt_at = $2, last_error = $3, updated_at = NOW()
WHERE id = $1 AND status = 'ACTIVE';`

	qJobMarkFailed = `
UPDATE jobs
SET status = 'FAILED', last_error = $2, updated_at = NOW()
WHERE id = $1 AND status = 'ACTIVE';`
)

func (r *JobRepo) Enqueue(ctx context.Context, j *job.Job) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	_, err := eq.Exec(ctx, qJobEnqueue,
		j.ID, j.Queue, j.Payload, j.MaxRetries,
		string(j.Backoff.Kind), j.Backoff.Delay.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("job enqueue: %w", err)
	}
	return nil
}

func (r *JobRepo) PickBatch(ctx context.Context, queue string, batch int, activeTTL time.Duration) ([]job.Job, error) {
	if batch <= 0 {
		return nil, errors.New("batch must be > 0")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	ttl := fmt.Sprintf("%f seconds", activeTTL.Seconds())
	rows, err := r.db.Pool.Query(ctx, qJobPick, queue, batch, ttl)
	if err != nil {
		return nil, fmt.Errorf("job pick: %w", err)
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		var (
			j       job.Job
			status  string
			kind    string
			delayMS int64
		)
		if err := rows.Scan(
			&j.ID, &j.Queue, &j.Payload, &j.Attempts, &j.MaxRetries,
			&kind, &delayMS, &status, &j.NextAttemptAt,
			&j.LastError, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("job scan: %w", err)
		}
		j.Status = job.Status(status)
		j.Backoff = job.Backoff{Kind: job.BackoffKind(kind), Delay: time.Duration(delayMS) * time.Millisecond}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobRepo) MarkSucceeded(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qJobMarkSucceeded, ids); err != nil {
		return fmt.Errorf("job mark succeeded: %w", err)
	}
	return nil
}

func (r *JobRepo) MarkRetrying(ctx context.Context, id string, nextAt time.Time, lastErr string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qJobMarkRetrying, id, nextAt, lastErr); err != nil {
		return fmt.Errorf("job mark retrying: %w", err)
	}
	return nil
}

func (r *JobRepo) MarkFailed(ctx context.Context, id string, lastErr string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qJobMarkFailed, id, lastErr); err != nil {
		return fmt.Errorf("job mark failed: %w", err)
	}
	return nil
}
