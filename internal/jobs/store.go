package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PGStore implements Store against a PostgreSQL jobs table. Claim exclusivity
// across worker processes comes from row locks (FOR UPDATE SKIP LOCKED), not
// from any application-level lock.
type PGStore struct {
	pool     *pgxpool.Pool
	notifier Notifier
}

// NewPGStore creates a job store on the given pool. The notifier is optional;
// when present, requeues with a next_run emit a best-effort wake notification.
func NewPGStore(pool *pgxpool.Pool, notifier Notifier) *PGStore {
	return &PGStore{pool: pool, notifier: notifier}
}

// Push inserts a job or coalesces into the existing (kind, payload) row.
// A running row is not disturbed: its status and next_run are preserved so a
// re-submission cannot cause duplicate concurrent execution.
func (s *PGStore) Push(ctx context.Context, kind Kind, payload any, nextRun *time.Time) (int64, bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal payload for %s: %w", kind, err)
	}

	var (
		jobID  int64
		status Status
	)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO jobs (kind, payload, status, next_run)
		VALUES ($1, $2, 'queued', $3)
		ON CONFLICT (kind, payload) DO UPDATE SET
			status     = CASE WHEN jobs.status = 'running' THEN jobs.status ELSE 'queued' END,
			next_run   = CASE WHEN jobs.status = 'running' THEN jobs.next_run ELSE EXCLUDED.next_run END,
			updated_at = NOW()
		RETURNING job_id, status
	`, kind, body, nextRun).Scan(&jobID, &status)
	if err != nil {
		return 0, false, fmt.Errorf("failed to push %s job: %w", kind, err)
	}

	wasRunning := status == StatusRunning
	if wasRunning {
		log.Warn().
			Int64("job_id", jobID).
			Str("kind", string(kind)).
			Msg("Job already running, push left it untouched")
	} else if nextRun != nil {
		s.wake(ctx, *nextRun)
	}

	return jobID, wasRunning, nil
}

// PullBatch claims every eligible queued row and flips it to running in one
// statement. Rows locked by a concurrent claimer are skipped, not waited on.
func (s *PGStore) PullBatch(ctx context.Context) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH eligible AS (
			SELECT job_id
			FROM jobs
			WHERE status = 'queued'
			  AND (next_run IS NULL OR next_run <= NOW())
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs
		SET status = 'running', updated_at = NOW()
		FROM eligible
		WHERE jobs.job_id = eligible.job_id
		RETURNING jobs.job_id, jobs.kind, jobs.payload, jobs.status,
		          jobs.next_run, jobs.last_run, jobs.continuation,
		          jobs.created_at, jobs.updated_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var claimed []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(
			&job.ID, &job.Kind, &job.Payload, &job.Status,
			&job.NextRun, &job.LastRun, &job.Continuation,
			&job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		claimed = append(claimed, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed jobs: %w", err)
	}

	return claimed, nil
}

// UpdateTerminal writes the job's final or requeued state. A nil continuation
// preserves whatever the previous invocation persisted.
func (s *PGStore) UpdateTerminal(ctx context.Context, jobID int64, status Status, nextRun *time.Time, lastRun time.Time, continuation *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status       = $2,
		    next_run     = $3,
		    last_run     = $4,
		    continuation = COALESCE($5, continuation),
		    updated_at   = NOW()
		WHERE job_id = $1
	`, jobID, status, nextRun, lastRun, continuation)
	if err != nil {
		return fmt.Errorf("failed to update job %d: %w", jobID, err)
	}

	if status == StatusQueued && nextRun != nil {
		s.wake(ctx, *nextRun)
	}
	return nil
}

// NextQueuedAt reports the earliest next_run among queued rows still in the
// future, or nil if every queued row is already eligible or absent.
func (s *PGStore) NextQueuedAt(ctx context.Context) (*time.Time, error) {
	var at *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(next_run)
		FROM jobs
		WHERE status = 'queued' AND next_run > NOW()
	`).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("failed to read next queued time: %w", err)
	}
	return at, nil
}

// List returns the most recently updated job rows, for the admin CLI
func (s *PGStore) List(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, kind, payload, status, next_run, last_run,
		       continuation, created_at, updated_at
		FROM jobs
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(
			&job.ID, &job.Kind, &job.Payload, &job.Status,
			&job.NextRun, &job.LastRun, &job.Continuation,
			&job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// wake emits a best-effort wake notification. Failures are logged and
// swallowed; a dropped notification only delays the next claim until the
// scheduler's fallback timer fires.
func (s *PGStore) wake(ctx context.Context, at time.Time) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, at); err != nil {
		log.Warn().Err(err).Time("at", at).Msg("Failed to send wake notification")
	}
}
