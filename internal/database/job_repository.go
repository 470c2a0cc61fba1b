package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/coursecheck/internal/domain"
)

// ErrNoJobAvailable is returned by Claim when no eligible job exists.
// This is not a failure; the caller should simply try again later.
var ErrNoJobAvailable = errors.New("no job available")

const jobSelectColumns = `id, run_id, program_id, lesson_id, status, attempt_count,
	last_error, lock_owner, lock_expires_at, next_eligible_at, created_at, updated_at`

// JobRepository handles database operations for analysis jobs.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job into the database.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO analysis_jobs (id, run_id, program_id, lesson_id, status, attempt_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		job.ID,
		job.RunID,
		job.ProgramID,
		job.LessonID,
		job.Status,
		job.AttemptCount,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobSelectColumns + ` FROM analysis_jobs WHERE id = $1`

	err := r.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListByRun retrieves all jobs for a run in creation order.
func (r *JobRepository) ListByRun(ctx context.Context, runID string) ([]*domain.Job, error) {
	var jobs []*domain.Job
	query := `
		SELECT ` + jobSelectColumns + `
		FROM analysis_jobs
		WHERE run_id = $1
		ORDER BY created_at ASC
	`

	err := r.db.SelectContext(ctx, &jobs, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	if jobs == nil {
		jobs = []*domain.Job{}
	}

	return jobs, nil
}

// Claim atomically selects the oldest eligible job, marks it running, and
// stamps a lease for the given owner. A job is eligible when it is queued
// with no pending retry delay, or running with an expired lease (the
// crash-recovery path). Returns ErrNoJobAvailable when nothing is eligible.
//
// The SELECT ... FOR UPDATE SKIP LOCKED guarantees no two concurrent
// claimants obtain the same job.
func (r *JobRepository) Claim(
	ctx context.Context,
	runID *string,
	owner string,
	ttl time.Duration,
) (*domain.Job, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	job, selectErr := claimSelect(ctx, tx, runID)
	if selectErr != nil {
		return nil, selectErr
	}

	expiresAt, lockErr := claimLock(ctx, tx, job.ID, owner, ttl)
	if lockErr != nil {
		return nil, lockErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", commitErr)
	}

	job.Status = domain.JobStatusRunning
	job.LockOwner = &owner
	job.LockExpiresAt = &expiresAt
	job.NextEligibleAt = nil
	return job, nil
}

// claimSelect selects and row-locks the oldest eligible job within a transaction.
func claimSelect(ctx context.Context, tx *sqlx.Tx, runID *string) (*domain.Job, error) {
	query := `
		SELECT ` + jobSelectColumns + `
		FROM analysis_jobs
		WHERE (
			(status = 'queued' AND (next_eligible_at IS NULL OR next_eligible_at <= NOW()))
			OR (status = 'running' AND lock_expires_at IS NOT NULL AND lock_expires_at <= NOW())
		)
	`
	args := []any{}
	if runID != nil {
		query += ` AND run_id = $1`
		args = append(args, *runID)
	}
	query += `
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var job domain.Job
	err := tx.GetContext(ctx, &job, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoJobAvailable
		}
		return nil, fmt.Errorf("failed to select claimable job: %w", err)
	}

	return &job, nil
}

// claimLock marks a job running and stamps the lease within a transaction.
func claimLock(
	ctx context.Context,
	tx *sqlx.Tx,
	id, owner string,
	ttl time.Duration,
) (time.Time, error) {
	expiresAt := time.Now().UTC().Add(ttl)
	query := `
		UPDATE analysis_jobs
		SET status = 'running',
			lock_owner = $1,
			lock_expires_at = $2,
			next_eligible_at = NULL,
			updated_at = NOW()
		WHERE id = $3
	`

	_, err := tx.ExecContext(ctx, query, owner, expiresAt, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to lock claimed job: %w", err)
	}

	return expiresAt, nil
}

// MarkTerminal writes a final job status and clears the lease.
func (r *JobRepository) MarkTerminal(
	ctx context.Context,
	id string,
	status domain.JobStatus,
	lastError *string,
) error {
	query := `
		UPDATE analysis_jobs
		SET status = $1,
			last_error = $2,
			lock_owner = NULL,
			lock_expires_at = NULL,
			next_eligible_at = NULL,
			updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, status, lastError, id)
	return execRequireRows(result, err, fmt.Errorf("job %s: %w", id, ErrNotFound))
}

// Reschedule returns a failed job to the queue with an incremented attempt
// count and a not-before eligibility time.
func (r *JobRepository) Reschedule(
	ctx context.Context,
	id, lastError string,
	delay time.Duration,
) error {
	query := `
		UPDATE analysis_jobs
		SET status = 'queued',
			attempt_count = attempt_count + 1,
			last_error = $1,
			lock_owner = NULL,
			lock_expires_at = NULL,
			next_eligible_at = NOW() + ($2 * INTERVAL '1 second'),
			updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, lastError, int64(delay.Seconds()), id)
	return execRequireRows(result, err, fmt.Errorf("job %s: %w", id, ErrNotFound))
}

// ReleaseStale reclaims running jobs whose leases have expired back to
// queued, clearing the owner. Returns the number of jobs reclaimed.
func (r *JobRepository) ReleaseStale(ctx context.Context) (int64, error) {
	query := `
		UPDATE analysis_jobs
		SET status = 'queued',
			lock_owner = NULL,
			lock_expires_at = NULL,
			updated_at = NOW()
		WHERE status = 'running'
		  AND lock_expires_at IS NOT NULL
		  AND lock_expires_at <= NOW()
	`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale locks: %w", err)
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", affectedErr)
	}

	return n, nil
}

// StatusTally holds per-status job counts for one run.
type StatusTally struct {
	Queued    int `db:"queued"`
	Running   int `db:"running"`
	Succeeded int `db:"succeeded"`
	Failed    int `db:"failed"`
	Skipped   int `db:"skipped"`
}

// Total returns the total number of jobs in the tally.
func (t StatusTally) Total() int {
	return t.Queued + t.Running + t.Succeeded + t.Failed + t.Skipped
}

// Processed returns the number of jobs with a terminal outcome.
func (t StatusTally) Processed() int {
	return t.Succeeded + t.Failed + t.Skipped
}

// TallyForRun counts a run's jobs by status in one query.
func (r *JobRepository) TallyForRun(ctx context.Context, runID string) (StatusTally, error) {
	var tally StatusTally
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued') AS queued,
			COUNT(*) FILTER (WHERE status = 'running') AS running,
			COUNT(*) FILTER (WHERE status = 'succeeded') AS succeeded,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'skipped') AS skipped
		FROM analysis_jobs
		WHERE run_id = $1
	`

	err := r.db.GetContext(ctx, &tally, query, runID)
	if err != nil {
		return StatusTally{}, fmt.Errorf("failed to tally jobs: %w", err)
	}

	return tally, nil
}

// FailQueuedForRun marks all still-queued jobs of a run as failed with the
// given reason. Used when a run is stopped.
func (r *JobRepository) FailQueuedForRun(ctx context.Context, runID, reason string) (int64, error) {
	query := `
		UPDATE analysis_jobs
		SET status = 'failed',
			last_error = $1,
			lock_owner = NULL,
			lock_expires_at = NULL,
			next_eligible_at = NULL,
			updated_at = NOW()
		WHERE run_id = $2 AND status = 'queued'
	`

	result, err := r.db.ExecContext(ctx, query, reason, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to fail queued jobs: %w", err)
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", affectedErr)
	}

	return n, nil
}
