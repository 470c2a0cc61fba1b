package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/coursecheck/internal/domain"
)

const runSelectColumns = `id, program_id, user_id, status, model, metrics_mode,
	metric_configuration_id, total, queued_count, processed, succeeded,
	failed_count, skipped, max_concurrency, started_at, finished_at,
	created_at, updated_at`

// RunRepository handles database operations for analysis runs.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	var run domain.Run
	query := `SELECT ` + runSelectColumns + ` FROM analysis_runs WHERE id = $1`

	err := r.db.GetContext(ctx, &run, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// List retrieves runs ordered by creation time, newest first.
func (r *RunRepository) List(ctx context.Context, limit, offset int) ([]*domain.Run, error) {
	var runs []*domain.Run
	query := `
		SELECT ` + runSelectColumns + `
		FROM analysis_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	err := r.db.SelectContext(ctx, &runs, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	if runs == nil {
		runs = []*domain.Run{}
	}

	return runs, nil
}

// ApplyCounters writes a freshly computed job tally and derived status to a
// run. StartedAt is stamped on the first transition into running; FinishedAt
// is stamped when the derived status is terminal.
func (r *RunRepository) ApplyCounters(
	ctx context.Context,
	runID string,
	tally StatusTally,
	status domain.RunStatus,
) error {
	terminal := status == domain.RunStatusCompleted ||
		status == domain.RunStatusCompletedWithErrors ||
		status == domain.RunStatusFailed

	query := `
		UPDATE analysis_runs
		SET total = $1,
			queued_count = $2,
			processed = $3,
			succeeded = $4,
			failed_count = $5,
			skipped = $6,
			status = $7,
			started_at = COALESCE(started_at, CASE WHEN $7 = 'running' THEN NOW() END),
			finished_at = CASE WHEN $8 THEN COALESCE(finished_at, NOW()) END,
			updated_at = NOW()
		WHERE id = $9
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		tally.Total(),
		tally.Queued+tally.Running,
		tally.Processed(),
		tally.Succeeded,
		tally.Failed,
		tally.Skipped,
		status,
		terminal,
		runID,
	)

	return execRequireRows(result, err, fmt.Errorf("run %s: %w", runID, ErrNotFound))
}

// UpdateStatus sets a run's status directly. Used by pause/stop control flow.
func (r *RunRepository) UpdateStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	query := `UPDATE analysis_runs SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, status, runID)
	return execRequireRows(result, err, fmt.Errorf("run %s: %w", runID, ErrNotFound))
}
