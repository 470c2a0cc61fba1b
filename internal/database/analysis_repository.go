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

// ErrAlreadyFinalized is returned when finalizing an analysis record that is
// no longer in running state. Records are finalized exactly once.
var ErrAlreadyFinalized = errors.New("analysis record already finalized")

// AnalysisRepository handles database operations for analysis records and
// their per-metric LLM call audit trail.
type AnalysisRepository struct {
	db *sqlx.DB
}

// NewAnalysisRepository creates a new analysis repository.
func NewAnalysisRepository(db *sqlx.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Create inserts a new analysis record in running state.
func (r *AnalysisRepository) Create(ctx context.Context, record *domain.AnalysisRecord) error {
	query := `
		INSERT INTO analysis_records (
			id, lesson_id, content, status, title, results, model_used,
			content_hash, user_id, session_id, configuration_snapshot
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		record.ID,
		record.LessonID,
		record.Content,
		record.Status,
		record.Title,
		record.Results,
		record.ModelUsed,
		record.ContentHash,
		record.UserID,
		record.SessionID,
		&record.ConfigurationSnapshot,
	).Scan(&record.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create analysis record: %w", err)
	}

	return nil
}

// GetByID retrieves an analysis record by its ID.
func (r *AnalysisRepository) GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	var record domain.AnalysisRecord
	query := `
		SELECT id, lesson_id, content, status, title, results, model_used,
		       content_hash, user_id, session_id, configuration_snapshot,
		       created_at, completed_at
		FROM analysis_records
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &record, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("analysis record %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get analysis record: %w", err)
	}

	return &record, nil
}

// Finalize writes the aggregate status, title and results map exactly once.
// The WHERE status = 'running' guard makes a second finalization attempt
// return ErrAlreadyFinalized instead of silently overwriting.
func (r *AnalysisRepository) Finalize(
	ctx context.Context,
	id string,
	status domain.AnalysisStatus,
	title string,
	results domain.ResultsMap,
	completedAt time.Time,
) error {
	query := `
		UPDATE analysis_records
		SET status = $1,
			title = $2,
			results = $3,
			completed_at = $4
		WHERE id = $5 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, status, title, results, completedAt, id)
	return execRequireRows(result, err, ErrAlreadyFinalized)
}

// ExistsForHash reports whether a finalized analysis already exists for the
// given lesson, content hash and metric-configuration combination. This is
// the idempotency gate: unchanged content is skipped, not reprocessed.
func (r *AnalysisRepository) ExistsForHash(
	ctx context.Context,
	lessonID, contentHash string,
	configurationID *string,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM analysis_records
			WHERE lesson_id = $1
			  AND content_hash = $2
			  AND status IN ('completed', 'partial')
			  AND (
				($3::text IS NULL AND configuration_snapshot->>'configuration_id' IS NULL)
				OR configuration_snapshot->>'configuration_id' = $3::text
			  )
		)
	`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, lessonID, contentHash, configurationID)
	if err != nil {
		return false, fmt.Errorf("failed to check content hash: %w", err)
	}

	return exists, nil
}

// RecordLLMCall appends one provider call to the audit trail.
func (r *AnalysisRepository) RecordLLMCall(ctx context.Context, call *domain.LLMCall) error {
	query := `
		INSERT INTO llm_calls (
			id, analysis_id, metric, provider, model, duration_ms,
			prompt_chars, success, error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		call.ID,
		call.AnalysisID,
		call.Metric,
		call.Provider,
		call.Model,
		call.DurationMs,
		call.PromptChars,
		call.Success,
		call.Error,
	).Scan(&call.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to record llm call: %w", err)
	}

	return nil
}
