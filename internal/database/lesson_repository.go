package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/coursecheck/internal/domain"
)

const lessonSelectColumns = `id, program_id, title, source_url, position,
	cached_content, content_hash, fetched_at, created_at, updated_at`

// LessonRepository handles database operations for lessons.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository creates a new lesson repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

// GetByID retrieves a lesson by its ID.
func (r *LessonRepository) GetByID(ctx context.Context, id string) (*domain.Lesson, error) {
	var lesson domain.Lesson
	query := `SELECT ` + lessonSelectColumns + ` FROM lessons WHERE id = $1`

	err := r.db.GetContext(ctx, &lesson, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lesson %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}

	return &lesson, nil
}

// ListByProgram retrieves a program's lessons in position order.
func (r *LessonRepository) ListByProgram(ctx context.Context, programID string) ([]*domain.Lesson, error) {
	var lessons []*domain.Lesson
	query := `
		SELECT ` + lessonSelectColumns + `
		FROM lessons
		WHERE program_id = $1
		ORDER BY position ASC
	`

	err := r.db.SelectContext(ctx, &lessons, query, programID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}

	if lessons == nil {
		lessons = []*domain.Lesson{}
	}

	return lessons, nil
}

// UpdateContent stores freshly fetched content and its hash on a lesson.
func (r *LessonRepository) UpdateContent(ctx context.Context, id, content, hash string) error {
	query := `
		UPDATE lessons
		SET cached_content = $1,
			content_hash = $2,
			fetched_at = NOW(),
			updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, content, hash, id)
	return execRequireRows(result, err, fmt.Errorf("lesson %s: %w", id, ErrNotFound))
}

// Upsert inserts a lesson or refreshes its title, URL and position when a
// lesson with the same program and source URL already exists. Used by
// program enumeration.
func (r *LessonRepository) Upsert(ctx context.Context, lesson *domain.Lesson) error {
	query := `
		INSERT INTO lessons (id, program_id, title, source_url, position)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (program_id, source_url) DO UPDATE SET
			title = EXCLUDED.title,
			position = EXCLUDED.position,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		lesson.ID,
		lesson.ProgramID,
		lesson.Title,
		lesson.SourceURL,
		lesson.Position,
	).Scan(&lesson.ID, &lesson.CreatedAt, &lesson.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert lesson: %w", err)
	}

	return nil
}
