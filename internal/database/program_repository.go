package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/coursecheck/internal/domain"
)

// ProgramRepository handles database operations for programs.
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository creates a new program repository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

// GetByID retrieves a program by its ID.
func (r *ProgramRepository) GetByID(ctx context.Context, id string) (*domain.Program, error) {
	var program domain.Program
	query := `
		SELECT id, name, source_type, root_url, credential_id, created_at, updated_at
		FROM programs
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &program, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("program %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get program: %w", err)
	}

	return &program, nil
}

// CredentialRepository handles database operations for stored credentials.
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetByID retrieves a credential by its ID.
func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*domain.Credential, error) {
	var credential domain.Credential
	query := `SELECT id, program_id, ciphertext, created_at FROM credentials WHERE id = $1`

	err := r.db.GetContext(ctx, &credential, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &credential, nil
}
