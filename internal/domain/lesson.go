package domain

import "time"

// Lesson is one document belonging to a program. CachedContent and
// ContentHash are updated by the runner after each successful fetch.
type Lesson struct {
	ID            string     `db:"id" json:"id"`
	ProgramID     string     `db:"program_id" json:"program_id"`
	Title         string     `db:"title" json:"title"`
	SourceURL     string     `db:"source_url" json:"source_url"`
	Position      int        `db:"position" json:"position"`
	CachedContent *string    `db:"cached_content" json:"-"`
	ContentHash   *string    `db:"content_hash" json:"content_hash,omitempty"`
	FetchedAt     *time.Time `db:"fetched_at" json:"fetched_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Program is a registered batch of lessons from one content source.
// Program creation belongs to the CRUD layer; the runner only reads it.
type Program struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	SourceType   string    `db:"source_type" json:"source_type"`
	RootURL      string    `db:"root_url" json:"root_url"`
	CredentialID *string   `db:"credential_id" json:"credential_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Credential holds an encrypted session cookie payload for a program.
type Credential struct {
	ID         string    `db:"id" json:"id"`
	ProgramID  string    `db:"program_id" json:"program_id"`
	Ciphertext []byte    `db:"ciphertext" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
