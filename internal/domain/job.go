// Package domain provides domain models used across the application.
package domain

import "time"

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

const (
	// JobStatusQueued means the job is waiting to be picked up.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning means a worker holds an active lease on the job.
	JobStatusRunning JobStatus = "running"
	// JobStatusSucceeded means the job completed successfully.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusFailed means the job failed terminally.
	JobStatusFailed JobStatus = "failed"
	// JobStatusSkipped means the job was short-circuited because the
	// lesson content was unchanged since its last analysis.
	JobStatusSkipped JobStatus = "skipped"
)

// Terminal reports whether the status is a final outcome.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusSkipped
}

// Job is one unit of work: analyze one lesson within one run.
// Jobs are owned by the queue and mutated only through atomic
// claim/update operations.
type Job struct {
	ID             string     `db:"id" json:"id"`
	RunID          string     `db:"run_id" json:"run_id"`
	ProgramID      string     `db:"program_id" json:"program_id"`
	LessonID       string     `db:"lesson_id" json:"lesson_id"`
	Status         JobStatus  `db:"status" json:"status"`
	AttemptCount   int        `db:"attempt_count" json:"attempt_count"`
	LastError      *string    `db:"last_error" json:"last_error,omitempty"`
	LockOwner      *string    `db:"lock_owner" json:"lock_owner,omitempty"`
	LockExpiresAt  *time.Time `db:"lock_expires_at" json:"lock_expires_at,omitempty"`
	NextEligibleAt *time.Time `db:"next_eligible_at" json:"next_eligible_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
