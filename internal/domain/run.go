package domain

import "time"

// RunStatus represents the lifecycle state of an analysis run.
type RunStatus string

const (
	// RunStatusQueued means the run has been created but no jobs have started.
	RunStatusQueued RunStatus = "queued"
	// RunStatusRunning means at least one job is still queued or in flight.
	RunStatusRunning RunStatus = "running"
	// RunStatusPaused means the operator suspended the run; queued jobs wait.
	RunStatusPaused RunStatus = "paused"
	// RunStatusStopped means the operator aborted the run; queued jobs are failed.
	RunStatusStopped RunStatus = "stopped"
	// RunStatusCompleted means every job succeeded or was skipped.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusCompletedWithErrors means the run finished with a mix of
	// successes and failures.
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
	// RunStatusFailed means every processed job failed.
	RunStatusFailed RunStatus = "failed"
)

// MetricsMode selects between the built-in metric set and a user-supplied one.
type MetricsMode string

const (
	// MetricsModeFixed uses the built-in metric set with standard prompts.
	MetricsModeFixed MetricsMode = "fixed"
	// MetricsModeConfigurable uses a stored metric configuration.
	MetricsModeConfigurable MetricsMode = "configurable"
)

// Run is a batch execution of a program's lessons against one metric
// configuration. Counters are always recomputed from the authoritative
// job tally, never incremented in place.
//
// Invariants after every job-status transition:
//
//	QueuedCount + Processed == Total
//	Processed == Succeeded + FailedCount + Skipped
type Run struct {
	ID                    string      `db:"id" json:"id"`
	ProgramID             string      `db:"program_id" json:"program_id"`
	UserID                string      `db:"user_id" json:"user_id"`
	Status                RunStatus   `db:"status" json:"status"`
	Model                 string      `db:"model" json:"model"`
	MetricsMode           MetricsMode `db:"metrics_mode" json:"metrics_mode"`
	MetricConfigurationID *string     `db:"metric_configuration_id" json:"metric_configuration_id,omitempty"`
	Total                 int         `db:"total" json:"total"`
	QueuedCount           int         `db:"queued_count" json:"queued"`
	Processed             int         `db:"processed" json:"processed"`
	Succeeded             int         `db:"succeeded" json:"succeeded"`
	FailedCount           int         `db:"failed_count" json:"failed"`
	Skipped               int         `db:"skipped" json:"skipped"`
	MaxConcurrency        int         `db:"max_concurrency" json:"max_concurrency"`
	StartedAt             *time.Time  `db:"started_at" json:"started_at,omitempty"`
	FinishedAt            *time.Time  `db:"finished_at" json:"finished_at,omitempty"`
	CreatedAt             time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time   `db:"updated_at" json:"updated_at"`
}

// Active reports whether the run should still accept job processing.
func (r *Run) Active() bool {
	return r.Status == RunStatusQueued || r.Status == RunStatusRunning
}
