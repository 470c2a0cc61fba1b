// Package queue implements the durable analysis job queue. Jobs live in
// postgres; claiming uses row-level leases with a TTL so abandoned work is
// reclaimed by a periodic sweep, and failed jobs are rescheduled with a
// bounded backoff before failing terminally.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/coursecheck/internal/database"
	"github.com/jonesrussell/coursecheck/internal/domain"
	"github.com/jonesrussell/coursecheck/internal/logger"
	"github.com/jonesrussell/coursecheck/internal/metrics"
)

const (
	// DefaultLockTTL is the lease duration stamped on claimed jobs.
	DefaultLockTTL = 90 * time.Second

	// MaxAttempts is the number of failures after which a job is
	// terminally failed instead of rescheduled.
	MaxAttempts = 3
)

// retryBackoff is the reschedule delay indexed by prior attempt count.
var retryBackoff = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// ErrNoJobAvailable mirrors the repository sentinel for callers that only
// import this package.
var ErrNoJobAvailable = database.ErrNoJobAvailable

// JobStore is the subset of job persistence the queue needs.
type JobStore interface {
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	Claim(ctx context.Context, runID *string, owner string, ttl time.Duration) (*domain.Job, error)
	MarkTerminal(ctx context.Context, id string, status domain.JobStatus, lastError *string) error
	Reschedule(ctx context.Context, id, lastError string, delay time.Duration) error
	ReleaseStale(ctx context.Context) (int64, error)
	TallyForRun(ctx context.Context, runID string) (database.StatusTally, error)
	FailQueuedForRun(ctx context.Context, runID, reason string) (int64, error)
}

// RunStore is the subset of run persistence the queue needs.
type RunStore interface {
	GetByID(ctx context.Context, id string) (*domain.Run, error)
	ApplyCounters(ctx context.Context, runID string, tally database.StatusTally, status domain.RunStatus) error
}

// AnalysisStore is the idempotency lookup the queue needs.
type AnalysisStore interface {
	ExistsForHash(ctx context.Context, lessonID, contentHash string, configurationID *string) (bool, error)
}

// Queue coordinates job claiming, outcome recording and run counter
// recomputation over the persistent store.
type Queue struct {
	jobs     JobStore
	runs     RunStore
	analyses AnalysisStore
	owner    string
	lockTTL  time.Duration
	logger   logger.Logger
	metrics  *metrics.Metrics
}

// Option configures a Queue.
type Option func(*Queue)

// WithLockTTL overrides the default lease duration.
func WithLockTTL(ttl time.Duration) Option {
	return func(q *Queue) { q.lockTTL = ttl }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New creates a Queue. Owner identifies this worker on job leases.
func New(
	jobs JobStore,
	runs RunStore,
	analyses AnalysisStore,
	owner string,
	log logger.Logger,
	opts ...Option,
) *Queue {
	q := &Queue{
		jobs:     jobs,
		runs:     runs,
		analyses: analyses,
		owner:    owner,
		lockTTL:  DefaultLockTTL,
		logger:   log,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PickJob atomically claims the oldest eligible job, optionally restricted
// to one run. Returns nil when nothing is eligible.
func (q *Queue) PickJob(ctx context.Context, runID *string) (*domain.Job, error) {
	job, err := q.jobs.Claim(ctx, runID, q.owner, q.lockTTL)
	if err != nil {
		if errors.Is(err, database.ErrNoJobAvailable) {
			return nil, nil
		}
		return nil, fmt.Errorf("pick job: %w", err)
	}

	if q.metrics != nil {
		q.metrics.JobsPicked.Inc()
	}

	q.logger.Debug("job claimed",
		logger.String("job_id", job.ID),
		logger.String("run_id", job.RunID),
		logger.Int("attempt", job.AttemptCount),
	)

	return job, nil
}

// UpdateJobStatus records a job outcome. A failure below the attempt cap is
// rescheduled with backoff; everything else is terminal. Run counters are
// recomputed after every transition.
func (q *Queue) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	outcome domain.JobStatus,
	jobErr error,
) error {
	job, err := q.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	switch outcome {
	case domain.JobStatusFailed:
		msg := "job failed"
		if jobErr != nil {
			msg = jobErr.Error()
		}

		if job.AttemptCount < MaxAttempts {
			delay := backoffForAttempt(job.AttemptCount)
			if rescheduleErr := q.jobs.Reschedule(ctx, jobID, msg, delay); rescheduleErr != nil {
				return fmt.Errorf("reschedule job: %w", rescheduleErr)
			}
			q.logger.Info("job rescheduled",
				logger.String("job_id", jobID),
				logger.Int("attempt", job.AttemptCount+1),
				logger.Duration("delay", delay),
				logger.String("error", msg),
			)
		} else {
			if terminalErr := q.jobs.MarkTerminal(ctx, jobID, domain.JobStatusFailed, &msg); terminalErr != nil {
				return fmt.Errorf("fail job: %w", terminalErr)
			}
			if q.metrics != nil {
				q.metrics.JobsFailed.Inc()
			}
			q.logger.Warn("job failed terminally",
				logger.String("job_id", jobID),
				logger.Int("attempts", job.AttemptCount),
				logger.String("error", msg),
			)
		}

	case domain.JobStatusSucceeded, domain.JobStatusSkipped:
		if terminalErr := q.jobs.MarkTerminal(ctx, jobID, outcome, nil); terminalErr != nil {
			return fmt.Errorf("finish job: %w", terminalErr)
		}
		if q.metrics != nil {
			if outcome == domain.JobStatusSucceeded {
				q.metrics.JobsSucceeded.Inc()
			} else {
				q.metrics.JobsSkipped.Inc()
			}
		}

	default:
		return fmt.Errorf("unsupported job outcome: %s", outcome)
	}

	return q.UpdateRunCounters(ctx, job.RunID)
}

// FailJobTerminally records a terminal job failure regardless of the
// remaining retry budget. Used for conditions a retry cannot fix, such as
// stale credentials or an unknown source type.
func (q *Queue) FailJobTerminally(ctx context.Context, jobID, reason string) error {
	job, err := q.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fail job terminally: %w", err)
	}

	if terminalErr := q.jobs.MarkTerminal(ctx, jobID, domain.JobStatusFailed, &reason); terminalErr != nil {
		return fmt.Errorf("fail job terminally: %w", terminalErr)
	}
	if q.metrics != nil {
		q.metrics.JobsFailed.Inc()
	}
	q.logger.Warn("job failed terminally",
		logger.String("job_id", jobID),
		logger.String("error", reason),
	)

	return q.UpdateRunCounters(ctx, job.RunID)
}

// backoffForAttempt returns the reschedule delay for a given prior attempt
// count, clamped to the last entry of the schedule.
func backoffForAttempt(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(retryBackoff) {
		attempt = len(retryBackoff) - 1
	}
	return retryBackoff[attempt]
}

// UpdateRunCounters recomputes a run's counters from the authoritative job
// tally and derives its status. Paused and stopped runs keep their status
// while jobs remain; terminal status is derived once nothing is left.
func (q *Queue) UpdateRunCounters(ctx context.Context, runID string) error {
	run, err := q.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}

	tally, err := q.jobs.TallyForRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}

	status := deriveRunStatus(run.Status, tally)
	if applyErr := q.runs.ApplyCounters(ctx, runID, tally, status); applyErr != nil {
		return fmt.Errorf("update run counters: %w", applyErr)
	}

	return nil
}

// deriveRunStatus maps a job tally to a run status.
func deriveRunStatus(current domain.RunStatus, tally database.StatusTally) domain.RunStatus {
	if tally.Queued+tally.Running > 0 {
		// Operator-suspended runs keep their status until resumed or
		// their remaining jobs drain.
		if current == domain.RunStatusPaused || current == domain.RunStatusStopped {
			return current
		}
		return domain.RunStatusRunning
	}

	switch {
	case tally.Failed == 0:
		return domain.RunStatusCompleted
	case tally.Succeeded+tally.Skipped == 0:
		return domain.RunStatusFailed
	default:
		return domain.RunStatusCompletedWithErrors
	}
}

// ReleaseStaleLocks reclaims running jobs with expired leases back to
// queued. This is the crash-recovery path, driven on a cadence.
func (q *Queue) ReleaseStaleLocks(ctx context.Context) (int64, error) {
	n, err := q.jobs.ReleaseStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("release stale locks: %w", err)
	}

	if n > 0 {
		if q.metrics != nil {
			q.metrics.StaleLocksReclaimed.Add(float64(n))
		}
		q.logger.Info("reclaimed stale job locks", logger.Int64("count", n))
	}

	return n, nil
}

// CheckContentHash reports whether a prior analysis already covers the given
// lesson, content hash and configuration combination.
func (q *Queue) CheckContentHash(
	ctx context.Context,
	lessonID, contentHash string,
	configurationID *string,
) (bool, error) {
	exists, err := q.analyses.ExistsForHash(ctx, lessonID, contentHash, configurationID)
	if err != nil {
		return false, fmt.Errorf("check content hash: %w", err)
	}
	return exists, nil
}

// FailQueuedJobs terminally fails every still-queued job of a run. Used
// when a run has been stopped.
func (q *Queue) FailQueuedJobs(ctx context.Context, runID, reason string) error {
	n, err := q.jobs.FailQueuedForRun(ctx, runID, reason)
	if err != nil {
		return fmt.Errorf("fail queued jobs: %w", err)
	}

	if n > 0 {
		q.logger.Info("failed queued jobs for stopped run",
			logger.String("run_id", runID),
			logger.Int64("count", n),
		)
	}

	return q.UpdateRunCounters(ctx, runID)
}
