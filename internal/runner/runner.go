// Package runner orchestrates the analysis pipeline: it ties the job
// queue, source adapters, analysis engine and persistence together in a
// poll-tick model. Each tick claims and processes up to max_concurrency
// jobs; there is no long-lived daemon loop inside the runner itself.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonesrussell/coursecheck/internal/analysis"
	"github.com/jonesrussell/coursecheck/internal/domain"
	"github.com/jonesrussell/coursecheck/internal/logger"
	"github.com/jonesrussell/coursecheck/internal/secrets"
	"github.com/jonesrussell/coursecheck/internal/sources"
)

// JobQueue is the queue surface the runner drives.
type JobQueue interface {
	PickJob(ctx context.Context, runID *string) (*domain.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, outcome domain.JobStatus, jobErr error) error
	FailJobTerminally(ctx context.Context, jobID, reason string) error
	FailQueuedJobs(ctx context.Context, runID, reason string) error
	CheckContentHash(ctx context.Context, lessonID, contentHash string, configurationID *string) (bool, error)
}

// LessonStore is the lesson persistence the runner needs.
type LessonStore interface {
	GetByID(ctx context.Context, id string) (*domain.Lesson, error)
	UpdateContent(ctx context.Context, id, content, hash string) error
	Upsert(ctx context.Context, lesson *domain.Lesson) error
}

// ProgramStore loads program records.
type ProgramStore interface {
	GetByID(ctx context.Context, id string) (*domain.Program, error)
}

// CredentialStore loads encrypted credentials.
type CredentialStore interface {
	GetByID(ctx context.Context, id string) (*domain.Credential, error)
}

// RunStore loads run records.
type RunStore interface {
	GetByID(ctx context.Context, id string) (*domain.Run, error)
}

// MetricStore resolves configurable metric sets.
type MetricStore interface {
	ListActiveMetrics(ctx context.Context, configID string) ([]domain.Metric, error)
}

// Analyzer runs one content item through the analysis engine.
type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) (*domain.AnalysisRecord, error)
}

// Runner pulls jobs from the queue and processes them end to end.
type Runner struct {
	queue       JobQueue
	lessons     LessonStore
	programs    ProgramStore
	credentials CredentialStore
	runs        RunStore
	metricStore MetricStore
	registry    *sources.Registry
	cipher      secrets.Cipher
	engine      Analyzer
	logger      logger.Logger
}

// New creates a Runner.
func New(
	queue JobQueue,
	lessons LessonStore,
	programs ProgramStore,
	credentials CredentialStore,
	runs RunStore,
	metricStore MetricStore,
	registry *sources.Registry,
	cipher secrets.Cipher,
	engine Analyzer,
	log logger.Logger,
) *Runner {
	return &Runner{
		queue:       queue,
		lessons:     lessons,
		programs:    programs,
		credentials: credentials,
		runs:        runs,
		metricStore: metricStore,
		registry:    registry,
		cipher:      cipher,
		engine:      engine,
		logger:      log,
	}
}

// ProcessTick claims and processes up to maxConcurrency jobs concurrently,
// optionally restricted to one run. A run-scoped tick honors the run's own
// max_concurrency when it sets one; the caller's value applies to unscoped
// ticks and runs without a limit. Returns the number of jobs handled this
// tick. An empty queue is not an error.
func (r *Runner) ProcessTick(ctx context.Context, maxConcurrency int, runID *string) int {
	if runID != nil {
		run, err := r.runs.GetByID(ctx, *runID)
		switch {
		case err != nil:
			r.logger.Warn("run lookup for scoped tick failed",
				logger.String("run_id", *runID),
				logger.Error(err),
			)
		case run.MaxConcurrency > 0:
			maxConcurrency = run.MaxConcurrency
		}
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)

	for i := 0; i < maxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handled, err := r.processNextJob(ctx, runID)
			if err != nil {
				r.logger.Error("job processing error", logger.Error(err))
			}
			if handled {
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return processed
}

// processNextJob claims one job and runs it through the pipeline. Returns
// false when no eligible job exists. The returned error covers queue and
// store failures only; job-level failures are recorded on the job itself.
func (r *Runner) processNextJob(ctx context.Context, runID *string) (bool, error) {
	job, err := r.queue.PickJob(ctx, runID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	run, err := r.runs.GetByID(ctx, job.RunID)
	if err != nil {
		return true, r.queue.FailJobTerminally(ctx, job.ID, fmt.Sprintf("load run: %v", err))
	}

	// Pause/stop is cooperative and checked only here, at the job
	// boundary. An in-flight analysis is never interrupted.
	if run.Status == domain.RunStatusPaused || run.Status == domain.RunStatusStopped {
		reason := fmt.Sprintf("run is %s", run.Status)
		if updateErr := r.queue.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed, errors.New(reason)); updateErr != nil {
			return true, updateErr
		}
		if run.Status == domain.RunStatusStopped {
			return true, r.queue.FailQueuedJobs(ctx, job.RunID, "run was stopped before this job started")
		}
		return true, nil
	}

	lesson, err := r.lessons.GetByID(ctx, job.LessonID)
	if err != nil {
		return true, r.queue.FailJobTerminally(ctx, job.ID, fmt.Sprintf("load lesson: %v", err))
	}

	program, err := r.programs.GetByID(ctx, job.ProgramID)
	if err != nil {
		return true, r.queue.FailJobTerminally(ctx, job.ID, fmt.Sprintf("load program: %v", err))
	}

	auth, err := r.resolveAuth(ctx, program)
	if err != nil {
		return true, r.queue.FailJobTerminally(ctx, job.ID,
			"stored credential could not be decrypted; please re-authenticate the program")
	}

	adapter, err := r.registry.Resolve(program.SourceType)
	if err != nil {
		return true, r.queue.FailJobTerminally(ctx, job.ID, err.Error())
	}

	content, err := adapter.FetchLessonContent(ctx, lesson.SourceURL, auth)
	if err != nil {
		if errors.Is(err, sources.ErrSessionExpired) {
			return true, r.queue.FailJobTerminally(ctx, job.ID,
				"authentication expired while fetching content; please re-authenticate the program")
		}
		return true, r.queue.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed,
			fmt.Errorf("fetch lesson content: %w", err))
	}

	unchanged, err := r.queue.CheckContentHash(ctx, lesson.ID, content.Hash, run.MetricConfigurationID)
	if err != nil {
		return true, r.queue.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed, err)
	}
	if unchanged {
		r.logger.Info("content unchanged, skipping analysis",
			logger.String("job_id", job.ID),
			logger.String("lesson_id", lesson.ID),
		)
		return true, r.queue.UpdateJobStatus(ctx, job.ID, domain.JobStatusSkipped, nil)
	}

	if updateErr := r.lessons.UpdateContent(ctx, lesson.ID, content.Text, content.Hash); updateErr != nil {
		return true, r.queue.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed, updateErr)
	}

	metricSet, err := r.resolveMetrics(ctx, run)
	if err != nil {
		return true, r.queue.FailJobTerminally(ctx, job.ID, err.Error())
	}

	_, analyzeErr := r.engine.Analyze(ctx, analysis.Input{
		Content:         content.Text,
		Model:           run.Model,
		Metrics:         metricSet,
		LessonID:        &lesson.ID,
		UserID:          &run.UserID,
		ConfigurationID: run.MetricConfigurationID,
	})
	if analyzeErr != nil {
		return true, r.queue.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed, analyzeErr)
	}

	return true, r.queue.UpdateJobStatus(ctx, job.ID, domain.JobStatusSucceeded, nil)
}

// resolveAuth loads and decrypts the program's stored credential, if any.
func (r *Runner) resolveAuth(ctx context.Context, program *domain.Program) (*sources.Auth, error) {
	if program.CredentialID == nil {
		return nil, nil
	}

	if r.cipher == nil {
		return nil, errors.New("program has a stored credential but no cipher key is configured")
	}

	credential, err := r.credentials.GetByID(ctx, *program.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	plaintext, err := r.cipher.Decrypt(credential.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential: %w", err)
	}

	return &sources.Auth{Cookie: string(plaintext)}, nil
}

// resolveMetrics returns the metric set for a run: the built-in standard
// set in fixed mode, the stored configuration's active metrics otherwise.
func (r *Runner) resolveMetrics(ctx context.Context, run *domain.Run) ([]domain.Metric, error) {
	if run.MetricsMode != domain.MetricsModeConfigurable {
		return domain.StandardMetrics(), nil
	}

	if run.MetricConfigurationID == nil {
		return nil, errors.New("run is in configurable metrics mode but has no metric configuration")
	}

	metricSet, err := r.metricStore.ListActiveMetrics(ctx, *run.MetricConfigurationID)
	if err != nil {
		return nil, fmt.Errorf("resolve metric configuration: %w", err)
	}
	if len(metricSet) == 0 {
		return nil, fmt.Errorf("metric configuration %s has no active metrics", *run.MetricConfigurationID)
	}

	return metricSet, nil
}
