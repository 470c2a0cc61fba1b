package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/coursecheck/internal/database"
	"github.com/jonesrussell/coursecheck/internal/domain"
	"github.com/jonesrussell/coursecheck/internal/logger"
	"github.com/jonesrussell/coursecheck/internal/queue"
)

type rescheduleCall struct {
	jobID     string
	lastError string
	delay     time.Duration
}

type terminalCall struct {
	jobID     string
	status    domain.JobStatus
	lastError *string
}

type fakeJobStore struct {
	jobs         map[string]*domain.Job
	claimResult  *domain.Job
	claimErr     error
	rescheduled  []rescheduleCall
	terminals    []terminalCall
	staleCount   int64
	tally        database.StatusTally
	failedQueued int64
}

func (f *fakeJobStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	return job, nil
}

func (f *fakeJobStore) Claim(_ context.Context, _ *string, _ string, _ time.Duration) (*domain.Job, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.claimResult, nil
}

func (f *fakeJobStore) MarkTerminal(_ context.Context, id string, status domain.JobStatus, lastError *string) error {
	f.terminals = append(f.terminals, terminalCall{jobID: id, status: status, lastError: lastError})
	return nil
}

func (f *fakeJobStore) Reschedule(_ context.Context, id, lastError string, delay time.Duration) error {
	f.rescheduled = append(f.rescheduled, rescheduleCall{jobID: id, lastError: lastError, delay: delay})
	return nil
}

func (f *fakeJobStore) ReleaseStale(_ context.Context) (int64, error) {
	return f.staleCount, nil
}

func (f *fakeJobStore) TallyForRun(_ context.Context, _ string) (database.StatusTally, error) {
	return f.tally, nil
}

func (f *fakeJobStore) FailQueuedForRun(_ context.Context, _, _ string) (int64, error) {
	return f.failedQueued, nil
}

type fakeRunStore struct {
	run           *domain.Run
	appliedStatus domain.RunStatus
	appliedTally  database.StatusTally
	applied       bool
}

func (f *fakeRunStore) GetByID(_ context.Context, _ string) (*domain.Run, error) {
	if f.run == nil {
		return nil, errors.New("run not found")
	}
	return f.run, nil
}

func (f *fakeRunStore) ApplyCounters(_ context.Context, _ string, tally database.StatusTally, status domain.RunStatus) error {
	f.applied = true
	f.appliedTally = tally
	f.appliedStatus = status
	return nil
}

type fakeAnalysisStore struct {
	exists bool
	err    error
}

func (f *fakeAnalysisStore) ExistsForHash(_ context.Context, _, _ string, _ *string) (bool, error) {
	return f.exists, f.err
}

func newQueue(jobs *fakeJobStore, runs *fakeRunStore, analyses *fakeAnalysisStore) *queue.Queue {
	return queue.New(jobs, runs, analyses, "test-worker", logger.NewNop())
}

func TestPickJob_NoneEligible(t *testing.T) {
	jobs := &fakeJobStore{claimErr: database.ErrNoJobAvailable}
	q := newQueue(jobs, &fakeRunStore{}, &fakeAnalysisStore{})

	job, err := q.PickJob(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestPickJob_ReturnsClaimed(t *testing.T) {
	claimed := &domain.Job{ID: "job-1", RunID: "run-1", Status: domain.JobStatusRunning}
	jobs := &fakeJobStore{claimResult: claimed}
	q := newQueue(jobs, &fakeRunStore{}, &fakeAnalysisStore{})

	job, err := q.PickJob(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)
}

func TestUpdateJobStatus_FailureReschedulesWithBackoff(t *testing.T) {
	tests := []struct {
		name         string
		attemptCount int
		wantDelay    time.Duration
	}{
		{"first failure", 0, 10 * time.Second},
		{"second failure", 1, 30 * time.Second},
		{"third failure", 2, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobStore{
				jobs: map[string]*domain.Job{
					"job-1": {ID: "job-1", RunID: "run-1", AttemptCount: tt.attemptCount},
				},
			}
			runs := &fakeRunStore{run: &domain.Run{ID: "run-1", Status: domain.RunStatusRunning}}
			q := newQueue(jobs, runs, &fakeAnalysisStore{})

			err := q.UpdateJobStatus(context.Background(), "job-1", domain.JobStatusFailed, errors.New("fetch timed out"))
			require.NoError(t, err)

			require.Len(t, jobs.rescheduled, 1)
			assert.Equal(t, tt.wantDelay, jobs.rescheduled[0].delay)
			assert.Equal(t, "fetch timed out", jobs.rescheduled[0].lastError)
			assert.Empty(t, jobs.terminals)
			assert.True(t, runs.applied, "run counters must be recomputed")
		})
	}
}

func TestUpdateJobStatus_FailureAtCapIsTerminal(t *testing.T) {
	jobs := &fakeJobStore{
		jobs: map[string]*domain.Job{
			"job-1": {ID: "job-1", RunID: "run-1", AttemptCount: 3},
		},
	}
	runs := &fakeRunStore{run: &domain.Run{ID: "run-1", Status: domain.RunStatusRunning}}
	q := newQueue(jobs, runs, &fakeAnalysisStore{})

	err := q.UpdateJobStatus(context.Background(), "job-1", domain.JobStatusFailed, errors.New("boom"))
	require.NoError(t, err)

	assert.Empty(t, jobs.rescheduled)
	require.Len(t, jobs.terminals, 1)
	assert.Equal(t, domain.JobStatusFailed, jobs.terminals[0].status)
	require.NotNil(t, jobs.terminals[0].lastError)
	assert.Equal(t, "boom", *jobs.terminals[0].lastError)
}

func TestUpdateJobStatus_SucceededAndSkippedAreTerminal(t *testing.T) {
	for _, outcome := range []domain.JobStatus{domain.JobStatusSucceeded, domain.JobStatusSkipped} {
		t.Run(string(outcome), func(t *testing.T) {
			jobs := &fakeJobStore{
				jobs: map[string]*domain.Job{
					"job-1": {ID: "job-1", RunID: "run-1"},
				},
			}
			runs := &fakeRunStore{run: &domain.Run{ID: "run-1", Status: domain.RunStatusRunning}}
			q := newQueue(jobs, runs, &fakeAnalysisStore{})

			err := q.UpdateJobStatus(context.Background(), "job-1", outcome, nil)
			require.NoError(t, err)

			require.Len(t, jobs.terminals, 1)
			assert.Equal(t, outcome, jobs.terminals[0].status)
			assert.Nil(t, jobs.terminals[0].lastError)
		})
	}
}

func TestUpdateJobStatus_RejectsUnsupportedOutcome(t *testing.T) {
	jobs := &fakeJobStore{
		jobs: map[string]*domain.Job{"job-1": {ID: "job-1", RunID: "run-1"}},
	}
	q := newQueue(jobs, &fakeRunStore{}, &fakeAnalysisStore{})

	err := q.UpdateJobStatus(context.Background(), "job-1", domain.JobStatusQueued, nil)
	assert.Error(t, err)
}

func TestUpdateRunCounters_StatusDerivation(t *testing.T) {
	tests := []struct {
		name       string
		current    domain.RunStatus
		tally      database.StatusTally
		wantStatus domain.RunStatus
	}{
		{
			name:       "jobs remain keeps running",
			current:    domain.RunStatusRunning,
			tally:      database.StatusTally{Queued: 2, Succeeded: 1},
			wantStatus: domain.RunStatusRunning,
		},
		{
			name:       "paused run stays paused while jobs remain",
			current:    domain.RunStatusPaused,
			tally:      database.StatusTally{Queued: 1},
			wantStatus: domain.RunStatusPaused,
		},
		{
			name:       "all succeeded completes",
			current:    domain.RunStatusRunning,
			tally:      database.StatusTally{Succeeded: 3},
			wantStatus: domain.RunStatusCompleted,
		},
		{
			name:       "skips count as clean completion",
			current:    domain.RunStatusRunning,
			tally:      database.StatusTally{Succeeded: 2, Skipped: 1},
			wantStatus: domain.RunStatusCompleted,
		},
		{
			name:       "all failed fails",
			current:    domain.RunStatusRunning,
			tally:      database.StatusTally{Failed: 3},
			wantStatus: domain.RunStatusFailed,
		},
		{
			name:       "mixed outcome completes with errors",
			current:    domain.RunStatusRunning,
			tally:      database.StatusTally{Succeeded: 2, Failed: 1},
			wantStatus: domain.RunStatusCompletedWithErrors,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobStore{tally: tt.tally}
			runs := &fakeRunStore{run: &domain.Run{ID: "run-1", Status: tt.current}}
			q := newQueue(jobs, runs, &fakeAnalysisStore{})

			err := q.UpdateRunCounters(context.Background(), "run-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, runs.appliedStatus)
			assert.Equal(t, tt.tally, runs.appliedTally)
		})
	}
}

func TestReleaseStaleLocks(t *testing.T) {
	jobs := &fakeJobStore{staleCount: 2}
	q := newQueue(jobs, &fakeRunStore{}, &fakeAnalysisStore{})

	n, err := q.ReleaseStaleLocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCheckContentHash(t *testing.T) {
	q := newQueue(&fakeJobStore{}, &fakeRunStore{}, &fakeAnalysisStore{exists: true})

	exists, err := q.CheckContentHash(context.Background(), "lesson-1", "abc123", nil)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFailJobTerminally(t *testing.T) {
	jobs := &fakeJobStore{
		jobs: map[string]*domain.Job{"job-1": {ID: "job-1", RunID: "run-1", AttemptCount: 0}},
	}
	runs := &fakeRunStore{run: &domain.Run{ID: "run-1", Status: domain.RunStatusRunning}}
	q := newQueue(jobs, runs, &fakeAnalysisStore{})

	err := q.FailJobTerminally(context.Background(), "job-1", "unknown source type")
	require.NoError(t, err)

	assert.Empty(t, jobs.rescheduled, "terminal failure must not consume the retry budget")
	require.Len(t, jobs.terminals, 1)
	assert.Equal(t, domain.JobStatusFailed, jobs.terminals[0].status)
	assert.True(t, runs.applied)
}

func TestFailQueuedJobs(t *testing.T) {
	jobs := &fakeJobStore{failedQueued: 3, tally: database.StatusTally{Failed: 3}}
	runs := &fakeRunStore{run: &domain.Run{ID: "run-1", Status: domain.RunStatusStopped}}
	q := newQueue(jobs, runs, &fakeAnalysisStore{})

	err := q.FailQueuedJobs(context.Background(), "run-1", "run was stopped")
	require.NoError(t, err)
	assert.True(t, runs.applied)
	assert.Equal(t, domain.RunStatusFailed, runs.appliedStatus)
}
