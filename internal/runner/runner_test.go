package runner_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/coursecheck/internal/analysis"
	"github.com/jonesrussell/coursecheck/internal/domain"
	"github.com/jonesrussell/coursecheck/internal/logger"
	"github.com/jonesrussell/coursecheck/internal/runner"
	"github.com/jonesrussell/coursecheck/internal/sources"
)

type statusUpdate struct {
	jobID   string
	outcome domain.JobStatus
	err     error
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*domain.Job

	updates     []statusUpdate
	terminal    map[string]string
	queuedFails []string

	hashUnchanged bool
	hashErr       error
}

func newFakeQueue(jobs ...*domain.Job) *fakeQueue {
	return &fakeQueue{jobs: jobs, terminal: make(map[string]string)}
}

func (q *fakeQueue) PickJob(_ context.Context, runID *string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.jobs {
		if job == nil {
			continue
		}
		if runID != nil && job.RunID != *runID {
			continue
		}
		q.jobs[i] = nil
		return job, nil
	}
	return nil, nil
}

func (q *fakeQueue) UpdateJobStatus(_ context.Context, jobID string, outcome domain.JobStatus, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updates = append(q.updates, statusUpdate{jobID: jobID, outcome: outcome, err: jobErr})
	return nil
}

func (q *fakeQueue) FailJobTerminally(_ context.Context, jobID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.terminal[jobID] = reason
	return nil
}

func (q *fakeQueue) FailQueuedJobs(_ context.Context, runID, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queuedFails = append(q.queuedFails, runID)
	return nil
}

func (q *fakeQueue) CheckContentHash(_ context.Context, _, _ string, _ *string) (bool, error) {
	return q.hashUnchanged, q.hashErr
}

type fakeLessons struct {
	mu      sync.Mutex
	lessons map[string]*domain.Lesson
	updated map[string]string
	upserts []*domain.Lesson
}

func (s *fakeLessons) GetByID(_ context.Context, id string) (*domain.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lesson, ok := s.lessons[id]
	if !ok {
		return nil, fmt.Errorf("lesson %s not found", id)
	}
	return lesson, nil
}

func (s *fakeLessons) UpdateContent(_ context.Context, id, content, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updated == nil {
		s.updated = make(map[string]string)
	}
	s.updated[id] = content
	return nil
}

func (s *fakeLessons) Upsert(_ context.Context, lesson *domain.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, lesson)
	return nil
}

type fakePrograms struct {
	programs map[string]*domain.Program
}

func (s *fakePrograms) GetByID(_ context.Context, id string) (*domain.Program, error) {
	program, ok := s.programs[id]
	if !ok {
		return nil, fmt.Errorf("program %s not found", id)
	}
	return program, nil
}

type fakeCredentials struct {
	credentials map[string]*domain.Credential
}

func (s *fakeCredentials) GetByID(_ context.Context, id string) (*domain.Credential, error) {
	credential, ok := s.credentials[id]
	if !ok {
		return nil, fmt.Errorf("credential %s not found", id)
	}
	return credential, nil
}

type fakeRuns struct {
	runs map[string]*domain.Run
}

func (s *fakeRuns) GetByID(_ context.Context, id string) (*domain.Run, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return run, nil
}

type fakeMetricStore struct {
	metrics []domain.Metric
	err     error
}

func (s *fakeMetricStore) ListActiveMetrics(_ context.Context, _ string) ([]domain.Metric, error) {
	return s.metrics, s.err
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	inputs []analysis.Input
	err    error
}

func (a *fakeAnalyzer) Analyze(_ context.Context, in analysis.Input) (*domain.AnalysisRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inputs = append(a.inputs, in)
	if a.err != nil {
		return nil, a.err
	}
	return &domain.AnalysisRecord{ID: "rec-1", Status: domain.AnalysisStatusCompleted}, nil
}

// fakeAdapter serves canned enumeration and content responses.
type fakeAdapter struct {
	sourceType string
	valid      sources.ValidationResult
	refs       []sources.LessonRef
	content    *sources.Content
	fetchErr   error
	enumErr    error

	lastAuth *sources.Auth
}

func (a *fakeAdapter) Type() string { return a.sourceType }

func (a *fakeAdapter) Validate(string) sources.ValidationResult { return a.valid }

func (a *fakeAdapter) EnumerateLessons(_ context.Context, _ string, auth *sources.Auth) ([]sources.LessonRef, error) {
	a.lastAuth = auth
	return a.refs, a.enumErr
}

func (a *fakeAdapter) FetchLessonContent(_ context.Context, _ string, auth *sources.Auth) (*sources.Content, error) {
	a.lastAuth = auth
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return a.content, nil
}

// noopCipher passes credentials through unchanged.
type noopCipher struct{ decryptErr error }

func (c *noopCipher) Encrypt(plaintext []byte) ([]byte, error) { return plaintext, nil }

func (c *noopCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if c.decryptErr != nil {
		return nil, c.decryptErr
	}
	return ciphertext, nil
}

// harness wires a runner over fakes with one healthy job ready to claim.
type harness struct {
	queue       *fakeQueue
	lessons     *fakeLessons
	programs    *fakePrograms
	credentials *fakeCredentials
	runs        *fakeRuns
	metricStore *fakeMetricStore
	adapter     *fakeAdapter
	analyzer    *fakeAnalyzer
	runner      *runner.Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	credID := "cred-1"
	h := &harness{
		queue: newFakeQueue(&domain.Job{
			ID: "job-1", RunID: "run-1", ProgramID: "prog-1", LessonID: "lesson-1",
		}),
		lessons: &fakeLessons{lessons: map[string]*domain.Lesson{
			"lesson-1": {ID: "lesson-1", ProgramID: "prog-1", SourceURL: "https://example.com/l/1"},
		}},
		programs: &fakePrograms{programs: map[string]*domain.Program{
			"prog-1": {ID: "prog-1", SourceType: "scraper", RootURL: "https://example.com/course", CredentialID: &credID},
		}},
		credentials: &fakeCredentials{credentials: map[string]*domain.Credential{
			"cred-1": {ID: "cred-1", ProgramID: "prog-1", Ciphertext: []byte("session=abc")},
		}},
		runs: &fakeRuns{runs: map[string]*domain.Run{
			"run-1": {ID: "run-1", ProgramID: "prog-1", UserID: "user-1",
				Status: domain.RunStatusRunning, Model: "gpt-test", MetricsMode: domain.MetricsModeFixed},
		}},
		metricStore: &fakeMetricStore{},
		adapter: &fakeAdapter{
			sourceType: "scraper",
			valid:      sources.ValidationResult{OK: true},
			content:    &sources.Content{Text: "lesson body", Hash: "hash-1"},
		},
		analyzer: &fakeAnalyzer{},
	}

	h.runner = runner.New(
		h.queue, h.lessons, h.programs, h.credentials, h.runs, h.metricStore,
		sources.NewRegistry(h.adapter), &noopCipher{}, h.analyzer, logger.NewNop(),
	)
	return h
}

func (h *harness) lastUpdate(t *testing.T) statusUpdate {
	t.Helper()
	require.NotEmpty(t, h.queue.updates)
	return h.queue.updates[len(h.queue.updates)-1]
}

func TestProcessTick_EmptyQueue(t *testing.T) {
	h := newHarness(t)
	h.queue.jobs = nil

	processed := h.runner.ProcessTick(context.Background(), 4, nil)
	assert.Equal(t, 0, processed)
	assert.Empty(t, h.queue.updates)
}

func TestProcessTick_SuccessPath(t *testing.T) {
	h := newHarness(t)

	processed := h.runner.ProcessTick(context.Background(), 1, nil)
	assert.Equal(t, 1, processed)

	update := h.lastUpdate(t)
	assert.Equal(t, "job-1", update.jobID)
	assert.Equal(t, domain.JobStatusSucceeded, update.outcome)

	assert.Equal(t, "lesson body", h.lessons.updated["lesson-1"])

	require.Len(t, h.analyzer.inputs, 1)
	in := h.analyzer.inputs[0]
	assert.Equal(t, "lesson body", in.Content)
	assert.Equal(t, "gpt-test", in.Model)
	assert.Len(t, in.Metrics, len(domain.StandardMetrics()), "fixed mode uses the standard set")
	require.NotNil(t, in.LessonID)
	assert.Equal(t, "lesson-1", *in.LessonID)

	require.NotNil(t, h.adapter.lastAuth, "decrypted credential reaches the adapter")
	assert.Equal(t, "session=abc", h.adapter.lastAuth.Cookie)
}

func TestProcessTick_PausedRunRequeuesJob(t *testing.T) {
	h := newHarness(t)
	h.runs.runs["run-1"].Status = domain.RunStatusPaused

	h.runner.ProcessTick(context.Background(), 1, nil)

	update := h.lastUpdate(t)
	assert.Equal(t, domain.JobStatusFailed, update.outcome)
	assert.Empty(t, h.queue.queuedFails, "pause does not drain the queue")
	assert.Empty(t, h.analyzer.inputs)
}

func TestProcessTick_StoppedRunDrainsQueue(t *testing.T) {
	h := newHarness(t)
	h.runs.runs["run-1"].Status = domain.RunStatusStopped

	h.runner.ProcessTick(context.Background(), 1, nil)

	update := h.lastUpdate(t)
	assert.Equal(t, domain.JobStatusFailed, update.outcome)
	assert.Equal(t, []string{"run-1"}, h.queue.queuedFails)
}

func TestProcessTick_UnchangedHashSkips(t *testing.T) {
	h := newHarness(t)
	h.queue.hashUnchanged = true

	h.runner.ProcessTick(context.Background(), 1, nil)

	update := h.lastUpdate(t)
	assert.Equal(t, domain.JobStatusSkipped, update.outcome)
	assert.Empty(t, h.analyzer.inputs)
	assert.Empty(t, h.lessons.updated, "skipped jobs do not rewrite cached content")
}

func TestProcessTick_SessionExpiredIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.adapter.fetchErr = fmt.Errorf("fetch: %w", sources.ErrSessionExpired)

	h.runner.ProcessTick(context.Background(), 1, nil)

	reason, ok := h.queue.terminal["job-1"]
	require.True(t, ok)
	assert.Contains(t, reason, "re-authenticate")
	assert.Empty(t, h.queue.updates, "no retry budget is spent on expired sessions")
}

func TestProcessTick_TransientFetchErrorIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.adapter.fetchErr = errors.New("connection reset")

	h.runner.ProcessTick(context.Background(), 1, nil)

	update := h.lastUpdate(t)
	assert.Equal(t, domain.JobStatusFailed, update.outcome)
	assert.Empty(t, h.queue.terminal)
}

func TestProcessTick_DecryptFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.runner = runner.New(
		h.queue, h.lessons, h.programs, h.credentials, h.runs, h.metricStore,
		sources.NewRegistry(h.adapter), &noopCipher{decryptErr: errors.New("key mismatch")},
		h.analyzer, logger.NewNop(),
	)

	h.runner.ProcessTick(context.Background(), 1, nil)

	reason, ok := h.queue.terminal["job-1"]
	require.True(t, ok)
	assert.Contains(t, reason, "re-authenticate")
}

func TestProcessTick_MissingCipherIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.runner = runner.New(
		h.queue, h.lessons, h.programs, h.credentials, h.runs, h.metricStore,
		sources.NewRegistry(h.adapter), nil, h.analyzer, logger.NewNop(),
	)

	h.runner.ProcessTick(context.Background(), 1, nil)
	_, ok := h.queue.terminal["job-1"]
	assert.True(t, ok)
}

func TestProcessTick_UnknownSourceTypeIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.programs.programs["prog-1"].SourceType = "ftp"

	h.runner.ProcessTick(context.Background(), 1, nil)

	reason, ok := h.queue.terminal["job-1"]
	require.True(t, ok)
	assert.Contains(t, reason, "unknown source type")
}

func TestProcessTick_MissingRunIsTerminal(t *testing.T) {
	h := newHarness(t)
	delete(h.runs.runs, "run-1")

	h.runner.ProcessTick(context.Background(), 1, nil)

	reason, ok := h.queue.terminal["job-1"]
	require.True(t, ok)
	assert.Contains(t, reason, "load run")
}

func TestProcessTick_AnalyzeFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.analyzer.err = analysis.ErrAllMetricsFailed

	h.runner.ProcessTick(context.Background(), 1, nil)

	update := h.lastUpdate(t)
	assert.Equal(t, domain.JobStatusFailed, update.outcome)
	assert.ErrorIs(t, update.err, analysis.ErrAllMetricsFailed)
}

func TestProcessTick_ConfigurableMetrics(t *testing.T) {
	h := newHarness(t)
	configID := "config-1"
	run := h.runs.runs["run-1"]
	run.MetricsMode = domain.MetricsModeConfigurable
	run.MetricConfigurationID = &configID
	h.metricStore.metrics = []domain.Metric{{Name: "tone", PromptText: "judge the tone"}}

	h.runner.ProcessTick(context.Background(), 1, nil)

	require.Len(t, h.analyzer.inputs, 1)
	require.Len(t, h.analyzer.inputs[0].Metrics, 1)
	assert.Equal(t, "tone", h.analyzer.inputs[0].Metrics[0].Name)
}

func TestProcessTick_EmptyConfigurationIsTerminal(t *testing.T) {
	h := newHarness(t)
	configID := "config-1"
	run := h.runs.runs["run-1"]
	run.MetricsMode = domain.MetricsModeConfigurable
	run.MetricConfigurationID = &configID

	h.runner.ProcessTick(context.Background(), 1, nil)

	reason, ok := h.queue.terminal["job-1"]
	require.True(t, ok)
	assert.Contains(t, reason, "no active metrics")
}

func TestProcessTick_RunScopedHonorsRunConcurrency(t *testing.T) {
	h := newHarness(t)
	h.runs.runs["run-1"].MaxConcurrency = 2
	h.queue.jobs = []*domain.Job{
		{ID: "job-1", RunID: "run-1", ProgramID: "prog-1", LessonID: "lesson-1"},
		{ID: "job-2", RunID: "run-1", ProgramID: "prog-1", LessonID: "lesson-1"},
		{ID: "job-3", RunID: "run-1", ProgramID: "prog-1", LessonID: "lesson-1"},
	}

	target := "run-1"
	processed := h.runner.ProcessTick(context.Background(), 5, &target)
	assert.Equal(t, 2, processed, "the run's own limit overrides the caller's default")

	// The third job stays queued for the next tick.
	remaining := 0
	for _, job := range h.queue.jobs {
		if job != nil {
			remaining++
		}
	}
	assert.Equal(t, 1, remaining)
}

func TestProcessTick_RunWithoutLimitUsesDefault(t *testing.T) {
	h := newHarness(t)
	h.queue.jobs = []*domain.Job{
		{ID: "job-1", RunID: "run-1", ProgramID: "prog-1", LessonID: "lesson-1"},
		{ID: "job-2", RunID: "run-1", ProgramID: "prog-1", LessonID: "lesson-1"},
	}

	target := "run-1"
	processed := h.runner.ProcessTick(context.Background(), 2, &target)
	assert.Equal(t, 2, processed)
}

func TestProcessTick_RunScopedClaim(t *testing.T) {
	h := newHarness(t)
	h.queue.jobs = []*domain.Job{
		{ID: "job-other", RunID: "run-2", ProgramID: "prog-1", LessonID: "lesson-1"},
	}

	target := "run-1"
	processed := h.runner.ProcessTick(context.Background(), 1, &target)
	assert.Equal(t, 0, processed)
}

func TestEnumerateProgram(t *testing.T) {
	h := newHarness(t)
	h.adapter.refs = []sources.LessonRef{
		{Title: "Intro", URL: "https://example.com/l/1", Order: 1},
		{Title: "Parsing", URL: "https://example.com/l/2", Order: 2},
	}

	count, err := h.runner.EnumerateProgram(context.Background(), "prog-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.Len(t, h.lessons.upserts, 2)
	first := h.lessons.upserts[0]
	assert.Equal(t, "prog-1", first.ProgramID)
	assert.Equal(t, "Intro", first.Title)
	assert.Equal(t, 1, first.Position)
	assert.NotEmpty(t, first.ID)
}

func TestEnumerateProgram_RejectedRootURL(t *testing.T) {
	h := newHarness(t)
	h.adapter.valid = sources.ValidationResult{OK: false, Reason: "host not allowed"}

	_, err := h.runner.EnumerateProgram(context.Background(), "prog-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host not allowed")
}

func TestEnumerateProgram_SessionExpiredPassesThrough(t *testing.T) {
	h := newHarness(t)
	h.adapter.enumErr = sources.ErrSessionExpired

	_, err := h.runner.EnumerateProgram(context.Background(), "prog-1")
	assert.ErrorIs(t, err, sources.ErrSessionExpired)
}
