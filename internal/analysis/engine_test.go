package analysis_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/coursecheck/internal/analysis"
	"github.com/jonesrussell/coursecheck/internal/analysis/progress"
	"github.com/jonesrussell/coursecheck/internal/contenthash"
	"github.com/jonesrussell/coursecheck/internal/domain"
	"github.com/jonesrussell/coursecheck/internal/llm"
	"github.com/jonesrussell/coursecheck/internal/logger"
)

// fakeProvider routes Generate through a per-request function so tests
// can fail individual metrics.
type fakeProvider struct {
	name   string
	genFn  func(req llm.Request) (*llm.Result, error)
	textFn func(req llm.Request) (string, error)
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	return p.genFn(req)
}

func (p *fakeProvider) GenerateText(_ context.Context, req llm.Request) (string, error) {
	if p.textFn == nil {
		return "Generated Title", nil
	}
	return p.textFn(req)
}

// fakeEngineStore records persistence calls. Metric tasks write
// concurrently, so it is mutex guarded.
type fakeEngineStore struct {
	mu        sync.Mutex
	created   []*domain.AnalysisRecord
	finalized []finalizeCall
	calls     []*domain.LLMCall

	createErr   error
	finalizeErr error
}

type finalizeCall struct {
	id      string
	status  domain.AnalysisStatus
	title   string
	results domain.ResultsMap
}

func (s *fakeEngineStore) Create(_ context.Context, record *domain.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, record)
	return nil
}

func (s *fakeEngineStore) Finalize(
	_ context.Context,
	id string,
	status domain.AnalysisStatus,
	title string,
	results domain.ResultsMap,
	_ time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	s.finalized = append(s.finalized, finalizeCall{id: id, status: status, title: title, results: results})
	return nil
}

func (s *fakeEngineStore) RecordLLMCall(_ context.Context, call *domain.LLMCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return nil
}

func (s *fakeEngineStore) auditFor(metric string) *domain.LLMCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, call := range s.calls {
		if call.Metric == metric {
			return call
		}
	}
	return nil
}

var testMetrics = []domain.Metric{
	{Name: "clarity", PromptText: "CLARITY-PROMPT"},
	{Name: "tone", PromptText: "TONE-PROMPT"},
}

func newEngine(t *testing.T, store *fakeEngineStore, provider llm.Provider) *analysis.Engine {
	t.Helper()
	return analysis.New(
		store,
		llm.NewSet(provider),
		progress.NewStore(),
		logger.NewNop(),
		analysis.WithStagger(0),
		analysis.WithInterimTick(0),
		analysis.WithRetryConfig(llm.RetryConfig{
			MaxAttempts: 1,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		}),
	)
}

func TestAnalyze_AllMetricsSucceed(t *testing.T) {
	store := &fakeEngineStore{}
	provider := &fakeProvider{
		name: "openai",
		genFn: func(req llm.Request) (*llm.Result, error) {
			score := 8
			if strings.Contains(req.Prompt, "TONE-PROMPT") {
				score = 6
			}
			return &llm.Result{Score: score, Comment: "ok", Provider: "openai", Model: req.Model}, nil
		},
		textFn: func(llm.Request) (string, error) { return `"Parsing Basics"`, nil },
	}

	engine := newEngine(t, store, provider)
	content := "Lesson   body text"
	record, err := engine.Analyze(context.Background(), analysis.Input{
		Content: content,
		Model:   "gpt-test",
		Metrics: testMetrics,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.AnalysisStatusCompleted, record.Status)
	assert.Equal(t, "Parsing Basics", record.Title, "quotes stripped from generated title")
	assert.Equal(t, contenthash.Hash(content), record.ContentHash)
	assert.Equal(t, 8, record.Results["clarity"].Score)
	assert.Equal(t, 6, record.Results["tone"].Score)
	require.NotNil(t, record.CompletedAt)

	require.Len(t, store.finalized, 1)
	assert.Equal(t, record.ID, store.finalized[0].id)
	assert.Equal(t, domain.AnalysisStatusCompleted, store.finalized[0].status)

	require.Len(t, store.created, 1)
	snapshot := store.created[0].ConfigurationSnapshot
	assert.Equal(t, "gpt-test", snapshot["model"])
	assert.Len(t, snapshot["metrics"], 2)

	clarityCall := store.auditFor("clarity")
	require.NotNil(t, clarityCall)
	assert.True(t, clarityCall.Success)
	assert.Equal(t, "openai", clarityCall.Provider)
}

func TestAnalyze_OneMetricFailsIsPartial(t *testing.T) {
	store := &fakeEngineStore{}
	provider := &fakeProvider{
		name: "openai",
		genFn: func(req llm.Request) (*llm.Result, error) {
			if strings.Contains(req.Prompt, "TONE-PROMPT") {
				return nil, &llm.Error{Code: llm.ErrBadOutput, Provider: "openai", Message: "no JSON"}
			}
			return &llm.Result{Score: 7, Comment: "ok", Provider: "openai"}, nil
		},
	}

	engine := newEngine(t, store, provider)
	record, err := engine.Analyze(context.Background(), analysis.Input{
		Content: "body",
		Model:   "gpt-test",
		Metrics: testMetrics,
	})
	require.NoError(t, err, "a single metric failure must not fail the analysis")

	assert.Equal(t, domain.AnalysisStatusPartial, record.Status)
	assert.Contains(t, record.Results, "clarity")
	assert.NotContains(t, record.Results, "tone")

	toneCall := store.auditFor("tone")
	require.NotNil(t, toneCall)
	assert.False(t, toneCall.Success)
	require.NotNil(t, toneCall.Error)
	assert.Contains(t, *toneCall.Error, "BAD_OUTPUT")
}

func TestAnalyze_AllMetricsFail(t *testing.T) {
	store := &fakeEngineStore{}
	provider := &fakeProvider{
		name: "openai",
		genFn: func(llm.Request) (*llm.Result, error) {
			return nil, &llm.Error{Code: llm.ErrAuth, Provider: "openai", Message: "bad key"}
		},
	}

	engine := newEngine(t, store, provider)
	record, err := engine.Analyze(context.Background(), analysis.Input{
		Content: "body",
		Model:   "gpt-test",
		Metrics: testMetrics,
	})
	require.ErrorIs(t, err, analysis.ErrAllMetricsFailed)

	// The record is still finalized before the error surfaces.
	require.NotNil(t, record)
	assert.Equal(t, domain.AnalysisStatusFailed, record.Status)
	require.Len(t, store.finalized, 1)
	assert.Equal(t, domain.AnalysisStatusFailed, store.finalized[0].status)
	assert.Empty(t, store.finalized[0].results)
}

func TestAnalyze_TitleFailureUsesFallback(t *testing.T) {
	store := &fakeEngineStore{}
	provider := &fakeProvider{
		name: "openai",
		genFn: func(llm.Request) (*llm.Result, error) {
			return &llm.Result{Score: 5, Comment: "ok"}, nil
		},
		textFn: func(llm.Request) (string, error) {
			return "", errors.New("title backend down")
		},
	}

	engine := newEngine(t, store, provider)
	record, err := engine.Analyze(context.Background(), analysis.Input{
		Content: "body",
		Model:   "gpt-test",
		Metrics: testMetrics[:1],
	})
	require.NoError(t, err)
	assert.Equal(t, "Lesson Analysis", record.Title)
	assert.Equal(t, domain.AnalysisStatusCompleted, record.Status)
}

func TestAnalyze_NoMetrics(t *testing.T) {
	store := &fakeEngineStore{}
	engine := newEngine(t, store, &fakeProvider{name: "openai"})

	_, err := engine.Analyze(context.Background(), analysis.Input{
		Content: "body",
		Model:   "gpt-test",
	})
	require.Error(t, err)
	assert.Empty(t, store.created)
}

func TestAnalyze_CreateFailure(t *testing.T) {
	store := &fakeEngineStore{createErr: errors.New("db down")}
	engine := newEngine(t, store, &fakeProvider{name: "openai"})

	_, err := engine.Analyze(context.Background(), analysis.Input{
		Content: "body",
		Model:   "gpt-test",
		Metrics: testMetrics[:1],
	})
	require.Error(t, err)
	assert.Empty(t, store.finalized)
}

func TestAnalyze_UnroutableModel(t *testing.T) {
	store := &fakeEngineStore{}
	engine := newEngine(t, store, &fakeProvider{name: "openai"})

	_, err := engine.Analyze(context.Background(), analysis.Input{
		Content: "body",
		Model:   "unknown-model",
		Metrics: testMetrics[:1],
	})
	require.ErrorIs(t, err, analysis.ErrAllMetricsFailed)

	call := store.auditFor("clarity")
	require.NotNil(t, call)
	assert.False(t, call.Success)
}
