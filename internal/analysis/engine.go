// Package analysis runs one piece of lesson content through a set of
// metrics in parallel and aggregates the scored results into a single
// persisted analysis record.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/coursecheck/internal/analysis/progress"
	"github.com/jonesrussell/coursecheck/internal/contenthash"
	"github.com/jonesrussell/coursecheck/internal/domain"
	"github.com/jonesrussell/coursecheck/internal/llm"
	"github.com/jonesrussell/coursecheck/internal/logger"
	"github.com/jonesrussell/coursecheck/internal/metrics"
)

const (
	// fallbackTitle replaces the generated title when the title call
	// fails. Title generation never fails an analysis.
	fallbackTitle = "Lesson Analysis"

	// titleContentLimit bounds how much content the title call sees.
	titleContentLimit = 2000

	// interimCeiling is how far interim ticks may advance a metric's
	// progress while its provider call is outstanding. Only a real
	// completion reaches 100.
	interimCeiling = 90

	defaultStagger      = 200 * time.Millisecond
	defaultInterimTick  = 2 * time.Second
	defaultTitleTimeout = 15 * time.Second
)

// ErrAllMetricsFailed is returned when no metric produced a result. The
// analysis record is still finalized as failed before this is surfaced.
var ErrAllMetricsFailed = errors.New("all metric evaluations failed")

// Store is the persistence the engine needs.
type Store interface {
	Create(ctx context.Context, record *domain.AnalysisRecord) error
	Finalize(
		ctx context.Context,
		id string,
		status domain.AnalysisStatus,
		title string,
		results domain.ResultsMap,
		completedAt time.Time,
	) error
	RecordLLMCall(ctx context.Context, call *domain.LLMCall) error
}

// Input describes one analysis request.
type Input struct {
	Content         string
	Model           string
	Metrics         []domain.Metric
	LessonID        *string
	UserID          *string
	SessionID       *string
	ConfigurationID *string
}

// Engine fans one content item out across metrics and providers.
type Engine struct {
	store     Store
	providers *llm.Set
	progress  *progress.Store
	retry     llm.RetryConfig
	logger    logger.Logger
	metrics   *metrics.Metrics

	stagger     time.Duration
	interimTick time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryConfig overrides the provider retry policy.
func WithRetryConfig(cfg llm.RetryConfig) Option {
	return func(e *Engine) { e.retry = cfg }
}

// WithStagger overrides the per-metric start delay.
func WithStagger(d time.Duration) Option {
	return func(e *Engine) { e.stagger = d }
}

// WithInterimTick overrides the interim progress tick interval.
func WithInterimTick(d time.Duration) Option {
	return func(e *Engine) { e.interimTick = d }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine.
func New(
	store Store,
	providers *llm.Set,
	progressStore *progress.Store,
	log logger.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:       store,
		providers:   providers,
		progress:    progressStore,
		retry:       llm.DefaultRetryConfig(),
		logger:      log,
		stagger:     defaultStagger,
		interimTick: defaultInterimTick,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// metricOutcome carries one metric task's result back to the aggregator.
type metricOutcome struct {
	metric string
	result *llm.Result
	err    error
}

// Analyze runs the full analysis lifecycle: persist a running record,
// fan out one task per metric with staggered starts, aggregate, and
// finalize exactly once. Per-metric failures are isolated; the returned
// error is non-nil only for persistence failures or when every metric
// failed.
func (e *Engine) Analyze(ctx context.Context, in Input) (*domain.AnalysisRecord, error) {
	if len(in.Metrics) == 0 {
		return nil, fmt.Errorf("analyze: no metrics to evaluate")
	}

	record := &domain.AnalysisRecord{
		ID:          uuid.NewString(),
		LessonID:    in.LessonID,
		Content:     in.Content,
		Status:      domain.AnalysisStatusRunning,
		Results:     domain.ResultsMap{},
		ModelUsed:   in.Model,
		ContentHash: contenthash.Hash(in.Content),
		UserID:      in.UserID,
		SessionID:   in.SessionID,
	}
	record.ConfigurationSnapshot = configurationSnapshot(in)

	if err := e.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	names := make([]string, len(in.Metrics))
	for i, m := range in.Metrics {
		names[i] = m.Name
	}
	e.progress.Begin(record.ID, names)
	defer e.progress.Discard(record.ID)

	if e.metrics != nil {
		e.metrics.AnalysesStarted.Inc()
	}
	e.logger.Info("analysis started",
		logger.String("analysis_id", record.ID),
		logger.String("model", in.Model),
		logger.Int("metric_count", len(in.Metrics)),
	)

	titleCh := make(chan string, 1)
	go func() {
		titleCh <- e.generateTitle(ctx, in)
	}()

	outcomes := make(chan metricOutcome, len(in.Metrics))
	var wg sync.WaitGroup
	for i, metric := range in.Metrics {
		wg.Add(1)
		go func(idx int, m domain.Metric) {
			defer wg.Done()
			if !e.staggerStart(ctx, idx) {
				outcomes <- metricOutcome{metric: m.Name, err: ctx.Err()}
				return
			}
			result, err := e.evaluateMetric(ctx, record.ID, m, in)
			outcomes <- metricOutcome{metric: m.Name, result: result, err: err}
		}(i, metric)
	}
	wg.Wait()
	close(outcomes)

	results := domain.ResultsMap{}
	for outcome := range outcomes {
		if outcome.err != nil {
			continue
		}
		results[outcome.metric] = domain.MetricResult{
			Score:            outcome.result.Score,
			Comment:          outcome.result.Comment,
			Examples:         outcome.result.Examples,
			DetailedAnalysis: outcome.result.DetailedAnalysis,
		}
	}

	status := aggregateStatus(len(results), len(in.Metrics))
	title := <-titleCh

	completedAt := time.Now().UTC()
	if err := e.store.Finalize(ctx, record.ID, status, title, results, completedAt); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	record.Status = status
	record.Title = title
	record.Results = results
	record.CompletedAt = &completedAt

	if e.metrics != nil {
		e.metrics.AnalysesByOutcome.WithLabelValues(string(status)).Inc()
	}
	e.logger.Info("analysis finished",
		logger.String("analysis_id", record.ID),
		logger.String("status", string(status)),
		logger.Int("succeeded", len(results)),
		logger.Int("failed", len(in.Metrics)-len(results)),
	)

	if status == domain.AnalysisStatusFailed {
		return record, ErrAllMetricsFailed
	}
	return record, nil
}

// staggerStart delays a metric task by its index to avoid bursting
// provider rate limits. Returns false when the context ends first.
func (e *Engine) staggerStart(ctx context.Context, index int) bool {
	if index == 0 || e.stagger <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(time.Duration(index) * e.stagger)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// evaluateMetric scores the content against one metric, tracking
// progress and recording the provider call for audit.
func (e *Engine) evaluateMetric(
	ctx context.Context,
	analysisID string,
	metric domain.Metric,
	in Input,
) (*llm.Result, error) {
	e.progress.Set(analysisID, metric.Name, progress.StatusProcessing, 5)

	stopTicks := e.startInterimTicks(ctx, analysisID, metric.Name)
	defer stopTicks()

	provider, err := e.providers.ForModel(in.Model)
	if err != nil {
		e.progress.Set(analysisID, metric.Name, progress.StatusFailed, 0)
		e.recordCall(ctx, analysisID, metric.Name, "", in.Model, 0, 0, err)
		return nil, err
	}

	prompt := llm.PromptForMetric(metric)
	req := llm.Request{
		Prompt:  prompt,
		Content: in.Content,
		Model:   in.Model,
	}

	start := time.Now()
	result, err := llm.GenerateWithRetry(ctx, provider, req, e.retry)
	elapsed := time.Since(start)

	if e.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		e.metrics.ProviderCalls.WithLabelValues(provider.Name(), outcome).Inc()
		e.metrics.ProviderCallDuration.WithLabelValues(provider.Name()).Observe(elapsed.Seconds())
	}

	if err != nil {
		e.progress.Set(analysisID, metric.Name, progress.StatusFailed, 0)
		e.recordCall(ctx, analysisID, metric.Name, provider.Name(), in.Model, elapsed, len(prompt)+len(in.Content), err)
		e.logger.Warn("metric evaluation failed",
			logger.String("analysis_id", analysisID),
			logger.String("metric", metric.Name),
			logger.Error(err),
		)
		return nil, err
	}

	e.progress.Set(analysisID, metric.Name, progress.StatusCompleted, 100)
	e.recordCall(ctx, analysisID, metric.Name, result.Provider, result.Model, result.Duration, len(prompt)+len(in.Content), nil)

	return result, nil
}

// startInterimTicks advances a metric's progress toward the interim
// ceiling while its provider call is outstanding. Cosmetic only; real
// state comes from the completion or failure transition.
func (e *Engine) startInterimTicks(ctx context.Context, analysisID, metric string) func() {
	if e.interimTick <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.interimTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.progress.Advance(analysisID, metric, 10, interimCeiling)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// generateTitle asks the provider for a short descriptive label. Any
// failure is swallowed and replaced with the fallback title.
func (e *Engine) generateTitle(ctx context.Context, in Input) string {
	provider, err := e.providers.ForModel(in.Model)
	if err != nil {
		return fallbackTitle
	}

	content := in.Content
	if len(content) > titleContentLimit {
		content = content[:titleContentLimit]
	}

	raw, err := provider.GenerateText(ctx, llm.Request{
		Prompt:    llm.TitlePrompt,
		Content:   content,
		Model:     in.Model,
		MaxTokens: 64,
		Timeout:   defaultTitleTimeout,
	})
	if err != nil {
		e.logger.Debug("title generation failed, using fallback", logger.Error(err))
		return fallbackTitle
	}

	title := sanitizeTitle(raw)
	if title == "" {
		return fallbackTitle
	}
	return title
}

// recordCall appends one provider call to the audit trail. Audit write
// failures are logged, never propagated.
func (e *Engine) recordCall(
	ctx context.Context,
	analysisID, metric, provider, model string,
	duration time.Duration,
	promptChars int,
	callErr error,
) {
	call := &domain.LLMCall{
		ID:          uuid.NewString(),
		AnalysisID:  analysisID,
		Metric:      metric,
		Provider:    provider,
		Model:       model,
		DurationMs:  duration.Milliseconds(),
		PromptChars: promptChars,
		Success:     callErr == nil,
	}
	if callErr != nil {
		msg := callErr.Error()
		call.Error = &msg
	}

	if err := e.store.RecordLLMCall(ctx, call); err != nil {
		e.logger.Warn("failed to record llm call",
			logger.String("analysis_id", analysisID),
			logger.String("metric", metric),
			logger.Error(err),
		)
	}
}

// aggregateStatus maps succeeded/total metric counts to an analysis
// status: all → completed, some → partial, none → failed.
func aggregateStatus(succeeded, total int) domain.AnalysisStatus {
	switch {
	case succeeded == total:
		return domain.AnalysisStatusCompleted
	case succeeded > 0:
		return domain.AnalysisStatusPartial
	default:
		return domain.AnalysisStatusFailed
	}
}

// configurationSnapshot captures which metrics and configuration were in
// effect, keyed for the idempotency lookup.
func configurationSnapshot(in Input) domain.JSONBMap {
	names := make([]any, len(in.Metrics))
	for i, m := range in.Metrics {
		names[i] = m.Name
	}

	snapshot := domain.JSONBMap{
		"metrics": names,
		"model":   in.Model,
	}
	if in.ConfigurationID != nil {
		snapshot["configuration_id"] = *in.ConfigurationID
	}
	return snapshot
}

// sanitizeTitle trims quotes and whitespace from a model-generated title.
func sanitizeTitle(raw string) string {
	title := trimQuotes(raw)
	if len(title) > 120 {
		title = title[:120]
	}
	return title
}

func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}
