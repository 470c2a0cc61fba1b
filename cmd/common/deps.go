// Package common wires the dependency graph shared by the coursecheck
// subcommands. Everything is constructed once here and injected
// explicitly; there are no package-level registries.
package common

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/coursecheck/internal/analysis"
	"github.com/jonesrussell/coursecheck/internal/analysis/progress"
	"github.com/jonesrussell/coursecheck/internal/config"
	"github.com/jonesrussell/coursecheck/internal/database"
	"github.com/jonesrussell/coursecheck/internal/httpx"
	"github.com/jonesrussell/coursecheck/internal/llm"
	"github.com/jonesrussell/coursecheck/internal/logger"
	"github.com/jonesrussell/coursecheck/internal/metrics"
	"github.com/jonesrussell/coursecheck/internal/queue"
	"github.com/jonesrussell/coursecheck/internal/runner"
	"github.com/jonesrussell/coursecheck/internal/secrets"
	"github.com/jonesrussell/coursecheck/internal/sources"
)

// Deps is the core dependency set every subcommand needs.
type Deps struct {
	Config *config.Config
	Logger logger.Logger
	DB     *sqlx.DB

	Runs     *database.RunRepository
	Jobs     *database.JobRepository
	Analyses *database.AnalysisRepository
}

// Core builds configuration, logging and the database connection.
func Core(cfgFile string) (*Deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	cfg.Logger.SetDefaults()
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &Deps{
		Config:   cfg,
		Logger:   log,
		DB:       db,
		Runs:     database.NewRunRepository(db),
		Jobs:     database.NewJobRepository(db),
		Analyses: database.NewAnalysisRepository(db),
	}, nil
}

// Close releases the core dependencies.
func (d *Deps) Close() {
	if d.DB != nil {
		_ = d.DB.Close()
	}
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}
}

// Pipeline is the full processing dependency set for serve and worker.
type Pipeline struct {
	*Deps

	Metrics  *metrics.Metrics
	Progress *progress.Store
	Queue    *queue.Queue
	Runner   *runner.Runner
}

// BuildPipeline extends Core with the metrics collector, provider set,
// source adapters, analysis engine, queue and runner.
func BuildPipeline(ctx context.Context, cfgFile string) (*Pipeline, error) {
	deps, err := Core(cfgFile)
	if err != nil {
		return nil, err
	}

	cfg := deps.Config
	log := deps.Logger
	m := metrics.New()
	progressStore := progress.NewStore()

	providerSet, err := buildProviders(ctx, cfg, log)
	if err != nil {
		deps.Close()
		return nil, err
	}

	fetchClient := httpx.NewClient(&httpx.ClientConfig{Timeout: cfg.Scraper.FetchTimeout})
	registry := sources.NewRegistry(
		sources.NewScraperAdapter(fetchClient, cfg.Scraper.AllowedHosts, cfg.Scraper.UserAgent, log),
		sources.NewManifestAdapter(fetchClient, cfg.Scraper.UserAgent, log),
	)

	var cipher secrets.Cipher
	if cfg.Secrets.Key != "" {
		cipher, err = secrets.NewSecretboxCipher(cfg.Secrets.Key)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("build credential cipher: %w", err)
		}
	}

	engine := analysis.New(deps.Analyses, providerSet, progressStore, log, analysis.WithMetrics(m))

	q := queue.New(
		deps.Jobs,
		deps.Runs,
		deps.Analyses,
		workerOwner(),
		log,
		queue.WithLockTTL(cfg.Runner.LockTTL),
		queue.WithMetrics(m),
	)

	r := runner.New(
		q,
		database.NewLessonRepository(deps.DB),
		database.NewProgramRepository(deps.DB),
		database.NewCredentialRepository(deps.DB),
		deps.Runs,
		database.NewMetricRepository(deps.DB),
		registry,
		cipher,
		engine,
		log,
	)

	return &Pipeline{
		Deps:     deps,
		Metrics:  m,
		Progress: progressStore,
		Queue:    q,
		Runner:   r,
	}, nil
}

// buildProviders assembles the provider set from configuration. Providers
// without an API key are left out; at least one must be configured.
func buildProviders(ctx context.Context, cfg *config.Config, log logger.Logger) (*llm.Set, error) {
	// The providers enforce their own per-call deadlines, so the shared
	// client's limits must sit above the largest configured call budget
	// or the client aborts calls that are still inside theirs.
	ceiling := providerTimeoutCeiling(cfg.Providers)
	providerClient := httpx.NewClient(&httpx.ClientConfig{
		Timeout:               ceiling + providerClientHeadroom,
		ResponseHeaderTimeout: ceiling,
	})
	var providers []llm.Provider

	if p := cfg.Providers.Anthropic; p.APIKey != "" {
		providers = append(providers, llm.Throttled(
			llm.NewAnthropicProvider(p.APIKey, p.DefaultModel, p.Timeout),
			p.RequestsPerSecond,
		))
	}
	if p := cfg.Providers.OpenAI; p.APIKey != "" {
		providers = append(providers, llm.Throttled(
			llm.NewOpenAIProvider(providerClient, p.BaseURL, p.APIKey, p.DefaultModel, p.Timeout, log),
			p.RequestsPerSecond,
		))
	}
	if p := cfg.Providers.Gemini; p.APIKey != "" {
		gemini, err := llm.NewGeminiProvider(ctx, p.APIKey, p.DefaultModel, p.Timeout)
		if err != nil {
			return nil, fmt.Errorf("build gemini provider: %w", err)
		}
		providers = append(providers, llm.Throttled(gemini, p.RequestsPerSecond))
	}
	if p := cfg.Providers.DeepSeek; p.APIKey != "" {
		providers = append(providers, llm.Throttled(
			llm.NewDeepSeekProvider(providerClient, p.BaseURL, p.APIKey, p.DefaultModel, p.Timeout),
			p.RequestsPerSecond,
		))
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM provider configured: set at least one provider api_key")
	}

	return llm.NewSet(providers...), nil
}

const (
	// providerTimeoutFloor matches the providers' own default call
	// budgets, which apply when a provider's configured timeout is zero.
	providerTimeoutFloor = time.Minute

	// providerClientHeadroom pads the client-level timeout so the
	// per-call context deadline always fires first.
	providerClientHeadroom = 10 * time.Second
)

// providerTimeoutCeiling returns the largest per-call budget across the
// configured providers.
func providerTimeoutCeiling(p config.Providers) time.Duration {
	ceiling := providerTimeoutFloor
	for _, timeout := range []time.Duration{
		p.Anthropic.Timeout,
		p.OpenAI.Timeout,
		p.Gemini.Timeout,
		p.DeepSeek.Timeout,
	} {
		if timeout > ceiling {
			ceiling = timeout
		}
	}
	return ceiling
}

// workerOwner identifies this process on job leases.
func workerOwner() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
