// Package llm provides a uniform generation contract over multiple LLM
// vendor backends, a shared error taxonomy, and a retry wrapper with
// exponential backoff.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Request is one scoring request against a single metric.
type Request struct {
	// Prompt is the metric's scoring instruction (system role).
	Prompt string
	// Content is the lesson text being scored.
	Content string
	// Model is the vendor model identifier.
	Model string
	// Temperature controls sampling. Zero means the provider default.
	Temperature float64
	// MaxTokens bounds the response length. Zero means the provider default.
	MaxTokens int
	// Timeout bounds the upstream call. Zero means the provider default.
	Timeout time.Duration
}

// Result is a normalized scoring response.
type Result struct {
	Score            int           `json:"score"`
	Comment          string        `json:"comment"`
	Examples         []string      `json:"examples,omitempty"`
	DetailedAnalysis string        `json:"detailed_analysis,omitempty"`
	TokensUsed       int           `json:"tokens_used,omitempty"`
	Duration         time.Duration `json:"-"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
}

// Provider wraps one upstream LLM vendor API.
type Provider interface {
	// Name returns the vendor identifier (anthropic, openai, gemini, deepseek).
	Name() string
	// Generate scores content against a prompt. All failures are
	// normalized into *Error values.
	Generate(ctx context.Context, req Request) (*Result, error)
	// GenerateText returns the model's raw reply without result parsing.
	// Used for lightweight calls such as title generation.
	GenerateText(ctx context.Context, req Request) (string, error)
}

// Set holds the configured providers, built once from configuration and
// injected into the analysis engine.
type Set struct {
	providers map[string]Provider
}

// NewSet creates a provider set.
func NewSet(providers ...Provider) *Set {
	s := &Set{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// Get returns a provider by vendor name.
func (s *Set) Get(name string) (Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not configured: %s", name)
	}
	return p, nil
}

// ForModel resolves the provider responsible for a model identifier.
func (s *Set) ForModel(model string) (Provider, error) {
	name := vendorForModel(model)
	if name == "" {
		return nil, fmt.Errorf("no provider recognizes model %q", model)
	}
	return s.Get(name)
}

// Names returns the configured vendor names, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// vendorForModel maps a model identifier prefix to a vendor name.
func vendorForModel(model string) string {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "gemini"
	case strings.HasPrefix(model, "deepseek"):
		return "deepseek"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return "openai"
	default:
		return ""
	}
}

// Throttled wraps a provider with a rate limiter so metric fan-out cannot
// burst past the vendor's limits. Zero requestsPerSecond returns the
// provider unwrapped.
func Throttled(p Provider, requestsPerSecond float64) Provider {
	if requestsPerSecond <= 0 {
		return p
	}
	return &throttledProvider{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

type throttledProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

func (t *throttledProvider) Name() string { return t.inner.Name() }

func (t *throttledProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, &Error{
			Code:     ErrTimeout,
			Provider: t.inner.Name(),
			Message:  "rate limiter wait cancelled",
			Err:      err,
		}
	}
	return t.inner.Generate(ctx, req)
}

func (t *throttledProvider) GenerateText(ctx context.Context, req Request) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", &Error{
			Code:     ErrTimeout,
			Provider: t.inner.Name(),
			Message:  "rate limiter wait cancelled",
			Err:      err,
		}
	}
	return t.inner.GenerateText(ctx, req)
}
