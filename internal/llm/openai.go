package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jonesrussell/coursecheck/internal/logger"
)

const (
	openaiDefaultMaxTokens = 1024
	openaiDefaultTimeout   = 60 * time.Second

	// openaiFallbackModel is the known-stable identifier tried once when
	// the requested model is rejected as invalid.
	openaiFallbackModel = "gpt-4o"
)

// OpenAIProvider wraps the OpenAI chat-completions API.
type OpenAIProvider struct {
	chat         chatClient
	defaultModel string
	timeout      time.Duration
	logger       logger.Logger
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(
	httpClient *http.Client,
	baseURL, apiKey, defaultModel string,
	timeout time.Duration,
	log logger.Logger,
) *OpenAIProvider {
	if timeout <= 0 {
		timeout = openaiDefaultTimeout
	}
	return &OpenAIProvider{
		chat: chatClient{
			httpClient: httpClient,
			baseURL:    strings.TrimRight(baseURL, "/"),
			apiKey:     apiKey,
			provider:   "openai",
		},
		defaultModel: defaultModel,
		timeout:      timeout,
		logger:       log,
	}
}

// Name returns the vendor identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// Generate scores content via chat completions. If the upstream rejects
// the requested model identifier as invalid, it retries once against a
// known-stable alternate identifier before surfacing the error.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	result, err := p.generateOnce(ctx, model, req)
	if err != nil && isInvalidModel(err) && model != openaiFallbackModel {
		p.logger.Warn("model rejected, retrying against fallback",
			logger.String("requested_model", model),
			logger.String("fallback_model", openaiFallbackModel),
		)
		result, err = p.generateOnce(ctx, openaiFallbackModel, req)
	}

	return result, err
}

// GenerateText returns the model's raw reply.
func (p *OpenAIProvider) GenerateText(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = openaiDefaultMaxTokens
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}

	raw, _, err := p.chat.complete(ctx, model, req.Prompt, req.Content, req.Temperature, maxTokens, timeout)
	return raw, err
}

func (p *OpenAIProvider) generateOnce(ctx context.Context, model string, req Request) (*Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = openaiDefaultMaxTokens
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}

	start := time.Now()
	raw, tokens, err := p.chat.complete(ctx, model, req.Prompt, req.Content, req.Temperature, maxTokens, timeout)
	elapsed := time.Since(start)

	if err != nil {
		return nil, err
	}

	result, parseErr := ParseResult(p.Name(), raw)
	if parseErr != nil {
		return nil, parseErr
	}

	result.TokensUsed = tokens
	result.Duration = elapsed
	result.Provider = p.Name()
	result.Model = model
	return result, nil
}

// isInvalidModel detects an invalid-model rejection.
func isInvalidModel(err error) bool {
	var provErr *Error
	if !errors.As(err, &provErr) {
		return false
	}
	return provErr.Code == ErrInvalidRequest &&
		strings.Contains(strings.ToLower(provErr.Message), "model")
}
