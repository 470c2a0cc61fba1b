package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	deepseekDefaultMaxTokens = 1024
	deepseekDefaultTimeout   = 60 * time.Second
)

// DeepSeekProvider wraps the DeepSeek API. The service speaks the
// OpenAI-compatible chat-completions contract.
type DeepSeekProvider struct {
	chat         chatClient
	defaultModel string
	timeout      time.Duration
}

// NewDeepSeekProvider creates a DeepSeek provider.
func NewDeepSeekProvider(
	httpClient *http.Client,
	baseURL, apiKey, defaultModel string,
	timeout time.Duration,
) *DeepSeekProvider {
	if timeout <= 0 {
		timeout = deepseekDefaultTimeout
	}
	return &DeepSeekProvider{
		chat: chatClient{
			httpClient: httpClient,
			baseURL:    strings.TrimRight(baseURL, "/"),
			apiKey:     apiKey,
			provider:   "deepseek",
		},
		defaultModel: defaultModel,
		timeout:      timeout,
	}
}

// Name returns the vendor identifier.
func (p *DeepSeekProvider) Name() string { return "deepseek" }

// Generate scores content via chat completions.
func (p *DeepSeekProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = deepseekDefaultMaxTokens
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

// GenerateText returns the model's raw reply.
func (p *DeepSeekProvider) GenerateText(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = deepseekDefaultMaxTokens
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}

	raw, _, err := p.chat.complete(ctx, model, req.Prompt, req.Content, req.Temperature, maxTokens, timeout)
	return raw, err
}
