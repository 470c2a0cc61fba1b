package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicDefaultMaxTokens = 1024
	anthropicDefaultTimeout   = 60 * time.Second
)

// AnthropicProvider wraps the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	timeout      time.Duration
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(apiKey, defaultModel string, timeout time.Duration) *AnthropicProvider {
	if timeout <= 0 {
		timeout = anthropicDefaultTimeout
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
		timeout:      timeout,
	}
}

// Name returns the vendor identifier.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Generate scores content via the Messages API.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	raw, tokens, elapsed, err := p.generateRaw(ctx, req)
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
	result.Model = p.modelFor(req)
	return result, nil
}

// GenerateText returns the model's raw reply.
func (p *AnthropicProvider) GenerateText(ctx context.Context, req Request) (string, error) {
	raw, _, _, err := p.generateRaw(ctx, req)
	return raw, err
}

func (p *AnthropicProvider) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *AnthropicProvider) generateRaw(ctx context.Context, req Request) (string, int, time.Duration, error) {
	model := p.modelFor(req)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: req.Prompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Content)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	message, err := p.client.Messages.New(callCtx, params)
	elapsed := time.Since(start)

	if err != nil {
		return "", 0, elapsed, p.classify(err)
	}

	var raw string
	for _, block := range message.Content {
		raw += block.Text
	}

	tokens := int(message.Usage.InputTokens + message.Usage.OutputTokens)
	return raw, tokens, elapsed, nil
}

// classify maps SDK errors into the shared taxonomy.
func (p *AnthropicProvider) classify(err error) *Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(p.Name(), apiErr.StatusCode, apiErr.Error())
	}
	return wrapTransport(p.Name(), err)
}
