package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const geminiDefaultTimeout = 60 * time.Second

// GeminiProvider wraps the Google Gemini API.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
	timeout      time.Duration
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, apiKey, defaultModel string, timeout time.Duration) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	if timeout <= 0 {
		timeout = geminiDefaultTimeout
	}

	return &GeminiProvider{
		client:       client,
		defaultModel: defaultModel,
		timeout:      timeout,
	}, nil
}

// Name returns the vendor identifier.
func (p *GeminiProvider) Name() string { return "gemini" }

// Generate scores content via the Gemini generateContent API.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Result, error) {
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
func (p *GeminiProvider) GenerateText(ctx context.Context, req Request) (string, error) {
	raw, _, _, err := p.generateRaw(ctx, req)
	return raw, err
}

func (p *GeminiProvider) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *GeminiProvider) generateRaw(ctx context.Context, req Request) (string, int, time.Duration, error) {
	model := p.modelFor(req)
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	start := time.Now()
	resp, err := p.client.Models.GenerateContent(callCtx, model, genai.Text(req.Content), cfg)
	elapsed := time.Since(start)

	if err != nil {
		return "", 0, elapsed, p.classify(err)
	}

	raw := resp.Text()
	if raw == "" {
		return "", 0, elapsed, &Error{Code: ErrBadOutput, Provider: p.Name(), Message: "empty model response"}
	}

	var tokens int
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return raw, tokens, elapsed, nil
}

// classify maps SDK errors into the shared taxonomy.
func (p *GeminiProvider) classify(err error) *Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(p.Name(), apiErr.Code, apiErr.Message)
	}
	return wrapTransport(p.Name(), err)
}
