package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// chatClient is the shared HTTP client for OpenAI-compatible
// chat-completions endpoints. No official Go SDK is used; the providers
// depend only on the wire contract.
type chatClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	provider   string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// maxErrorBody bounds how much of an error response is read for messages.
const maxErrorBody = 64 << 10

// complete performs one chat-completions call and returns the raw reply
// text plus total token usage.
func (c *chatClient) complete(
	ctx context.Context,
	model, systemPrompt, userContent string,
	temperature float64,
	maxTokens int,
	timeout time.Duration,
) (string, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, &Error{Code: ErrInvalidRequest, Provider: c.provider, Message: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(
		callCtx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(body),
	)
	if err != nil {
		return "", 0, &Error{Code: ErrInvalidRequest, Provider: c.provider, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, wrapTransport(c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, c.classifyResponse(resp)
	}

	var parsed chatResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&parsed); decodeErr != nil {
		return "", 0, &Error{
			Code:     ErrBadOutput,
			Provider: c.provider,
			Message:  fmt.Sprintf("malformed completion response: %v", decodeErr),
			Err:      decodeErr,
		}
	}

	if len(parsed.Choices) == 0 {
		return "", 0, &Error{Code: ErrBadOutput, Provider: c.provider, Message: "completion had no choices"}
	}

	return parsed.Choices[0].Message.Content, parsed.Usage.TotalTokens, nil
}

// classifyResponse maps a non-200 response into the shared taxonomy,
// preserving the vendor's error message when one is present.
func (c *chatClient) classifyResponse(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := fmt.Sprintf("status %d", resp.StatusCode)
	var vendorErr chatErrorResponse
	if json.Unmarshal(raw, &vendorErr) == nil && vendorErr.Error.Message != "" {
		message = vendorErr.Error.Message
	}

	return classifyStatus(c.provider, resp.StatusCode, message)
}
