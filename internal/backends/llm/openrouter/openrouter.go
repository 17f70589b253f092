// Package openrouter implements llm.Provider against OpenRouter's
// OpenAI-compatible chat completions endpoint.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sakaibot/internal/backends/llm"
)

const defaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

// Client is an llm.Provider backed by OpenRouter.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New builds a Client with a sane default timeout if httpClient is nil.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: defaultBaseURL}
}

// Name implements llm.Provider.
func (c *Client) Name() string { return "openrouter" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Generate implements llm.Provider.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	var messages []chatMessage
	if req.SystemMessage != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemMessage})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt})

	body := chatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("%w: encode request: %v", llm.ErrPermanent, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, fmt.Errorf("%w: build request: %v", llm.ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return llm.Response{}, fmt.Errorf("%w: %v", llm.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("%w: read response: %v", llm.ErrTransient, err)
	}

	if err := statusToError(resp.StatusCode, raw); err != nil {
		return llm.Response{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return llm.Response{}, fmt.Errorf("%w: decode response: %v", llm.ErrTransient, err)
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("%w: empty choice list", llm.ErrTransient)
	}

	return llm.Response{Text: parsed.Choices[0].Message.Content}, nil
}

func statusToError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429:
		if strings.Contains(strings.ToLower(string(body)), "quota") {
			return fmt.Errorf("%w: status %d", llm.ErrQuotaExhausted, status)
		}
		return fmt.Errorf("%w: status %d", llm.ErrRateLimited, status)
	case status == 400, status == 401, status == 403, status == 404:
		return fmt.Errorf("%w: status %d", llm.ErrPermanent, status)
	case status >= 500:
		return fmt.Errorf("%w: status %d", llm.ErrTransient, status)
	default:
		return fmt.Errorf("%w: unexpected status %d", llm.ErrTransient, status)
	}
}
