// Package gemini implements llm.Provider against Google's Generative
// Language API.
package gemini

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client is an llm.Provider backed by the Gemini REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New builds a Client. httpClient may be nil, in which case a client with
// a conservative default timeout is used.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: defaultBaseURL}
}

// Name implements llm.Provider.
func (c *Client) Name() string { return "gemini" }

type generateRequestBody struct {
	SystemInstruction *content `json:"systemInstruction,omitempty"`
	Contents          []content `json:"contents"`
	GenerationConfig  genConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type genConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type generateResponseBody struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Generate implements llm.Provider.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	body := generateRequestBody{
		Contents: []content{{Parts: []part{{Text: req.UserPrompt}}}},
		GenerationConfig: genConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	if req.SystemMessage != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemMessage}}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("%w: encode request: %v", llm.ErrPermanent, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, req.Model, req.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, fmt.Errorf("%w: build request: %v", llm.ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var parsed generateResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return llm.Response{}, fmt.Errorf("%w: decode response: %v", llm.ErrTransient, err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return llm.Response{}, fmt.Errorf("%w: empty candidate list", llm.ErrTransient)
	}

	return llm.Response{Text: parsed.Candidates[0].Content.Parts[0].Text}, nil
}

func statusToError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429:
		if isQuotaExhausted(body) {
			return fmt.Errorf("%w: daily quota exceeded", llm.ErrQuotaExhausted)
		}
		return fmt.Errorf("%w: status %d", llm.ErrRateLimited, status)
	case status == 400, status == 401, status == 403, status == 404:
		return fmt.Errorf("%w: status %d: %s", llm.ErrPermanent, status, truncate(body, 300))
	case status >= 500:
		return fmt.Errorf("%w: status %d", llm.ErrTransient, status)
	default:
		return fmt.Errorf("%w: unexpected status %d", llm.ErrTransient, status)
	}
}

// isQuotaExhausted distinguishes a per-minute rate limit (retriable with
// the same key shortly after) from an exhausted daily quota (the key is
// unusable until the provider's reset), based on the error message Gemini
// puts in the 429 body.
func isQuotaExhausted(body []byte) bool {
	var parsed struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}
	lower := strings.ToLower(parsed.Error.Message)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "per day")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
