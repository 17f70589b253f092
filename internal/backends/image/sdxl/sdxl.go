// Package sdxl implements image.Generator over a POST-based image
// generation endpoint authenticated with a bearer token.
package sdxl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sakaibot/internal/backends/image"

	"golang.org/x/time/rate"
)

// sdxlRateLimit caps outbound generation requests to the hosted endpoint.
const (
	sdxlRateLimit = rate.Limit(0.5) // one request every two seconds
	sdxlRateBurst = 1
)

// Client talks to an SDXL-style image generation HTTP endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

// New builds a Client against baseURL, authenticating with apiKey.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, apiKey: apiKey, limiter: rate.NewLimiter(sdxlRateLimit, sdxlRateBurst)}
}

// Name implements image.Generator.
func (c *Client) Name() string { return "sdxl" }

type requestBody struct {
	Prompt string `json:"prompt"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Generate implements image.Generator.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("%w: %v", image.ErrServiceError, err)
	}

	payload, err := json.Marshal(requestBody{Prompt: prompt})
	if err != nil {
		return nil, "", fmt.Errorf("%w: encode request: %v", image.ErrInvalid, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("%w: build request: %v", image.ErrInvalid, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", image.ErrServiceError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", fmt.Errorf("%w: read body: %v", image.ErrServiceError, err)
		}
		return data, resp.Header.Get("Content-Type"), nil
	}

	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return nil, "", fmt.Errorf("%w: %s", image.ErrInvalid, describeError(body))
	case http.StatusUnauthorized:
		return nil, "", fmt.Errorf("%w: status %d", image.ErrUnauthorized, resp.StatusCode)
	case http.StatusMethodNotAllowed:
		return nil, "", fmt.Errorf("%w: status %d (wrong method)", image.ErrInvalid, resp.StatusCode)
	case http.StatusTooManyRequests:
		return nil, "", fmt.Errorf("%w: status %d", image.ErrRateLimited, resp.StatusCode)
	default:
		if resp.StatusCode >= 500 {
			return nil, "", fmt.Errorf("%w: status %d", image.ErrServiceError, resp.StatusCode)
		}
		return nil, "", fmt.Errorf("%w: unexpected status %d", image.ErrServiceError, resp.StatusCode)
	}
}

func describeError(body []byte) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil || (parsed.Error == "" && parsed.Details == "") {
		return "invalid request"
	}
	if parsed.Details != "" {
		return parsed.Error + ": " + parsed.Details
	}
	return parsed.Error
}
