// Package flux implements image.Generator over a GET-based image
// generation endpoint: the prompt is URL-encoded into the query string and
// the response body is the raw image on 200.
package flux

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sakaibot/internal/backends/image"

	"golang.org/x/time/rate"
)

// fluxRateLimit caps outbound generation requests; the endpoint is a shared,
// often self-hosted GPU box and bursts of requests queue up badly on it.
const (
	fluxRateLimit = rate.Limit(0.5) // one request every two seconds
	fluxRateBurst = 1
)

// Client talks to a Flux-style image generation HTTP endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// New builds a Client against baseURL (e.g. "https://flux.example/generate").
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, limiter: rate.NewLimiter(fluxRateLimit, fluxRateBurst)}
}

// Name implements image.Generator.
func (c *Client) Name() string { return "flux" }

// Generate implements image.Generator.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("%w: %v", image.ErrServiceError, err)
	}

	u := c.baseURL + "?prompt=" + url.QueryEscape(prompt)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build request: %v", image.ErrInvalid, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", image.ErrServiceError, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", fmt.Errorf("%w: read body: %v", image.ErrServiceError, err)
		}
		return data, resp.Header.Get("Content-Type"), nil
	case resp.StatusCode == http.StatusBadRequest:
		return nil, "", fmt.Errorf("%w: status %d", image.ErrInvalid, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", fmt.Errorf("%w: status %d", image.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, "", fmt.Errorf("%w: status %d", image.ErrServiceError, resp.StatusCode)
	default:
		return nil, "", fmt.Errorf("%w: unexpected status %d", image.ErrServiceError, resp.StatusCode)
	}
}
