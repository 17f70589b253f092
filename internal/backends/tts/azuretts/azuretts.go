// Package azuretts implements tts.Provider against a REST speech-synthesis
// endpoint that accepts a JSON {text, voice, rate, volume} body and returns
// the rendered audio as the raw response body (the shape shared by Azure
// Cognitive Services Speech and several compatible TTS gateways).
package azuretts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sakaibot/internal/backends/tts"
)

// Client talks to a JSON-in/audio-out TTS HTTP endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	tempDir    string
}

// New builds a Client against baseURL, authenticating with apiKey and
// writing rendered audio files under tempDir.
func New(baseURL, apiKey, tempDir string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, apiKey: apiKey, tempDir: tempDir}
}

// Name implements tts.Provider.
func (c *Client) Name() string { return "azuretts" }

type synthesizeRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Rate   string `json:"rate,omitempty"`
	Volume string `json:"volume,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize implements tts.Provider.
func (c *Client) Synthesize(ctx context.Context, params tts.Params) (string, error) {
	payload, err := json.Marshal(synthesizeRequest{
		Text:   params.Text,
		Voice:  params.Voice,
		Rate:   params.Rate,
		Volume: params.Volume,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", tts.ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", tts.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "audio/ogg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", tts.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", classifyStatus(resp.StatusCode, body)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read audio body: %v", tts.ErrTransient, err)
	}

	destPath := filepath.Join(c.tempDir, "tts-"+strconv.FormatInt(time.Now().UnixNano(), 36)+".ogg")
	if err := os.WriteFile(destPath, audio, 0o600); err != nil {
		return "", fmt.Errorf("%w: write audio file: %v", tts.ErrTransient, err)
	}
	return destPath, nil
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", tts.ErrPermanent, status, describeError(body))
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", tts.ErrTransient, status)
	case status >= 500:
		return fmt.Errorf("%w: status %d", tts.ErrTransient, status)
	default:
		return fmt.Errorf("%w: unexpected status %d", tts.ErrTransient, status)
	}
}

func describeError(body []byte) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "unrecognized error body"
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	if parsed.Error != "" {
		return parsed.Error
	}
	return "unrecognized error body"
}
