// Package llm defines the provider-agnostic interface the dispatcher calls
// into for every AI text command, plus the error classification each
// concrete backend (gemini, openrouter) must map its own HTTP responses
// onto.
package llm

import (
	"context"
	"errors"
)

// Request is a single text-generation call.
type Request struct {
	Model         string
	SystemMessage string
	UserPrompt    string
	MaxTokens     int
	Temperature   float64
	APIKey        string
}

// Response is a successful generation result.
type Response struct {
	Text string
}

// Sentinel errors a Provider must return (wrapped, via errors.Is) so the
// dispatcher can drive KeyRotator transitions without parsing messages.
var (
	// ErrRateLimited means the provider returned a 429-class response.
	ErrRateLimited = errors.New("llm: provider rate limited")
	// ErrQuotaExhausted means the provider's daily quota has been used up.
	ErrQuotaExhausted = errors.New("llm: provider daily quota exhausted")
	// ErrTransient means a retriable server-side failure (5xx, timeout).
	ErrTransient = errors.New("llm: provider transient failure")
	// ErrPermanent means a non-retriable failure (bad request, auth, etc).
	ErrPermanent = errors.New("llm: provider permanent failure")
)

// Provider is implemented by each concrete LLM backend.
type Provider interface {
	// Name identifies the provider for logging (e.g. "gemini", "openrouter").
	Name() string
	// Generate performs one text-generation call. On failure, the returned
	// error wraps exactly one of the sentinel errors above via errors.Is.
	Generate(ctx context.Context, req Request) (Response, error)
}

// Classify maps an arbitrary backend error to one of the sentinel kinds,
// defaulting to ErrTransient for anything unrecognized — failing open
// toward retry is safer than silently dropping a recoverable request.
func Classify(err error) error {
	switch {
	case errors.Is(err, ErrRateLimited):
		return ErrRateLimited
	case errors.Is(err, ErrQuotaExhausted):
		return ErrQuotaExhausted
	case errors.Is(err, ErrPermanent):
		return ErrPermanent
	default:
		return ErrTransient
	}
}
