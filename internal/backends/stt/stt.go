// Package stt implements the /stt command's transcription backend: a
// primary provider with an optional fallback stack, per the "stack of
// implementations" pattern used when one remote speech-to-text service is
// degraded or unconfigured.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// ErrAllProvidersFailed is returned when every provider in the stack
// failed for a given request.
var ErrAllProvidersFailed = errors.New("stt: all providers failed")

// Provider transcribes the audio file at path into text.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, path string) (string, error)
}

// Stack tries each Provider in order, falling through to the next on
// failure. Built from configuration: typically a local/primary provider
// followed by one hosted fallback.
type Stack struct {
	providers []Provider
}

// NewStack builds a Stack from providers in priority order.
func NewStack(providers ...Provider) *Stack {
	return &Stack{providers: providers}
}

// Transcribe tries each provider in order and returns the first success.
// If every provider fails, it returns an error wrapping ErrAllProvidersFailed
// whose message includes the last error seen (the last error itself is not
// wrapped); an empty stack returns ErrAllProvidersFailed as is.
func (s *Stack) Transcribe(ctx context.Context, path string) (string, string, error) {
	var lastErr error
	for _, p := range s.providers {
		text, err := p.Transcribe(ctx, path)
		if err == nil {
			return text, p.Name(), nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return "", "", ErrAllProvidersFailed
	}
	return "", "", fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}
