// Package image defines the common Generator interface both image
// backends (flux, sdxl) implement.
package image

import (
	"context"
	"errors"
)

var (
	// ErrInvalid means the request (typically the prompt) was rejected by
	// the provider as malformed.
	ErrInvalid = errors.New("image: invalid request")
	// ErrRateLimited means the provider returned a 429-class response.
	ErrRateLimited = errors.New("image: provider rate limited")
	// ErrUnauthorized means the provider rejected the configured key.
	ErrUnauthorized = errors.New("image: unauthorized")
	// ErrServiceError means the provider returned a 5xx-class response.
	ErrServiceError = errors.New("image: service error")
)

// Generator renders prompt into an image and returns the raw bytes plus a
// content-type hint.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (data []byte, contentType string, err error)
}
