// Package tts implements the /tts command's audio-rendering backend.
package tts

import (
	"context"
	"errors"
)

// Params controls voice rendering. Rate and Volume are signed percentage
// strings already validated by the command parser (e.g. "+10%", "-20%").
type Params struct {
	Text   string
	Voice  string
	Rate   string
	Volume string
}

// ErrTransient marks a retriable TTS failure (network, 5xx).
var ErrTransient = errors.New("tts: transient failure")

// ErrPermanent marks a non-retriable TTS failure (bad voice, auth).
var ErrPermanent = errors.New("tts: permanent failure")

// Provider renders Params into an audio file and returns its path. The
// caller owns cleanup of the returned file.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, params Params) (audioPath string, err error)
}
