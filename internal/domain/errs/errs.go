// Package errs defines the error taxonomy shared by the dispatcher and its
// collaborators, plus a translator that renders any error as a short,
// secret-free message safe to show the user.
package errs

import (
	"errors"
	"fmt"
)

// Kind tags an error with its taxonomy bucket so Translate can pick a
// user-facing message without type-switching on every concrete type.
type Kind int

const (
	// KindUnknown is the zero value; Translate falls back to a generic message.
	KindUnknown Kind = iota
	// KindConfiguration marks missing/invalid settings. Never retried.
	KindConfiguration
	// KindValidation marks user input that failed the parser or sanitizer.
	KindValidation
	// KindAuthorization marks a command from a sender with no standing to issue it.
	KindAuthorization
	// KindRateLimit marks a principal over its local limit.
	KindRateLimit
	// KindCircuitOpen marks a dependency whose breaker is open.
	KindCircuitOpen
	// KindProviderRateLimit marks a 429-class response from a backend provider.
	KindProviderRateLimit
	// KindProviderQuotaExhausted marks a daily-quota-exhaustion response from a backend provider.
	KindProviderQuotaExhausted
	// KindProviderTransient marks a retriable backend failure.
	KindProviderTransient
	// KindProviderPermanent marks a non-retriable backend failure.
	KindProviderPermanent
	// KindTelegram marks a send/edit/forward failure against the Telegram client.
	KindTelegram
	// KindTimeout marks an operation that exceeded its deadline; treated as transient.
	KindTimeout
)

// Error is a taxonomy-tagged error. Wrap with fmt.Errorf("%w", ...) style via New/Wrap.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// New builds a taxonomy error with a plain message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap builds a taxonomy error around an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, msg: msg, err: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// Retriable reports whether the dispatcher should attempt one more try
// with an alternate credential for this error kind.
func Retriable(kind Kind) bool {
	switch kind {
	case KindProviderRateLimit, KindProviderQuotaExhausted, KindProviderTransient, KindTimeout:
		return true
	default:
		return false
	}
}

// Translate renders err as a short user-facing message. It never includes
// the underlying error text for configuration/provider-permanent kinds,
// since those are the most likely to carry secrets or internal detail.
func Translate(err error) string {
	if err == nil {
		return ""
	}

	switch KindOf(err) {
	case KindConfiguration:
		return "⚠️ Configuration error. Contact the bot owner."
	case KindValidation:
		return "⚠️ " + stripCause(err)
	case KindAuthorization:
		return "" // silently dropped per spec; callers must not send this
	case KindRateLimit:
		return "⏳ " + stripCause(err)
	case KindCircuitOpen:
		return "🔌 Service temporarily unavailable. Try again shortly."
	case KindProviderRateLimit, KindProviderQuotaExhausted:
		return "⏳ Provider is rate-limited on every configured key. Please try again later."
	case KindProviderTransient, KindTimeout:
		return "⚠️ Temporary backend failure. Please try again."
	case KindProviderPermanent:
		return "❌ The backend rejected this request."
	case KindTelegram:
		return "⚠️ Telegram delivery failed."
	default:
		return "❌ Unexpected error."
	}
}

// stripCause returns the error's top-level message without the wrapped
// cause, so the rendering can never leak an API key embedded in a wrapped
// HTTP error.
func stripCause(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.msg
	}
	return "error"
}
