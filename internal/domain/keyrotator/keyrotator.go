// Package keyrotator manages an ordered pool of provider credentials with
// round-robin failover. A single KeyRotator type serves every backend that
// needs multi-key rotation (LLM providers, TTS, image workers): callers
// parameterize it with a provider label used only for logging.
//
// Rotation policy is strict round-robin starting from the current index;
// the first usable credential wins. current_index changes are serialized
// by the pool's own mutex, so rotation is never parallel.
package keyrotator

import (
	"sync"
	"time"
)

// Status is the health state of a single credential.
type Status int

const (
	// StatusHealthy means the credential has no known problem.
	StatusHealthy Status = iota
	// StatusCooling means the credential failed transiently and is in cooldown.
	StatusCooling
	// StatusDayExhausted means the credential hit a daily quota and is parked until reset.
	StatusDayExhausted
)

// credential is the mutable per-key state. The raw secret is never logged;
// Masked() renders a safe representation for log lines.
type credential struct {
	secret           string
	status           Status
	lastFailure      time.Time
	errorCount       int
	dayExhaustedUntil time.Time
	lastUsed          time.Time
}

// Masked returns the first 4 and last 4 characters of the secret, joined by
// an ellipsis, for safe inclusion in log records.
func (c *credential) Masked() string {
	return maskSecret(c.secret)
}

func maskSecret(secret string) string {
	const head, tail = 4, 4
	if len(secret) <= head+tail {
		return "***"
	}
	return secret[:head] + "..." + secret[len(secret)-tail:]
}

// Credential is the read-only view returned to callers of Current.
type Credential struct {
	Secret string
	Masked string
}

// defaultCooldown is the default dwell time a credential spends in StatusCooling
// after a transient failure, before it is considered usable again.
const defaultCooldown = 60 * time.Second

// referenceTimezone is the timezone in which the daily-quota reset
// ("next midnight") is computed, per the provider's own reset convention.
var referenceTimezone = mustLoadLocation("America/Los_Angeles")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// KeyRotator owns an ordered list of credentials for one provider and
// serializes access to the rotation index and per-credential state.
type KeyRotator struct {
	mu       sync.Mutex
	provider string
	keys     []*credential
	current  int
	cooldown time.Duration
	now      func() time.Time
}

// Option configures a KeyRotator at construction time.
type Option func(*KeyRotator)

// WithCooldown overrides the default transient-failure cooldown window.
func WithCooldown(d time.Duration) Option {
	return func(r *KeyRotator) { r.cooldown = d }
}

// WithClock injects a time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(r *KeyRotator) { r.now = now }
}

// New builds a KeyRotator for provider over the given non-empty secrets.
// Empty strings are dropped. Panics-free: a caller passing no valid
// secrets gets a rotator that always reports NoneAvailable, matching the
// "fail, not block" contract of spec.md's KeyPool.
func New(provider string, secrets []string, opts ...Option) *KeyRotator {
	r := &KeyRotator{
		provider: provider,
		cooldown: defaultCooldown,
		now:      time.Now,
	}
	for _, s := range secrets {
		if s == "" {
			continue
		}
		r.keys = append(r.keys, &credential{secret: s, status: StatusHealthy})
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Len reports the number of configured credentials (including unusable ones).
func (r *KeyRotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// usableLocked reports whether credential i is usable right now. The caller
// must hold r.mu. A DAY_EXHAUSTED credential whose release time has passed
// is lazily promoted back to HEALTHY as a side effect, per spec.md's
// "any->HEALTHY on observed success" plus the release-by-time rule — but
// here the promotion is by elapsed time, not by a success event, matching
// api_key_manager.py's is_available().
func (r *KeyRotator) usableLocked(i int) bool {
	c := r.keys[i]
	now := r.now()

	if c.status == StatusDayExhausted {
		if now.Before(c.dayExhaustedUntil) {
			return false
		}
		c.status = StatusHealthy
		c.dayExhaustedUntil = time.Time{}
	}

	if c.status == StatusHealthy {
		return true
	}

	// StatusCooling: usable again once the cooldown has elapsed.
	if c.lastFailure.IsZero() {
		return true
	}
	return now.After(c.lastFailure.Add(r.cooldown))
}

// scanLocked finds the first usable credential starting at r.current,
// wrapping once around the pool. Returns -1 if none is usable. The caller
// must hold r.mu.
func (r *KeyRotator) scanLocked() int {
	n := len(r.keys)
	if n == 0 {
		return -1
	}
	for step := 0; step < n; step++ {
		idx := (r.current + step) % n
		if r.usableLocked(idx) {
			return idx
		}
	}
	return -1
}

// Current returns the credential the pool should use next, advancing
// current_index to it. ok is false iff every credential is unusable now,
// in which case no state is mutated.
func (r *KeyRotator) Current() (cred Credential, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.scanLocked()
	if idx < 0 {
		return Credential{}, false
	}
	r.current = idx
	c := r.keys[idx]
	return Credential{Secret: c.secret, Masked: c.Masked()}, true
}

// MarkSuccess marks the current credential healthy and resets its error
// count. It does not clear a pending day-exhaustion release timestamp.
func (r *KeyRotator) MarkSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return
	}
	c := r.keys[r.current]
	c.status = StatusHealthy
	c.errorCount = 0
	c.lastUsed = r.now()
}

// MarkTransientFailure puts the current credential into cooldown and
// reports whether another credential remains usable. isRateLimit only
// affects what gets logged by callers; the state transition is identical
// either way.
func (r *KeyRotator) MarkTransientFailure(isRateLimit bool) (otherAvailable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return false
	}
	c := r.keys[r.current]
	c.status = StatusCooling
	c.lastFailure = r.now()
	c.errorCount++
	return r.scanLocked() >= 0
}

// MarkDayExhausted parks the current credential until the next reference-
// timezone midnight (expressed in UTC) and reports whether another
// credential remains usable.
func (r *KeyRotator) MarkDayExhausted() (otherAvailable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return false
	}
	c := r.keys[r.current]
	c.status = StatusDayExhausted
	c.lastFailure = r.now()
	c.errorCount++
	c.dayExhaustedUntil = nextReferenceMidnightUTC(r.now())
	return r.scanLocked() >= 0
}

// nextReferenceMidnightUTC computes the next midnight in referenceTimezone,
// returned in UTC. Mirrors api_key_manager.py's Pacific-reset computation.
func nextReferenceMidnightUTC(now time.Time) time.Time {
	local := now.In(referenceTimezone)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, referenceTimezone)
	if !local.Before(midnight) {
		midnight = midnight.AddDate(0, 0, 1)
	}
	return midnight.UTC()
}

// ResetForModelSwitch clears every day-exhaustion release timestamp and
// rewinds current_index to 0. Different models under the same provider can
// carry independent daily quotas, so a model switch should not inherit the
// previous model's exhaustion state.
func (r *KeyRotator) ResetForModelSwitch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.keys {
		c.dayExhaustedUntil = time.Time{}
		c.errorCount = 0
		c.status = StatusHealthy
	}
	r.current = 0
}

// AllExhausted reports whether every credential is currently unusable.
func (r *KeyRotator) AllExhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanLocked() < 0
}

// KeyStatus is a read-only snapshot of one credential's state, used by
// /status reporting.
type KeyStatus struct {
	Index      int
	Masked     string
	Status     string
	ErrorCount int
	IsCurrent  bool
	Usable     bool
}

// Snapshot returns the current state of every credential, for diagnostics.
func (r *KeyRotator) Snapshot() []KeyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]KeyStatus, 0, len(r.keys))
	for i, c := range r.keys {
		out = append(out, KeyStatus{
			Index:      i,
			Masked:     c.Masked(),
			Status:     statusLabel(c.status),
			ErrorCount: c.errorCount,
			IsCurrent:  i == r.current,
			Usable:     r.usableLocked(i),
		})
	}
	return out
}

func statusLabel(s Status) string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusCooling:
		return "cooling"
	case StatusDayExhausted:
		return "day_exhausted"
	default:
		return "unknown"
	}
}
