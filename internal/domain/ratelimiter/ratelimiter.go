// Package ratelimiter implements a per-principal sliding-window request
// counter. Unlike a token bucket, it answers "how many calls has this
// principal made in the trailing window" exactly, which is what the
// dispatcher's per-user throttling needs.
package ratelimiter

import (
	"sync"
	"time"
)

// defaultSweepInterval controls how often idle principals are pruned from
// memory so the limiter does not grow unbounded over a long-lived process.
const defaultSweepInterval = 5 * time.Minute

// Limiter enforces "at most Limit calls per Window" independently for each
// principal key (typically a Telegram user id).
type Limiter struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	now      func() time.Time
	hits     map[string][]time.Time
	lastSeen map[string]time.Time

	sweepInterval time.Duration
	stopCh        chan struct{}
	stopped       bool
}

// New builds a Limiter allowing at most limit calls per window, per
// principal key.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		window:        window,
		limit:         limit,
		now:           time.Now,
		hits:          make(map[string][]time.Time),
		lastSeen:      make(map[string]time.Time),
		sweepInterval: defaultSweepInterval,
		stopCh:        make(chan struct{}),
	}
}

// WithClock injects a time source, for deterministic tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow reports whether principal may make one more call right now. On a
// true result, the call is recorded immediately (check-and-record is
// atomic under the limiter's mutex).
func (l *Limiter) Allow(principal string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.lastSeen[principal] = now

	pruned := pruneBefore(l.hits[principal], now.Add(-l.window))
	if len(pruned) >= l.limit {
		l.hits[principal] = pruned
		return false
	}

	l.hits[principal] = append(pruned, now)
	return true
}

// Remaining reports how many more calls principal may make in the current
// window without recording anything.
func (l *Limiter) Remaining(principal string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	pruned := pruneBefore(l.hits[principal], now.Add(-l.window))
	l.hits[principal] = pruned
	remaining := l.limit - len(pruned)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetAt reports when principal's oldest recorded hit will fall out of the
// window, i.e. the earliest time at which Allow could next succeed if it is
// currently refusing. Returns the zero time if principal is not currently
// at its limit.
func (l *Limiter) ResetAt(principal string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := pruneBefore(l.hits[principal], now.Add(-l.window))
	l.hits[principal] = hits
	if len(hits) < l.limit {
		return time.Time{}
	}
	return hits[0].Add(l.window)
}

// pruneBefore returns the suffix of times that are not before cutoff,
// preserving order. times is assumed sorted ascending, which holds because
// Allow only ever appends the current (monotonically non-decreasing) time.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0:0], times[i:]...)
}

// Start launches the background sweep that evicts principals with no
// recent activity, so idle users don't keep a growing map entry forever.
// Each call starts its own sweep goroutine; Stop ends all of them.
func (l *Limiter) Start() {
	go l.sweepLoop()
}

// Stop halts the background sweep. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stopCh)
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	for principal, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.lastSeen, principal)
			delete(l.hits, principal)
			continue
		}
		l.hits[principal] = pruneBefore(l.hits[principal], cutoff)
	}
}
