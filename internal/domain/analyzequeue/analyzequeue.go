// Package analyzequeue prevents concurrent /analyze runs against the same
// chat. It is an admit-once lock, not a real queue: a chat that already has
// an analysis running rejects the next request immediately rather than
// waiting for a turn. A background reaper releases locks that outlive
// Timeout, since a crashed or hung analysis must not wedge a chat forever.
package analyzequeue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Timeout is how long an analysis may hold its chat's lock before the
// reaper force-releases it.
const Timeout = 5 * time.Minute

// CleanupInterval is how often the reaper sweeps for timed-out locks.
const CleanupInterval = 1 * time.Minute

// Request describes one in-flight analysis.
type Request struct {
	ChatID       int64
	UserID       int64
	AnalysisType string
	StartedAt    time.Time
	RequestID    string
}

// Queue is safe for concurrent use. The zero value is not usable; build
// with New.
type Queue struct {
	mu     sync.Mutex
	active map[int64]*Request
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds an empty Queue. Call Start to launch the background reaper.
func New() *Queue {
	return &Queue{
		active: make(map[int64]*Request),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// TryStart attempts to acquire the lock for chatID. ok is false if another
// analysis is already active for this chat; the caller should show the
// user a "analysis in progress" message and do nothing else.
func (q *Queue) TryStart(chatID, userID int64, analysisType string) (req Request, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, busy := q.active[chatID]; busy {
		return Request{}, false
	}

	r := &Request{
		ChatID:       chatID,
		UserID:       userID,
		AnalysisType: analysisType,
		StartedAt:    q.now(),
		RequestID:    fmt.Sprintf("analyze_%s", uuid.NewString()[:8]),
	}
	q.active[chatID] = r
	return *r, true
}

// Complete releases chatID's lock after a successful analysis.
func (q *Queue) Complete(chatID int64) {
	q.release(chatID)
}

// Fail releases chatID's lock after a failed analysis. Behaviorally
// identical to Complete; kept distinct so callers' intent is clear in
// logs and so future divergence (e.g. backoff on failure) has a seam.
func (q *Queue) Fail(chatID int64) {
	q.release(chatID)
}

func (q *Queue) release(chatID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, chatID)
}

// Active returns the in-flight request for chatID, if any.
func (q *Queue) Active(chatID int64) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.active[chatID]
	if !ok {
		return Request{}, false
	}
	return *r, true
}

// Start launches the background reaper. Safe to call once per Queue.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.reapLoop()
}

// Stop halts the reaper and waits for it to exit. Safe to call multiple
// times.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

func (q *Queue) reapLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.reapStale()
		}
	}
}

func (q *Queue) reapStale() {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-Timeout)
	for chatID, req := range q.active {
		if req.StartedAt.Before(cutoff) {
			delete(q.active, chatID)
		}
	}
}
