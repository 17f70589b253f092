// Package jobqueue implements a generic single-worker FIFO lane, the
// building block for every "one job at a time per backend" queue the
// dispatcher needs (Flux images, SDXL images, TTS renders). Each call site
// gets its own Lane instance rather than the teacher's one-struct-per-model
// approach, since the shape is identical across models and only the
// backend invoked at the end differs.
package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a Job's place in its lifecycle.
type Status int

const (
	// StatusPending means the job is sitting in the lane, not yet picked up.
	StatusPending Status = iota
	// StatusProcessing means the job is the one active job for its lane.
	StatusProcessing
	// StatusCompleted means the job finished successfully.
	StatusCompleted
	// StatusFailed means the job finished with an error.
	StatusFailed
)

// Job is one unit of work submitted to a Lane.
type Job struct {
	ID        string
	Lane      string
	UserID    int64
	Payload   any
	Status    Status
	Result    any
	Err       error
	ReadyAt   time.Time
	StartedAt time.Time
}

// Lane is a single-worker FIFO queue: at most one job is ever
// StatusProcessing at a time, and jobs are handed out in submission order.
type Lane struct {
	mu         sync.Mutex
	name       string
	order      []string
	jobs       map[string]*Job
	processing bool
	now        func() time.Time
}

// NewLane builds an empty Lane tagged with name, used only for logging and
// in Job.Lane.
func NewLane(name string) *Lane {
	return &Lane{
		name: name,
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Submit enqueues a new job and returns its ID.
func (l *Lane) Submit(userID int64, payload any) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := fmt.Sprintf("%s_%s", l.name, uuid.NewString()[:8])
	job := &Job{
		ID:      id,
		Lane:    l.name,
		UserID:  userID,
		Payload: payload,
		Status:  StatusPending,
		ReadyAt: l.now(),
	}
	l.jobs[id] = job
	l.order = append(l.order, id)
	return id
}

// Position reports a pending job's 1-based position in the lane, or 0 if
// the job is not found or no longer pending.
func (l *Lane) Position(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[id]
	if !ok || job.Status != StatusPending {
		return 0
	}

	pos := 1
	for _, otherID := range l.order {
		if otherID == id {
			return pos
		}
		if other := l.jobs[otherID]; other != nil && other.Status == StatusPending {
			pos++
		}
	}
	return 0
}

// Job returns a copy of the job's current state.
func (l *Lane) Job(id string) (Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Next returns the first pending job and marks it StatusProcessing, or
// false if the lane is empty or a job is already processing. Callers
// should loop calling Next after each Complete/Fail to drain the lane
// one at a time.
func (l *Lane) Next() (Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.processing {
		return Job{}, false
	}
	for _, id := range l.order {
		job := l.jobs[id]
		if job.Status == StatusPending {
			job.Status = StatusProcessing
			job.StartedAt = l.now()
			l.processing = true
			return *job, true
		}
	}
	return Job{}, false
}

// Complete marks id as completed with result and clears the processing
// flag so Next can hand out the next job.
func (l *Lane) Complete(id string, result any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok {
		return
	}
	job.Status = StatusCompleted
	job.Result = result
	l.processing = false
	l.compact()
}

// Fail marks id as failed with err and clears the processing flag.
func (l *Lane) Fail(id string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok {
		return
	}
	job.Status = StatusFailed
	job.Err = err
	l.processing = false
	l.compact()
}

// compact drops finished jobs from the order slice once they're no longer
// needed for position accounting. It leaves them in the jobs map: a caller
// awaiting completion via Job still needs to read the result or error
// after Complete/Fail runs. The caller must hold l.mu.
func (l *Lane) compact() {
	kept := l.order[:0:0]
	for _, id := range l.order {
		job := l.jobs[id]
		if job.Status == StatusPending || job.Status == StatusProcessing {
			kept = append(kept, id)
		}
	}
	l.order = kept
}

// Len reports the number of pending-or-processing jobs in the lane.
func (l *Lane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Run drains the lane one job at a time until ctx is cancelled: it polls
// for the next pending job every pollInterval, runs process synchronously,
// and records the outcome via Complete/Fail. Each lane owns exactly one
// Run goroutine, giving the "at most one PROCESSING job per lane" invariant
// for free.
func (l *Lane) Run(ctx context.Context, pollInterval time.Duration, process func(context.Context, Job) (any, error)) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, ok := l.Next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		result, err := process(ctx, job)
		if err != nil {
			l.Fail(job.ID, err)
			continue
		}
		l.Complete(job.ID, result)
	}
}
