package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubmitAndNext(t *testing.T) {
	l := NewLane("flux")
	id := l.Submit(1, "a cat")

	job, ok := l.Next()
	if !ok {
		t.Fatal("expected Next to return the submitted job")
	}
	if job.ID != id || job.Status != StatusProcessing || job.Payload != "a cat" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestNextRefusesSecondJobWhileProcessing(t *testing.T) {
	l := NewLane("flux")
	l.Submit(1, "a")
	l.Submit(1, "b")

	if _, ok := l.Next(); !ok {
		t.Fatal("expected first Next to succeed")
	}
	if _, ok := l.Next(); ok {
		t.Fatal("expected second Next to be refused while a job is processing")
	}
}

func TestCompleteReleasesLaneForNextJob(t *testing.T) {
	l := NewLane("flux")
	id1 := l.Submit(1, "a")
	l.Submit(1, "b")

	job, _ := l.Next()
	if job.ID != id1 {
		t.Fatalf("expected %s first, got %s", id1, job.ID)
	}
	l.Complete(id1, "result-a")

	job2, ok := l.Next()
	if !ok {
		t.Fatal("expected Next to hand out the second job after Complete")
	}
	if job2.Payload != "b" {
		t.Fatalf("expected second job payload b, got %v", job2.Payload)
	}
}

// TestJobRetrievableAfterComplete guards against compact() deleting a
// finished job from the map before a caller can read its result.
func TestJobRetrievableAfterComplete(t *testing.T) {
	l := NewLane("flux")
	id := l.Submit(1, "a")
	l.Next()
	l.Complete(id, "done")

	job, ok := l.Job(id)
	if !ok {
		t.Fatal("expected completed job to remain retrievable via Job")
	}
	if job.Status != StatusCompleted || job.Result != "done" {
		t.Fatalf("unexpected job state: %+v", job)
	}
}

func TestJobRetrievableAfterFail(t *testing.T) {
	l := NewLane("flux")
	id := l.Submit(1, "a")
	l.Next()
	wantErr := errors.New("boom")
	l.Fail(id, wantErr)

	job, ok := l.Job(id)
	if !ok {
		t.Fatal("expected failed job to remain retrievable via Job")
	}
	if job.Status != StatusFailed || job.Err != wantErr {
		t.Fatalf("unexpected job state: %+v", job)
	}
}

func TestPositionReportsQueueOrder(t *testing.T) {
	l := NewLane("flux")
	id1 := l.Submit(1, "a")
	id2 := l.Submit(1, "b")
	id3 := l.Submit(1, "c")

	if p := l.Position(id1); p != 1 {
		t.Fatalf("Position(id1) = %d, want 1", p)
	}
	if p := l.Position(id2); p != 2 {
		t.Fatalf("Position(id2) = %d, want 2", p)
	}
	if p := l.Position(id3); p != 3 {
		t.Fatalf("Position(id3) = %d, want 3", p)
	}
}

func TestPositionZeroOnceProcessing(t *testing.T) {
	l := NewLane("flux")
	id := l.Submit(1, "a")
	l.Next()

	if p := l.Position(id); p != 0 {
		t.Fatalf("Position() = %d, want 0 once job left Pending", p)
	}
}

func TestLenCountsPendingAndProcessing(t *testing.T) {
	l := NewLane("flux")
	l.Submit(1, "a")
	id2 := l.Submit(1, "b")

	if n := l.Len(); n != 2 {
		t.Fatalf("Len() = %d, want 2", n)
	}
	l.Next()
	l.Complete(l.order[0], "done") // first in order is the processing job

	if n := l.Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1 after completing one job", n)
	}
	if _, ok := l.Job(id2); !ok {
		t.Fatal("expected second job to still be tracked")
	}
}

func TestRunDrainsJobsUntilCancel(t *testing.T) {
	l := NewLane("flux")
	id := l.Submit(1, "a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond, func(_ context.Context, job Job) (any, error) {
			return job.Payload.(string) + "-processed", nil
		})
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		if job, ok := l.Job(id); ok && job.Status == StatusCompleted {
			if job.Result != "a-processed" {
				t.Fatalf("Result = %v, want a-processed", job.Result)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for Run to process the job")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestRunRecordsProcessError(t *testing.T) {
	l := NewLane("flux")
	id := l.Submit(1, "a")
	wantErr := errors.New("backend down")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond, func(_ context.Context, _ Job) (any, error) {
			return nil, wantErr
		})
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		if job, ok := l.Job(id); ok && job.Status == StatusFailed {
			if job.Err != wantErr {
				t.Fatalf("Err = %v, want %v", job.Err, wantErr)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for Run to fail the job")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}
