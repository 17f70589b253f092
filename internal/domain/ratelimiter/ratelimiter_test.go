package ratelimiter

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(2, time.Minute)

	if !l.Allow("u1") {
		t.Fatal("first call should be allowed")
	}
	if !l.Allow("u1") {
		t.Fatal("second call should be allowed")
	}
	if l.Allow("u1") {
		t.Fatal("third call should be refused")
	}
}

func TestAllowIsPerPrincipal(t *testing.T) {
	l := New(1, time.Minute)

	if !l.Allow("u1") {
		t.Fatal("u1 first call should be allowed")
	}
	if !l.Allow("u2") {
		t.Fatal("u2 is a separate principal and should be allowed")
	}
	if l.Allow("u1") {
		t.Fatal("u1 second call should be refused")
	}
}

func TestAllowWindowExpires(t *testing.T) {
	now := time.Now()
	clock := now
	l := New(1, time.Minute).WithClock(func() time.Time { return clock })

	if !l.Allow("u1") {
		t.Fatal("first call should be allowed")
	}
	if l.Allow("u1") {
		t.Fatal("second call within window should be refused")
	}

	clock = now.Add(2 * time.Minute)
	if !l.Allow("u1") {
		t.Fatal("call after window elapses should be allowed")
	}
}

func TestRemainingDoesNotRecord(t *testing.T) {
	l := New(3, time.Minute)
	l.Allow("u1")

	if r := l.Remaining("u1"); r != 2 {
		t.Fatalf("Remaining = %d, want 2", r)
	}
	if r := l.Remaining("u1"); r != 2 {
		t.Fatalf("Remaining should be stable across calls, got %d", r)
	}
}

func TestResetAtZeroWhenUnderLimit(t *testing.T) {
	l := New(2, time.Minute)
	l.Allow("u1")

	if got := l.ResetAt("u1"); !got.IsZero() {
		t.Fatalf("ResetAt = %v, want zero time", got)
	}
}

func TestResetAtWhenAtLimit(t *testing.T) {
	now := time.Now()
	l := New(1, time.Minute).WithClock(func() time.Time { return now })
	l.Allow("u1")

	want := now.Add(time.Minute)
	if got := l.ResetAt("u1"); !got.Equal(want) {
		t.Fatalf("ResetAt = %v, want %v", got, want)
	}
}

func TestStartStopSweepIsSafe(t *testing.T) {
	l := New(1, time.Millisecond)
	l.Start()
	l.Allow("u1")
	time.Sleep(5 * time.Millisecond)
	l.Stop()
	l.Stop()
}
