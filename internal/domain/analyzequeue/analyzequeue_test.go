package analyzequeue

import "testing"

func TestTryStartAdmitsOnce(t *testing.T) {
	q := New()

	req, ok := q.TryStart(100, 1, "summary")
	if !ok {
		t.Fatal("expected first TryStart to succeed")
	}
	if req.ChatID != 100 || req.UserID != 1 || req.AnalysisType != "summary" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.RequestID == "" {
		t.Fatal("expected a non-empty RequestID")
	}

	if _, ok := q.TryStart(100, 2, "summary"); ok {
		t.Fatal("expected second TryStart for the same chat to be refused")
	}
}

func TestTryStartIsPerChat(t *testing.T) {
	q := New()
	q.TryStart(100, 1, "summary")

	if _, ok := q.TryStart(200, 1, "summary"); !ok {
		t.Fatal("expected TryStart for a different chat to succeed")
	}
}

func TestCompleteReleasesLock(t *testing.T) {
	q := New()
	q.TryStart(100, 1, "summary")
	q.Complete(100)

	if _, ok := q.TryStart(100, 1, "summary"); !ok {
		t.Fatal("expected TryStart to succeed again after Complete")
	}
}

func TestFailReleasesLock(t *testing.T) {
	q := New()
	q.TryStart(100, 1, "summary")
	q.Fail(100)

	if _, ok := q.TryStart(100, 1, "summary"); !ok {
		t.Fatal("expected TryStart to succeed again after Fail")
	}
}

func TestActiveReportsInFlightRequest(t *testing.T) {
	q := New()

	if _, ok := q.Active(100); ok {
		t.Fatal("expected no active request before TryStart")
	}

	q.TryStart(100, 1, "summary")
	req, ok := q.Active(100)
	if !ok || req.ChatID != 100 {
		t.Fatalf("Active = %+v ok=%v, want chat 100", req, ok)
	}
}

func TestStartStopIsSafe(t *testing.T) {
	q := New()
	q.Start()
	q.Stop()
	q.Stop()
}
