package textproc

import "testing"

func TestHasPersianText(t *testing.T) {
	if HasPersianText("") {
		t.Fatal("empty text should not be detected as Persian")
	}
	if HasPersianText("hello world") {
		t.Fatal("plain ASCII should not be detected as Persian")
	}
	if !HasPersianText("سلام دنیا") {
		t.Fatal("expected Persian text to be detected")
	}
}

func TestFixRTLDisplayLeavesNonPersianUnchanged(t *testing.T) {
	text := "hello world, visit https://example.com"
	if got := FixRTLDisplay(text); got != text {
		t.Fatalf("FixRTLDisplay changed non-Persian text: %q", got)
	}
}

func TestFixRTLDisplayMarksLTRRunInPersianText(t *testing.T) {
	text := "سلام hello دنیا"
	got := FixRTLDisplay(text)
	if got == text {
		t.Fatal("expected FixRTLDisplay to insert an LRM marker")
	}
	want := "سلام hello" + lrm + " دنیا"
	if got != want {
		t.Fatalf("FixRTLDisplay = %q, want %q", got, want)
	}
}

func TestFixRTLDisplayIsIdempotent(t *testing.T) {
	text := "سلام hello دنیا"
	once := FixRTLDisplay(text)
	twice := FixRTLDisplay(once)
	if once != twice {
		t.Fatalf("FixRTLDisplay not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestFixRTLDisplayProtectsPagination(t *testing.T) {
	text := "سلام (1/2) دنیا"
	got := FixRTLDisplay(text)
	if got != text {
		t.Fatalf("expected pagination suffix to survive untouched, got %q", got)
	}
}

func TestEnsureRTLSafeSkipsWhenNotForced(t *testing.T) {
	text := "plain english text"
	if got := EnsureRTLSafe(text, false); got != text {
		t.Fatalf("EnsureRTLSafe changed plain text: %q", got)
	}
}

func TestEnsureRTLSafeAppliesForPersianText(t *testing.T) {
	text := "سلام hello دنیا"
	got := EnsureRTLSafe(text, false)
	if got == text {
		t.Fatal("expected EnsureRTLSafe to apply the fix for Persian text")
	}
}
