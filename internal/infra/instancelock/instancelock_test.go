package instancelock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.pid")

	lock, err := Acquire(path, Strict)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected lock file to be removed after Release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.pid")
	lock, err := Acquire(path, Strict)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
}

func TestAcquireStrictRefusesWhenHolderAlive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Acquire(path, Strict); err == nil {
		t.Fatal("expected Acquire to refuse when the lock names this (live) process")
	}
}

func TestAcquireStrictOverwritesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.pid")
	// A PID astronomically unlikely to be alive on this machine.
	if err := os.WriteFile(path, []byte("999999999"), 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(path, Strict)
	if err != nil {
		t.Fatalf("expected Acquire to treat a dead PID's lock as stale, got: %v", err)
	}
	_ = lock.Release()
}

func TestAcquireForceIgnoresLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(path, Force)
	if err != nil {
		t.Fatalf("Force mode should ignore liveness checks, got: %v", err)
	}
	_ = lock.Release()
}

func TestReleaseOnNilLockIsSafe(t *testing.T) {
	var lock *Lock
	if err := lock.Release(); err != nil {
		t.Fatalf("Release on nil lock should be a no-op, got: %v", err)
	}
}
