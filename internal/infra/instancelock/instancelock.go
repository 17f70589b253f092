// Package instancelock prevents two SakaiBot processes from running
// against the same session concurrently, which would both poll the same
// Telegram session and race on updates. It uses a PID file written with
// the same atomic-write discipline the session store uses for its own
// state.
package instancelock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"sakaibot/internal/infra/storage"
)

// Lock is a held instance lock. Release must be called to remove the PID
// file; an abnormally terminated process leaves a stale file behind, which
// Acquire detects and cleans up on its next run.
type Lock struct {
	path string
}

// Mode controls what Acquire does when it finds an existing lock file.
type Mode int

const (
	// Strict refuses to start if another live process holds the lock.
	Strict Mode = iota
	// Force removes any existing lock file unconditionally before acquiring.
	Force
)

// Acquire takes the instance lock at path. In Strict mode, if the file
// names a PID that is still alive, it returns an error; a PID file naming
// a dead process is treated as stale and overwritten. In Force mode any
// existing file is discarded without checking liveness.
func Acquire(path string, mode Mode) (*Lock, error) {
	if mode == Strict {
		if pid, ok := readPID(path); ok && processAlive(pid) {
			return nil, fmt.Errorf("instance lock held by running process pid=%d (%s)", pid, path)
		}
	}

	data := []byte(strconv.Itoa(os.Getpid()))
	if err := storage.AtomicWriteFile(path, data); err != nil {
		return nil, fmt.Errorf("write instance lock: %w", err)
	}

	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call once; subsequent calls are
// no-ops.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove instance lock: %w", err)
	}
	return nil
}

func readPID(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether pid names a live process, using signal 0
// which performs permission/existence checks without actually delivering
// a signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
