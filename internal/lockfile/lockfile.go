// Package lockfile keeps two SymptomPipe instances from sharing a state directory.
//
// The lock is an flock on a file in the state directory, so the kernel drops
// it when the process exits, cleanly or not.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "symptompipe.lock"

// Holder describes the process that owns a lock.
type Holder struct {
	PID       int
	StartedAt time.Time
	Addr      string
}

func (h Holder) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", h.PID)
	fmt.Fprintf(&b, "started_at=%s\n", h.StartedAt.UTC().Format(time.RFC3339))
	if h.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", h.Addr)
	}
	return b.String()
}

// parseHolder reads key=value lines. Unknown keys and malformed values are ignored.
func parseHolder(content string) Holder {
	var h Holder
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				h.PID = pid
			}
		case "started_at":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				h.StartedAt = ts
			}
		case "addr":
			h.Addr = value
		}
	}
	return h
}

// Lock is a held state-directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the lock on stateDir, creating the directory if needed.
// addr is recorded so a second instance can say which server holds the lock.
func AcquireLock(stateDir, addr string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's details before we know we own the lock.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := readHolder(lockPath)
		slog.Error("lockfile.AcquireLock: another SymptomPipe instance holds the lock",
			"lock_path", lockPath, "holder_pid", holder.PID, "holder_addr", holder.Addr)
		return nil, &LockError{
			LockPath: lockPath,
			Holder:   holder,
			Running:  holder.PID > 0 && isProcessRunning(holder.PID),
			Cause:    err,
		}
	}

	holder := Holder{PID: os.Getpid(), StartedAt: time.Now(), Addr: addr}
	if err := writeHolder(file, holder); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("State directory lock acquired", "lock_path", lockPath, "pid", holder.PID)
	return &Lock{file: file, path: lockPath}, nil
}

func writeHolder(file *os.File, h Holder) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(h.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile: sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("lockfile.Release: unlock failed", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("lockfile.Release: close failed", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Error("lockfile.Release: remove failed", "error", err, "lock_path", l.path)
	}
	l.file = nil
	slog.Info("State directory lock released", "lock_path", l.path)
	return nil
}

// LockError reports that another process holds the lock.
type LockError struct {
	LockPath string
	Holder   Holder
	Running  bool
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another SymptomPipe instance is using this state directory (lock file %s)", e.LockPath)
	if e.Holder.PID > 0 {
		state := "not running, lock is stale"
		if e.Running {
			state = "running"
		}
		fmt.Fprintf(&b, "; held by PID %d (%s)", e.Holder.PID, state)
	}
	if e.Holder.Addr != "" {
		fmt.Fprintf(&b, ", serving %s", e.Holder.Addr)
	}
	if !e.Holder.StartedAt.IsZero() {
		fmt.Fprintf(&b, ", since %s", e.Holder.StartedAt.Format(time.RFC3339))
	}
	if !e.Running {
		fmt.Fprintf(&b, "; if no instance is running remove %s", e.LockPath)
	}
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func readHolder(lockPath string) Holder {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Holder{}
	}
	return parseHolder(string(data))
}

// isProcessRunning sends signal 0, which checks existence without delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
