// Package lockfile keeps two avika processes from sharing one state
// directory. The lock is an flock on a file in the directory, so the kernel
// drops it when the process exits for any reason.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "avika.lock"

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID       int
	StartedAt time.Time
}

func (h Holder) String() string {
	if h.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if isProcessRunning(h.PID) {
		state = "running"
	}
	if h.StartedAt.IsZero() {
		return fmt.Sprintf("PID %d (%s)", h.PID, state)
	}
	return fmt.Sprintf("PID %d started %s (%s)", h.PID, h.StartedAt.Format(time.RFC3339), state)
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// LockError reports that another process holds the lock.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("another avika instance is already using this state directory (lock %s held by %s); "+
		"if no other instance is running, remove the lock file and retry", e.LockPath, e.Holder)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// Acquire takes the lock on stateDir, creating the directory if needed.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	lockPath := filepath.Join(stateDir, LockFileName)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readHolder(file)
		file.Close()
		slog.Error("lockfile.Acquire: lock held by another process", "lockPath", lockPath, "holder", holder.String())
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	// Contents are rewritten only once the lock is ours.
	if err := writeHolder(file, Holder{PID: os.Getpid(), StartedAt: time.Now().UTC()}); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", lockPath, err)
	}

	slog.Info("lockfile.Acquire: state directory locked", "lockPath", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove: %w", err))
	}
	l.file = nil
	if err := errors.Join(errs...); err != nil {
		slog.Error("lockfile.Release: failed", "lockPath", l.path, "error", err)
		return err
	}
	slog.Info("lockfile.Release: state directory unlocked", "lockPath", l.path)
	return nil
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "pid=%d\nstarted=%s\n", h.PID, h.StartedAt.Format(time.RFC3339)); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile: sync failed", "error", err)
	}
	return nil
}

func readHolder(f *os.File) Holder {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Holder{}
	}
	return parseHolder(f)
}

// parseHolder reads "key=value" lines; unknown keys are ignored.
func parseHolder(r io.Reader) Holder {
	var h Holder
	sc := bufio.NewScanner(r)
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
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				h.StartedAt = t
			}
		}
	}
	return h
}

// isProcessRunning sends signal 0, which checks existence without delivery.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
