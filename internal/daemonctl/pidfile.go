// Package daemonctl manages the daemon's pid file lifecycle: acquiring
// the advisory lock on start, detecting an already-running daemon,
// and signaling an existing daemon for stop. The lock discipline
// mirrors internal/store/flock.go's syscall.Flock usage.
package daemonctl

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile is an acquired, locked daemon.pid file. Close releases the
// lock and removes the file, so a clean shutdown never leaves a stale
// pid file behind for the next `start` to trip over.
type PIDFile struct {
	path string
	file *os.File
}

// Acquire takes an exclusive, non-blocking advisory lock on path and
// writes the current pid into it. If another process already holds
// the lock, it returns an *AlreadyRunningError carrying the running
// pid (0 when the pid file's contents cannot be read).
func Acquire(path string) (*PIDFile, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("daemonctl: create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("daemonctl: open %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		existing, readErr := readPID(f)
		_ = f.Close()
		if readErr == nil && existing > 0 {
			return nil, &AlreadyRunningError{PID: existing}
		}
		return nil, &AlreadyRunningError{PID: 0}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("daemonctl: truncate %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("daemonctl: write pid: %w", err)
	}

	return &PIDFile{path: path, file: f}, nil
}

// Close releases the lock and removes the pid file.
func (p *PIDFile) Close() error {
	if p == nil || p.file == nil {
		return nil
	}
	_ = syscall.Flock(int(p.file.Fd()), syscall.LOCK_UN)
	err := p.file.Close()
	_ = os.Remove(p.path)
	return err
}

// ReadRunningPID reads the pid recorded in an existing pid file without
// taking the lock, for `atlasbridge status`/`stop` to target a signal.
func ReadRunningPID(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return readPID(f)
}

func readPID(f *os.File) (int, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}
	buf := make([]byte, 32)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return 0, err
	}
	s := strings.TrimSpace(string(buf[:n]))
	if s == "" {
		return 0, fmt.Errorf("daemonctl: pid file is empty")
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("daemonctl: malformed pid %q: %w", s, err)
	}
	return pid, nil
}

// AlreadyRunningError is returned when Acquire finds the lock already held.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("daemon already running (pid %d)", e.PID)
	}
	return "daemon already running"
}
