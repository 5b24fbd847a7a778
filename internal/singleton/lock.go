// Package singleton prevents two daemon instances from running against
// the same state directory at once, via an exclusive, non-blocking flock
// on a lock file. Grounded on the teacher's flock_unix.go.
package singleton

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ErrAlreadyRunning is returned by Acquire when another instance already
// holds the lock.
var ErrAlreadyRunning = errors.New("singleton: another instance is already running")

// Lock holds an acquired singleton lock. Call Release (or close the
// process) to give it up.
type Lock struct {
	file *os.File
}

// Acquire creates dir if needed and takes an exclusive, non-blocking
// flock on path, failing immediately with ErrAlreadyRunning if another
// process already holds it.
func Acquire(dir, path string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("singleton: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("singleton: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("singleton: %w", err)
	}

	f.Truncate(0)
	fmt.Fprintf(f, "%d\n", os.Getpid())

	return &Lock{file: f}, nil
}

// Release unlocks and closes the lock file, removing it so a later
// Acquire doesn't need to contend with a stale inode.
func (l *Lock) Release() {
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	os.Remove(filepath.Clean(l.file.Name()))
}
