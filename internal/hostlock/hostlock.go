// Package hostlock serializes vpsctl processes that share one host.
//
// Every invocation rebuilds its session registry from the backend, so two
// processes creating sessions at the same time could hand out the same
// host port. Commands that change sessions hold a Lock for their whole run.
package hostlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// DefaultPollInterval is how often Lock retries a held lock.
const DefaultPollInterval = 50 * time.Millisecond

// Lock is an exclusive flock(2) on a file. A Lock is not safe for concurrent
// use; each goroutine or process opens its own.
type Lock struct {
	path string
	poll time.Duration
	file *os.File
}

// New returns a Lock on path. The file and its directory are created on
// first acquisition.
func New(path string) *Lock {
	return &Lock{path: path, poll: DefaultPollInterval}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// TryLock acquires the lock without blocking. It reports false when another
// holder has it.
func (l *Lock) TryLock() (bool, error) {
	if l.file != nil {
		return true, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock %s: %w", l.path, err)
	}

	l.file = f
	return true, nil
}

// Lock waits until the lock is acquired or ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.TryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", l.path, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Unlock releases the lock. Unlocking a lock that is not held is a no-op.
func (l *Lock) Unlock() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock %s: %w", l.path, err)
	}
	return f.Close()
}
