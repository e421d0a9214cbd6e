package hostlock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLock_LockUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vpsctl.lock")
	l := New(path)

	if err := l.Lock(t.Context()); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("lock file should exist: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	// Reusable after unlock
	if err := l.Lock(t.Context()); err != nil {
		t.Fatalf("second Lock: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
}

func TestLock_UnlockWithoutLock(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "vpsctl.lock"))
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock without Lock should not error: %v", err)
	}
}

func TestLock_Contention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vpsctl.lock")
	holder := New(path)
	if ok, err := holder.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}

	// A second open file description conflicts with the first
	waiter := New(path)
	if ok, err := waiter.TryLock(); err != nil || ok {
		t.Fatalf("TryLock on a held lock = %v, %v; want false, nil", ok, err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 120*time.Millisecond)
	defer cancel()
	if err := waiter.Lock(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock on a held lock = %v, want DeadlineExceeded", err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- waiter.Lock(t.Context()) }()

	time.Sleep(2 * DefaultPollInterval)
	if err := holder.Unlock(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("Lock after release: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
	_ = waiter.Unlock()
}

func TestLock_TryLockIsReentrant(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "vpsctl.lock"))
	for range 2 {
		if ok, err := l.TryLock(); err != nil || !ok {
			t.Fatalf("TryLock = %v, %v", ok, err)
		}
	}
	_ = l.Unlock()
}

func TestLock_InvalidPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal(err)
	}

	// A regular file cannot be a directory
	l := New(filepath.Join(file, "vpsctl.lock"))
	if _, err := l.TryLock(); err == nil {
		t.Error("TryLock should fail when the directory cannot be created")
	}
}
