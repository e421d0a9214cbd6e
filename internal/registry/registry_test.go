package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/credential"
	"github.com/ariznodes/vpsctl/internal/errors"
)

func newSession(id, owner string, created time.Time) Session {
	return Session{
		ID:        id,
		Kind:      backend.KindContainer,
		Owner:     owner,
		Status:    backend.StatusRunning,
		CreatedAt: created,
	}
}

func TestPutGet(t *testing.T) {
	r := New()
	s := newSession("aaaa0001", "alice", time.Now())
	s.Credentials = credential.Credentials{Username: "u1234567", Password: "p"}
	r.Put(s)

	got, err := r.Get("aaaa0001")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Owner != "alice" || got.Credentials.Username != "u1234567" {
		t.Errorf("Get() = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("Put should stamp UpdatedAt")
	}
}

func TestPutDefaultsCreatedAt(t *testing.T) {
	r := New()
	r.Put(Session{ID: "aaaa0001"})

	got, _ := r.Get("aaaa0001")
	if got.CreatedAt.IsZero() {
		t.Error("Put should default CreatedAt")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	r.Put(newSession("aaaa0001", "alice", time.Now()))

	got, _ := r.Get("aaaa0001")
	got.Status = backend.StatusDestroyed

	again, _ := r.Get("aaaa0001")
	if again.Status != backend.StatusRunning {
		t.Errorf("stored status = %s, want running after mutating a copy", again.Status)
	}
}

func TestNotFound(t *testing.T) {
	r := New()

	if _, err := r.Get("missing"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Get() err = %v, want ErrNotFound", err)
	}
	if _, err := r.Remove("missing"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Remove() err = %v, want ErrNotFound", err)
	}
	_, err := r.Update("missing", func(*Session) error { return nil })
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Update() err = %v, want ErrNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	r := New()
	r.Put(newSession("aaaa0001", "alice", time.Now()))

	updated, err := r.Update("aaaa0001", func(s *Session) error {
		s.Status = backend.StatusStopped
		s.ID = "hijacked"
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.ID != "aaaa0001" || updated.Status != backend.StatusStopped {
		t.Errorf("Update() = %+v", updated)
	}
	if _, err := r.Get("hijacked"); err == nil {
		t.Error("Update must not re-key the session")
	}

	t.Run("error aborts", func(t *testing.T) {
		wantErr := errors.New("nope")
		_, err := r.Update("aaaa0001", func(s *Session) error {
			s.Status = backend.StatusDestroyed
			return wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Errorf("Update() err = %v, want %v", err, wantErr)
		}
		got, _ := r.Get("aaaa0001")
		if got.Status != backend.StatusStopped {
			t.Errorf("status = %s, want stopped (unchanged)", got.Status)
		}
	})
}

func TestRemoveRetiresID(t *testing.T) {
	r := New()
	r.Put(newSession("aaaa0001", "alice", time.Now()))

	removed, err := r.Remove("aaaa0001")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if removed.ID != "aaaa0001" {
		t.Errorf("Remove() returned %+v", removed)
	}
	if r.Reserve("aaaa0001") {
		t.Error("Reserve() of a removed id = true, want false")
	}
}

func TestReservation(t *testing.T) {
	r := New()

	if !r.Reserve("bbbb0001") {
		t.Fatal("Reserve() of a fresh id = false")
	}
	if r.Reserve("bbbb0001") {
		t.Error("second Reserve() = true, want false")
	}
	if _, err := r.Get("bbbb0001"); !errors.Is(err, errors.ErrNotFound) {
		t.Error("reserved id must be invisible to Get")
	}
	if len(r.ListAll()) != 0 {
		t.Error("reserved id must be invisible to ListAll")
	}

	r.Put(newSession("bbbb0001", "bob", time.Now()))
	if _, err := r.Get("bbbb0001"); err != nil {
		t.Errorf("Get() after Put = %v", err)
	}

	r.Reserve("bbbb0002")
	r.Release("bbbb0002")
	if r.Reserve("bbbb0002") {
		t.Error("released id must stay retired")
	}

	r.Retire("bbbb0003")
	if r.Reserve("bbbb0003") {
		t.Error("Reserve() of a retired id = true, want false")
	}
}

func TestListOrdering(t *testing.T) {
	r := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Put(newSession("cccc0003", "alice", base.Add(2*time.Minute)))
	r.Put(newSession("cccc0002", "bob", base))
	r.Put(newSession("cccc0001", "alice", base))

	var ids []string
	for _, s := range r.ListAll() {
		ids = append(ids, s.ID)
	}
	want := []string{"cccc0001", "cccc0002", "cccc0003"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("ListAll() ids = %v, want %v", ids, want)
	}

	ids = nil
	for _, s := range r.ListByOwner("alice") {
		ids = append(ids, s.ID)
	}
	want = []string{"cccc0001", "cccc0003"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("ListByOwner(alice) ids = %v, want %v", ids, want)
	}

	if got := r.ListByOwner("nobody"); len(got) != 0 {
		t.Errorf("ListByOwner(nobody) = %v, want empty", got)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestLockSerializesSameID(t *testing.T) {
	r := New()
	var inside, maxInside atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Lock("dddd0001")
			defer unlock()

			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside.Load())
	}
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	if len(r.locks) != 0 {
		t.Errorf("lock table has %d entries after release, want 0", len(r.locks))
	}
}

func TestLockIndependentIDs(t *testing.T) {
	r := New()
	unlockA := r.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := r.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Lock(b) blocked while a was held")
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	r := New()
	unlock := r.Lock("a")
	unlock()
	unlock()

	// Must not deadlock or panic
	unlock = r.Lock("a")
	unlock()
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("eeee%04d", i)
			if !r.Reserve(id) {
				t.Errorf("Reserve(%s) = false", id)
				return
			}
			r.Put(newSession(id, "owner", time.Now()))
			_, _ = r.Update(id, func(s *Session) error {
				s.Status = backend.StatusStopped
				return nil
			})
			_ = r.ListAll()
		}(i)
	}
	wg.Wait()

	if r.Len() != 20 {
		t.Errorf("Len() = %d, want 20", r.Len())
	}
}
