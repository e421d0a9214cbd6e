// Package registry holds the in-memory table of sessions.
//
// Records are stored and returned by value, so callers can never mutate a
// stored session except through Put or Update. The registry also tracks two
// kinds of ids that are not visible as sessions: ids reserved by an in-flight
// create, and retired ids of deleted sessions. Neither can be reserved again,
// which keeps ids unique for the registry's lifetime.
//
// Lock provides per-id mutual exclusion for callers that run multi-step
// operations on one session. Locks for different ids are independent.
package registry

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/ariznodes/vpsctl/internal/errors"
)

// Registry is a concurrency-safe session table.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	reserved map[string]struct{}
	retired  map[string]struct{}

	locksMu sync.Mutex
	locks   map[string]*idLock

	now func() time.Time
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		reserved: make(map[string]struct{}),
		retired:  make(map[string]struct{}),
		locks:    make(map[string]*idLock),
		now:      time.Now,
	}
}

// Reserve claims id for a session that is about to be created. It reports
// false if the id is live, already reserved or retired.
func (r *Registry) Reserve(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.knownLocked(id) {
		return false
	}
	r.reserved[id] = struct{}{}
	return true
}

// Release drops a reservation that did not turn into a session. The id is
// retired rather than returned to the pool.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reserved[id]; ok {
		delete(r.reserved, id)
		r.retired[id] = struct{}{}
	}
}

// Retire marks id as used without creating a session for it.
func (r *Registry) Retire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retired[id] = struct{}{}
}

func (r *Registry) knownLocked(id string) bool {
	if _, ok := r.sessions[id]; ok {
		return true
	}
	if _, ok := r.reserved[id]; ok {
		return true
	}
	_, ok := r.retired[id]
	return ok
}

// Put stores s, replacing any record with the same id and consuming a
// reservation for it. UpdatedAt is stamped with the current time.
func (r *Registry) Put(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.UpdatedAt = r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}
	delete(r.reserved, s.ID)
	r.sessions[s.ID] = s
}

// Get returns a copy of the session with the given id.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, errors.NewNotFoundError(id)
	}
	return s, nil
}

// Update applies fn to a copy of the session and stores the result. The id
// is preserved even if fn changes it. If fn returns an error nothing is stored.
func (r *Registry) Update(id string, fn func(*Session) error) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, errors.NewNotFoundError(id)
	}
	if err := fn(&s); err != nil {
		return Session{}, err
	}
	s.ID = id
	s.UpdatedAt = r.now()
	r.sessions[id] = s
	return s, nil
}

// Remove deletes the session and retires its id.
func (r *Registry) Remove(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, errors.NewNotFoundError(id)
	}
	delete(r.sessions, id)
	r.retired[id] = struct{}{}
	return s, nil
}

// ListAll returns every session ordered by creation time, then id.
func (r *Registry) ListAll() []Session {
	return r.list(func(Session) bool { return true })
}

// ListByOwner returns the sessions of owner ordered by creation time, then id.
func (r *Registry) ListByOwner(owner string) []Session {
	return r.list(func(s Session) bool { return s.Owner == owner })
}

func (r *Registry) list(keep func(Session) bool) []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of stored sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Lock acquires the per-id lock and returns its release function. The
// lock entry is dropped once no goroutine holds or waits for it.
func (r *Registry) Lock(id string) (unlock func()) {
	r.locksMu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &idLock{}
		r.locks[id] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			r.locksMu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(r.locks, id)
			}
			r.locksMu.Unlock()
		})
	}
}
