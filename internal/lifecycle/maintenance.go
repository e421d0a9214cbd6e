package lifecycle

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/credential"
	"github.com/ariznodes/vpsctl/internal/errors"
	"github.com/ariznodes/vpsctl/internal/registry"
)

// Drift is a session whose recorded status disagreed with the backend.
type Drift struct {
	SessionID string         `json:"id" yaml:"id"`
	Recorded  backend.Status `json:"recorded" yaml:"recorded"`
	Observed  backend.Status `json:"observed" yaml:"observed"`
}

// Recover adds the units a listing backend still holds to the registry.
// Sessions already known are left alone; recovered sessions have no
// credentials. It returns the number of sessions added. Backends without
// listing support recover nothing.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	lister, ok := m.backend.(backend.Lister)
	if !ok {
		m.logger.Debug("backend cannot list units, nothing to recover")
		return 0, nil
	}

	found, err := lister.List(ctx)
	if err != nil {
		return 0, errors.NewSessionError("recover", err)
	}

	recovered := 0
	for _, d := range found {
		if d.SessionID == "" || d.Status == backend.StatusDestroyed {
			continue
		}
		if !m.registry.Reserve(d.SessionID) {
			continue
		}

		log := m.logger.WithSession(d.SessionID)
		hostPort := 0
		if m.bindsPorts() && d.HostPort > 0 {
			if err := m.ports.Claim(d.HostPort, d.SessionID); err != nil {
				log.Warn("recovered session port already claimed", "host_port", d.HostPort, "error", err.Error())
			} else {
				hostPort = d.HostPort
			}
		}

		status := d.Status
		if status == "" || status == backend.StatusProvisioning {
			status = backend.StatusStopped
		}
		m.registry.Put(registry.Session{
			ID:        d.SessionID,
			Kind:      m.kind,
			Owner:     d.Owner,
			Spec:      d.Spec,
			Handle:    d.Handle,
			Endpoint:  d.Endpoint,
			Status:    status,
			HostPort:  hostPort,
			CreatedAt: d.CreatedAt,
		})
		recovered++
		log.Debug("session recovered", "status", string(status))
	}

	if recovered > 0 {
		m.logger.Info("sessions recovered", "count", recovered)
	}
	return recovered, nil
}

// Reconcile describes every live session and records the status the backend
// reports when it differs. A unit that disappeared leaves a destroyed
// tombstone and frees its port.
func (m *Manager) Reconcile(ctx context.Context) ([]Drift, error) {
	p := pool.NewWithResults[*Drift]().
		WithContext(ctx).
		WithMaxGoroutines(m.concurrency)

	for _, s := range m.registry.ListAll() {
		if s.Status == backend.StatusDestroyed {
			continue
		}
		id := s.ID
		p.Go(func(ctx context.Context) (*Drift, error) {
			return m.reconcileOne(ctx, id)
		})
	}

	results, err := p.Wait()
	drifts := make([]Drift, 0, len(results))
	for _, d := range results {
		if d != nil {
			drifts = append(drifts, *d)
		}
	}
	slices.SortFunc(drifts, func(a, b Drift) int {
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return drifts, err
}

func (m *Manager) reconcileOne(ctx context.Context, id string) (*Drift, error) {
	unlock := m.registry.Lock(id)
	defer unlock()

	s, err := m.registry.Get(id)
	if err != nil || s.Status == backend.StatusDestroyed {
		// Deleted or destroyed while waiting for the lock
		return nil, nil
	}

	observed, err := m.backend.Describe(ctx, s.Handle)
	if err != nil {
		return nil, errors.NewSessionError("reconcile", err).WithSessionID(id)
	}
	if observed == s.Status {
		return nil, nil
	}

	_, err = m.registry.Update(id, func(s *registry.Session) error {
		s.Status = observed
		if observed == backend.StatusDestroyed {
			s.Handle = ""
			s.Endpoint = backend.Endpoint{}
			s.Credentials = credential.Credentials{}
			s.HostPort = 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if observed == backend.StatusDestroyed {
		m.releasePort(s.HostPort)
	}

	m.logger.WithSession(id).Warn("session status drifted",
		"recorded", string(s.Status),
		"observed", string(observed),
	)
	return &Drift{SessionID: id, Recorded: s.Status, Observed: observed}, nil
}

// DeleteAll deletes every session in parallel. It returns the ids deleted
// and the error for each id that could not be.
func (m *Manager) DeleteAll(ctx context.Context) (deleted []string, failed map[string]error) {
	var mu sync.Mutex
	failed = make(map[string]error)

	p := pool.New().WithMaxGoroutines(m.concurrency)
	for _, s := range m.registry.ListAll() {
		id := s.ID
		p.Go(func() {
			err := m.DeleteSession(ctx, id)
			if errors.IsNotFound(err) {
				// Deleted concurrently
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[id] = err
				return
			}
			deleted = append(deleted, id)
		})
	}
	p.Wait()

	slices.Sort(deleted)
	return deleted, failed
}
