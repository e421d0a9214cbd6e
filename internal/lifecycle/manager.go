package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ariznodes/vpsctl/internal/alloc"
	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/credential"
	"github.com/ariznodes/vpsctl/internal/errors"
	"github.com/ariznodes/vpsctl/internal/logging"
	"github.com/ariznodes/vpsctl/internal/registry"
)

// DefaultIDAttempts bounds id generation retries when Config.IDs is nil.
const DefaultIDAttempts = 16

// DefaultConcurrency bounds parallel backend calls in bulk operations.
const DefaultConcurrency = 4

// Config holds the collaborators of a Manager.
type Config struct {
	Kind     backend.Kind
	Backend  backend.Backend
	Registry *registry.Registry
	// IDs defaults to an allocator reserving in Registry.
	IDs *alloc.IDAllocator
	// Ports is required for kinds that bind host ports.
	Ports       *alloc.PortAllocator
	Credentials *credential.Generator
	Logger      *logging.Logger
	// Concurrency bounds Reconcile and DeleteAll (default: 4).
	Concurrency int
}

// Manager orchestrates session lifecycles.
type Manager struct {
	kind        backend.Kind
	backend     backend.Backend
	registry    *registry.Registry
	ids         *alloc.IDAllocator
	ports       *alloc.PortAllocator
	creds       *credential.Generator
	logger      *logging.Logger
	concurrency int
	now         func() time.Time
}

// NewManager creates a Manager from cfg.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("%w: backend is required", errors.ErrInvalidInput)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: registry is required", errors.ErrInvalidInput)
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("%w: credential generator is required", errors.ErrInvalidInput)
	}
	if cfg.Kind.BindsHostPort() && cfg.Ports == nil {
		return nil, fmt.Errorf("%w: %s backend needs a port allocator", errors.ErrInvalidInput, cfg.Kind)
	}
	if cfg.IDs == nil {
		cfg.IDs = alloc.NewIDAllocator(cfg.Registry, DefaultIDAttempts)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}

	return &Manager{
		kind:        cfg.Kind,
		backend:     cfg.Backend,
		registry:    cfg.Registry,
		ids:         cfg.IDs,
		ports:       cfg.Ports,
		creds:       cfg.Credentials,
		logger:      cfg.Logger.WithBackend(string(cfg.Kind)),
		concurrency: cfg.Concurrency,
		now:         time.Now,
	}, nil
}

// Kind returns the backend kind the manager drives.
func (m *Manager) Kind() backend.Kind {
	return m.kind
}

func (m *Manager) bindsPorts() bool {
	return m.kind.BindsHostPort() && m.ports != nil
}

func (m *Manager) releasePort(port int) {
	if port > 0 && m.bindsPorts() {
		m.ports.Release(port)
	}
}

// CreateSession provisions a new session for owner. A credential failure
// does not fail the call; it is reported in SessionInfo.Warning.
func (m *Manager) CreateSession(ctx context.Context, owner string, spec backend.Spec) (*SessionInfo, error) {
	if owner == "" {
		return nil, errors.NewSessionError("create", fmt.Errorf("%w: owner is required", errors.ErrInvalidInput))
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.NewSessionError("create", err)
	}

	id, err := m.ids.NewSessionID()
	if err != nil {
		return nil, errors.NewSessionError("create", err)
	}
	log := m.logger.WithSession(id).With("owner", owner)

	var hostPort int
	if m.bindsPorts() {
		hostPort, err = m.ports.Allocate(id)
		if err != nil {
			m.registry.Release(id)
			return nil, errors.NewSessionError("create", err).WithSessionID(id)
		}
	}
	rollback := func() {
		m.releasePort(hostPort)
		m.registry.Release(id)
	}

	creds, err := m.newCredentials()
	if err != nil {
		rollback()
		return nil, errors.NewSessionError("create", err).WithSessionID(id)
	}

	createdAt := m.now().UTC()
	handle, ep, err := m.backend.Provision(ctx, backend.Request{
		SessionID: id,
		Owner:     owner,
		Spec:      spec,
		HostPort:  hostPort,
		CreatedAt: createdAt,
	})
	if err != nil {
		rollback()
		log.Warn("provision failed", "error", err.Error())
		return nil, errors.NewSessionError("create", err).WithSessionID(id)
	}

	warning, err := m.applyCredentials(ctx, handle, creds, log)
	if err != nil {
		m.discard(ctx, handle, log)
		rollback()
		return nil, errors.NewSessionError("create", err).WithSessionID(id)
	}

	if ep.User == "" {
		ep.User = creds.Username
	}
	m.registry.Put(registry.Session{
		ID:          id,
		Kind:        m.kind,
		Owner:       owner,
		Spec:        spec,
		Handle:      handle,
		Endpoint:    ep,
		Credentials: creds,
		Status:      backend.StatusRunning,
		HostPort:    hostPort,
		CreatedAt:   createdAt,
	})
	log.Info("session created", "host_port", hostPort, "credentials", creds)

	s, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}
	info := newSessionInfo(s)
	info.Warning = warning
	return info, nil
}

// newCredentials generates login material and drops the fields the backend
// does not install.
func (m *Manager) newCredentials() (credential.Credentials, error) {
	creds, err := m.creds.New()
	if err != nil {
		return credential.Credentials{}, err
	}
	if scoper, ok := m.backend.(backend.CredentialScoper); ok {
		creds = scoper.Installed(creds)
	}
	return creds, nil
}

// applyCredentials installs creds and classifies the outcome. Backend
// failures become a warning; a cancelled ctx aborts the operation.
func (m *Manager) applyCredentials(ctx context.Context, h backend.Handle, creds credential.Credentials, log *logging.Logger) (warning, fatal error) {
	err := m.backend.ApplyCredentials(ctx, h, creds)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, errors.ErrPartialProvisioning) {
		err = errors.NewBackendError("apply credentials", errors.ErrPartialProvisioning).
			WithKind(string(m.kind)).
			WithHandle(string(h)).
			WithCause(err)
	}
	log.Warn("credentials not fully applied", "error", err.Error())
	return err, nil
}

// discard destroys a unit whose operation was aborted, even if ctx is done.
func (m *Manager) discard(ctx context.Context, h backend.Handle, log *logging.Logger) {
	if err := m.backend.Destroy(context.WithoutCancel(ctx), h); err != nil {
		log.Warn("failed to destroy aborted unit", "handle", string(h), "error", err.Error())
	}
}

// DeleteSession destroys the session's unit and forgets the session.
// Deleting a destroyed session skips the backend.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	unlock := m.registry.Lock(id)
	defer unlock()

	s, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	if s.Status != backend.StatusDestroyed && s.Handle != "" {
		if err := m.backend.Destroy(ctx, s.Handle); err != nil {
			return errors.NewSessionError("delete", err).WithSessionID(id)
		}
	}
	if _, err := m.registry.Remove(id); err != nil {
		return err
	}
	m.releasePort(s.HostPort)

	m.logger.WithSession(id).Info("session deleted")
	return nil
}

// GetSessionInfo returns the current view of a session.
func (m *Manager) GetSessionInfo(id string) (*SessionInfo, error) {
	s, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return newSessionInfo(s), nil
}

// ListSessionIDs returns the ids of owner's sessions, or of all sessions
// when owner is empty, oldest first.
func (m *Manager) ListSessionIDs(owner string) []string {
	sessions := m.list(owner)
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

// ListSessions is ListSessionIDs with the full session views.
func (m *Manager) ListSessions(owner string) []*SessionInfo {
	sessions := m.list(owner)
	infos := make([]*SessionInfo, len(sessions))
	for i, s := range sessions {
		infos[i] = newSessionInfo(s)
	}
	return infos
}

func (m *Manager) list(owner string) []registry.Session {
	if owner == "" {
		return m.registry.ListAll()
	}
	return m.registry.ListByOwner(owner)
}

func invalidTransition(op, id string, status backend.Status) error {
	return errors.NewSessionError(op, fmt.Errorf("%w: session is %s", errors.ErrInvalidTransition, status)).WithSessionID(id)
}

// StartSession boots a stopped session. Starting a running session is a no-op.
func (m *Manager) StartSession(ctx context.Context, id string) error {
	unlock := m.registry.Lock(id)
	defer unlock()

	s, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	switch s.Status {
	case backend.StatusDestroyed:
		return invalidTransition("start", id, s.Status)
	case backend.StatusRunning:
		return nil
	}

	if err := m.backend.Start(ctx, s.Handle); err != nil {
		return errors.NewSessionError("start", err).WithSessionID(id)
	}
	ep := m.refreshEndpoint(ctx, s)
	_, err = m.registry.Update(id, func(s *registry.Session) error {
		s.Status = backend.StatusRunning
		s.Endpoint = ep
		return nil
	})
	return err
}

// StopSession halts a running session. Stopping a stopped session is a no-op.
func (m *Manager) StopSession(ctx context.Context, id string) error {
	unlock := m.registry.Lock(id)
	defer unlock()

	s, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	switch s.Status {
	case backend.StatusDestroyed:
		return invalidTransition("stop", id, s.Status)
	case backend.StatusStopped:
		return nil
	}

	if err := m.backend.Stop(ctx, s.Handle); err != nil {
		return errors.NewSessionError("stop", err).WithSessionID(id)
	}
	_, err = m.registry.Update(id, func(s *registry.Session) error {
		s.Status = backend.StatusStopped
		return nil
	})
	return err
}

// RestartSession restarts a session. It reports restarting while the
// backend call is in flight; on failure the previous status is restored.
func (m *Manager) RestartSession(ctx context.Context, id string) error {
	unlock := m.registry.Lock(id)
	defer unlock()

	s, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if s.Status == backend.StatusDestroyed {
		return invalidTransition("restart", id, s.Status)
	}

	previous := s.Status
	if err := m.setStatus(id, backend.StatusRestarting); err != nil {
		return err
	}

	if err := m.backend.Restart(ctx, s.Handle); err != nil {
		if restoreErr := m.setStatus(id, previous); restoreErr != nil {
			m.logger.WithSession(id).Error("failed to restore status", "error", restoreErr.Error())
		}
		return errors.NewSessionError("restart", err).WithSessionID(id)
	}

	ep := m.refreshEndpoint(ctx, s)
	_, err = m.registry.Update(id, func(s *registry.Session) error {
		s.Status = backend.StatusRunning
		s.Endpoint = ep
		return nil
	})
	return err
}

func (m *Manager) setStatus(id string, status backend.Status) error {
	_, err := m.registry.Update(id, func(s *registry.Session) error {
		s.Status = status
		return nil
	})
	return err
}

// refreshEndpoint re-reads the endpoint from backends that re-issue it on
// start. On failure the recorded endpoint is kept.
func (m *Manager) refreshEndpoint(ctx context.Context, s registry.Session) backend.Endpoint {
	resolver, ok := m.backend.(backend.EndpointResolver)
	if !ok {
		return s.Endpoint
	}
	ep, err := resolver.Endpoint(ctx, s.Handle)
	if err != nil {
		m.logger.WithSession(s.ID).Warn("failed to refresh endpoint", "error", err.Error())
		return s.Endpoint
	}
	if ep.User == "" {
		ep.User = s.Credentials.Username
	}
	return ep
}

// ReinstallSession replaces the session's unit with a fresh one built from
// spec, keeping the id, owner and creation time. Zero fields of spec keep
// their current values. The new unit gets a new host port; only when the
// range is exhausted does it inherit the old one. If the new unit cannot be
// provisioned the session is left destroyed. Destroyed sessions cannot be
// reinstalled.
func (m *Manager) ReinstallSession(ctx context.Context, id string, spec backend.Spec) (*SessionInfo, error) {
	if err := spec.Validate(); err != nil {
		return nil, errors.NewSessionError("reinstall", err).WithSessionID(id)
	}

	unlock := m.registry.Lock(id)
	defer unlock()

	s, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if s.Status == backend.StatusDestroyed {
		return nil, invalidTransition("reinstall", id, s.Status)
	}
	spec = mergeSpec(s.Spec, spec)
	log := m.logger.WithSession(id)

	var newPort int
	reusePort := false
	if m.bindsPorts() {
		newPort, err = m.ports.Allocate(id)
		switch {
		case errors.Is(err, errors.ErrPortRangeExhausted) && s.HostPort > 0:
			log.Warn("port range exhausted, reinstall keeps the current port", "host_port", s.HostPort)
			newPort, reusePort = s.HostPort, true
		case err != nil:
			return nil, errors.NewSessionError("reinstall", err).WithSessionID(id)
		}
	}

	if s.Handle != "" {
		if err := m.backend.Destroy(ctx, s.Handle); err != nil {
			if !reusePort {
				m.releasePort(newPort)
			}
			return nil, errors.NewSessionError("reinstall", err).WithSessionID(id)
		}
	}
	if !reusePort {
		m.releasePort(s.HostPort)
	}

	fail := func(cause error) (*SessionInfo, error) {
		m.releasePort(newPort)
		if _, err := m.registry.Update(id, func(s *registry.Session) error {
			s.Status = backend.StatusDestroyed
			s.Spec = spec
			s.Handle = ""
			s.Endpoint = backend.Endpoint{}
			s.Credentials = credential.Credentials{}
			s.HostPort = 0
			return nil
		}); err != nil {
			log.Error("failed to record destroyed session", "error", err.Error())
		}
		log.Warn("reinstall failed, session destroyed", "error", cause.Error())
		return nil, errors.NewSessionError("reinstall", cause).WithSessionID(id)
	}

	creds, err := m.newCredentials()
	if err != nil {
		return fail(err)
	}

	handle, ep, err := m.backend.Provision(ctx, backend.Request{
		SessionID: id,
		Owner:     s.Owner,
		Spec:      spec,
		HostPort:  newPort,
		CreatedAt: s.CreatedAt,
	})
	if err != nil {
		return fail(err)
	}

	warning, err := m.applyCredentials(ctx, handle, creds, log)
	if err != nil {
		m.discard(ctx, handle, log)
		return fail(err)
	}

	if ep.User == "" {
		ep.User = creds.Username
	}
	updated, err := m.registry.Update(id, func(s *registry.Session) error {
		s.Status = backend.StatusRunning
		s.Spec = spec
		s.Handle = handle
		s.Endpoint = ep
		s.Credentials = creds
		s.HostPort = newPort
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("session reinstalled", "host_port", newPort, "credentials", creds)

	info := newSessionInfo(updated)
	info.Warning = warning
	return info, nil
}

// mergeSpec overlays the non-zero fields of next onto current.
func mergeSpec(current, next backend.Spec) backend.Spec {
	if next.MemoryMB != 0 {
		current.MemoryMB = next.MemoryMB
	}
	if next.CPUs != 0 {
		current.CPUs = next.CPUs
	}
	if next.Disk != "" {
		current.Disk = next.Disk
	}
	if next.Image != "" {
		current.Image = next.Image
	}
	return current
}
