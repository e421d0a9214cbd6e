// Package terminal implements the session backend on top of tmate.
//
// Every session runs its own tmate server bound to a control socket under
// the configured socket directory. The socket path is the session handle;
// it carries a fresh generation on every provision, so a reinstalled
// session never reuses the handle of the server it replaced.
// The endpoint is the SSH connection string tmate publishes once it has
// registered with its relay; resource specs are recorded but not enforced.
package terminal

import (
	"context"
	"encoding/hex"
	"os"
	osexec "os/exec"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/credential"
	"github.com/ariznodes/vpsctl/internal/errors"
	"github.com/ariznodes/vpsctl/internal/logging"
	"github.com/ariznodes/vpsctl/internal/tmate"
)

// Environment variables recorded in each tmate server.
const (
	EnvOwner = "VPSCTL_OWNER"
	EnvUser  = "VPSCTL_USER"
)

// Options configures the terminal backend.
type Options struct {
	SocketDir    string
	SocketPrefix string
	ReadyTimeout time.Duration
	PollInterval time.Duration
	// StopGrace is how long a server may take to exit before it is killed.
	StopGrace time.Duration
}

// Backend provisions sessions as tmate servers.
type Backend struct {
	client     *tmate.Client
	opts       Options
	logger     *logging.Logger
	generation func() string
}

// New creates a terminal backend.
func New(client *tmate.Client, opts Options, logger *logging.Logger) *Backend {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if opts.SocketPrefix == "" {
		opts.SocketPrefix = "vps"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 8 * time.Second
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = tmate.DefaultGracefulStopTimeout
	}
	return &Backend{
		client:     client,
		opts:       opts,
		logger:     logger.WithBackend(string(backend.KindTerminal)),
		generation: newGeneration,
	}
}

func newGeneration() string {
	u := uuid.New()
	return hex.EncodeToString(u[:3])
}

// SocketPath returns the handle of one generation of a session.
func (b *Backend) SocketPath(sessionID, generation string) string {
	return tmate.SocketPath(b.opts.SocketDir, b.opts.SocketPrefix, sessionID, generation)
}

func (b *Backend) newError(message string, cause error, handle string) *errors.BackendError {
	return errors.NewBackendError(message, cause).
		WithKind(string(backend.KindTerminal)).
		WithHandle(handle)
}

// Provision starts a tmate server for req and waits until it publishes its
// SSH connection string. On any failure the server is killed and its files
// are removed.
func (b *Backend) Provision(ctx context.Context, req backend.Request) (backend.Handle, backend.Endpoint, error) {
	if err := os.MkdirAll(b.opts.SocketDir, 0700); err != nil {
		return "", backend.Endpoint{}, b.newError("create socket directory", errors.ErrBackendUnavailable, b.opts.SocketDir).WithCause(err)
	}

	socket := b.SocketPath(req.SessionID, b.generation())
	log := b.logger.WithSession(req.SessionID).With("socket", socket)

	if err := b.newSession(ctx, socket, log); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", backend.Endpoint{}, ctxErr
		}
		if errors.Is(err, osexec.ErrNotFound) {
			return "", backend.Endpoint{}, b.newError("tmate not installed", errors.ErrBackendUnavailable, socket).WithCause(err)
		}
		return "", backend.Endpoint{}, b.newError("start tmate server", errors.ErrProvisionFailed, socket).WithCause(err)
	}

	st := sessionState{
		SessionID: req.SessionID,
		Owner:     req.Owner,
		Spec:      req.Spec,
		CreatedAt: req.CreatedAt.UTC(),
	}
	if err := writeState(socket, st); err != nil {
		b.teardown(ctx, socket)
		return "", backend.Endpoint{}, b.newError("write session state", errors.ErrProvisionFailed, socket).WithCause(err)
	}
	b.recordEnvironment(ctx, socket, st, log)

	ep, err := b.awaitEndpoint(ctx, socket)
	if err != nil {
		b.teardown(ctx, socket)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", backend.Endpoint{}, ctxErr
		}
		return "", backend.Endpoint{}, err
	}

	log.Info("tmate session ready", "endpoint", ep.Host)
	return backend.Handle(socket), ep, nil
}

// newSession runs new-session on socket. When the socket path is already
// taken by a stale or foreign server, that server is killed, the file
// removed and the command retried once.
func (b *Backend) newSession(ctx context.Context, socket string, log *logging.Logger) error {
	err := b.client.NewSession(ctx, socket)
	if err == nil || ctx.Err() != nil || !tmate.SocketExists(socket) {
		return err
	}

	log.Warn("socket in use, replacing stale tmate server", "error", err.Error())
	b.shutdown(ctx, socket)
	if rmErr := tmate.RemoveSocket(socket); rmErr != nil {
		return errors.Join(err, rmErr)
	}
	return b.client.NewSession(ctx, socket)
}

// recordEnvironment exports session metadata into the server's global
// environment. Failures only cost rediscovery detail and are logged.
func (b *Backend) recordEnvironment(ctx context.Context, socket string, st sessionState, log *logging.Logger) {
	if err := b.client.SetEnvironment(ctx, socket, EnvOwner, st.Owner); err != nil {
		log.Warn("failed to record owner", "error", err.Error())
	}
	if st.User == "" {
		return
	}
	if err := b.client.SetEnvironment(ctx, socket, EnvUser, st.User); err != nil {
		log.Warn("failed to record user", "error", err.Error())
	}
}

// awaitEndpoint waits for readiness and parses the published SSH string.
func (b *Backend) awaitEndpoint(ctx context.Context, socket string) (backend.Endpoint, error) {
	ssh, err := b.client.WaitReady(ctx, socket, b.opts.ReadyTimeout, b.opts.PollInterval)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backend.Endpoint{}, ctxErr
		}
		return backend.Endpoint{}, b.newError("wait for tmate readiness", err, socket)
	}
	return b.parseEndpoint(ssh, socket)
}

func (b *Backend) parseEndpoint(ssh, socket string) (backend.Endpoint, error) {
	target, err := tmate.ParseSSH(ssh)
	if err != nil {
		return backend.Endpoint{}, b.newError("parse tmate endpoint", errors.ErrProvisionFailed, socket).WithCause(err)
	}
	return backend.Endpoint{
		Host:       target.Host,
		Port:       target.Port,
		User:       target.User,
		Connection: target.Command,
	}, nil
}

// shutdown stops the server on socket, if one is running.
func (b *Backend) shutdown(ctx context.Context, socket string) {
	if b.client.Shutdown(ctx, socket, b.opts.StopGrace) {
		b.logger.Debug("tmate server stopped", "socket", socket)
	}
}

// teardown kills the server and removes its files even if ctx is done.
func (b *Backend) teardown(ctx context.Context, socket string) {
	ctx = context.WithoutCancel(ctx)
	b.shutdown(ctx, socket)
	if err := tmate.RemoveSocket(socket); err != nil {
		b.logger.Warn("failed to remove socket", "socket", socket, "error", err.Error())
	}
	if err := removeState(socket); err != nil {
		b.logger.Warn("failed to remove session state", "socket", socket, "error", err.Error())
	}
}

// Installed keeps only the username. The tmate token carried in the endpoint
// is the login material; a tmate server has no accounts to set passwords on.
func (b *Backend) Installed(creds credential.Credentials) credential.Credentials {
	return credential.Credentials{Username: creds.Username}
}

// ApplyCredentials records the session user.
func (b *Backend) ApplyCredentials(ctx context.Context, h backend.Handle, creds credential.Credentials) error {
	socket := string(h)

	var failures []error
	if err := b.client.SetEnvironment(ctx, socket, EnvUser, creds.Username); err != nil {
		failures = append(failures, err)
	}
	if st, err := readState(socket); err == nil {
		st.User = creds.Username
		if err := writeState(socket, st); err != nil {
			failures = append(failures, err)
		}
	} else {
		failures = append(failures, err)
	}

	if len(failures) == 0 {
		return nil
	}
	return b.newError("apply credentials", errors.ErrPartialProvisioning, socket).WithCause(errors.Join(failures...))
}

// Start launches a new server on the session socket and waits for it to
// become ready. Starting a running session succeeds.
func (b *Backend) Start(ctx context.Context, h backend.Handle) error {
	socket := string(h)
	if b.client.HasSession(ctx, socket) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	log := b.logger.With("socket", socket)
	if err := b.newSession(ctx, socket, log); err != nil {
		return b.operationError(ctx, "start tmate server", socket, err)
	}
	if st, err := readState(socket); err == nil {
		b.recordEnvironment(ctx, socket, st, log)
	}
	if _, err := b.awaitEndpoint(ctx, socket); err != nil {
		// Leave the session stopped rather than half started
		b.shutdown(context.WithoutCancel(ctx), socket)
		return b.operationError(ctx, "start tmate server", socket, err)
	}
	return nil
}

// Stop kills the tmate server and keeps the session files so it can be
// started again. Stopping a stopped session succeeds.
func (b *Backend) Stop(ctx context.Context, h backend.Handle) error {
	socket := string(h)
	if !b.client.HasSession(ctx, socket) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}

	b.shutdown(ctx, socket)
	if b.client.HasSession(ctx, socket) {
		return b.operationError(ctx, "stop tmate server", socket, errors.New("server still answering after kill-server"))
	}
	return nil
}

// Restart stops and starts the session. The relay hands out a new SSH
// string, so callers should refresh the endpoint afterwards.
func (b *Backend) Restart(ctx context.Context, h backend.Handle) error {
	if err := b.Stop(ctx, h); err != nil {
		return err
	}
	return b.Start(ctx, h)
}

func (b *Backend) operationError(ctx context.Context, message, socket string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return b.newError(message, errors.ErrBackendOperationFailed, socket).WithCause(err)
}

// Destroy kills the server and removes the socket and state files. A
// missing session is not an error.
func (b *Backend) Destroy(ctx context.Context, h backend.Handle) error {
	socket := string(h)
	b.shutdown(ctx, socket)

	var failures []error
	if err := tmate.RemoveSocket(socket); err != nil {
		failures = append(failures, err)
	}
	if err := removeState(socket); err != nil {
		failures = append(failures, err)
	}
	if len(failures) > 0 {
		return b.operationError(ctx, "remove session files", socket, errors.Join(failures...))
	}
	return nil
}

// Describe reports destroyed when no session files remain, running when the
// server answers and stopped otherwise.
func (b *Backend) Describe(ctx context.Context, h backend.Handle) (backend.Status, error) {
	socket := string(h)
	if !tmate.SocketExists(socket) && !stateExists(socket) {
		return backend.StatusDestroyed, nil
	}
	if b.client.HasSession(ctx, socket) {
		return backend.StatusRunning, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return backend.StatusStopped, nil
}

// Endpoint re-reads the SSH connection string of a running session.
func (b *Backend) Endpoint(ctx context.Context, h backend.Handle) (backend.Endpoint, error) {
	socket := string(h)
	ssh, err := b.client.SSHCommand(ctx, socket)
	if err != nil {
		return backend.Endpoint{}, b.operationError(ctx, "read tmate endpoint", socket, err)
	}
	return b.parseEndpoint(ssh, socket)
}

// List returns every session that still has a socket or state file under
// the socket directory.
func (b *Backend) List(ctx context.Context) ([]backend.Discovered, error) {
	sockets, err := tmate.ListSockets(b.opts.SocketDir, b.opts.SocketPrefix)
	if err != nil {
		return nil, b.newError("list sockets", errors.ErrBackendUnavailable, b.opts.SocketDir).WithCause(err)
	}
	stated, err := listStates(b.opts.SocketDir, b.opts.SocketPrefix)
	if err != nil {
		return nil, b.newError("list session state", errors.ErrBackendUnavailable, b.opts.SocketDir).WithCause(err)
	}
	sockets = append(sockets, stated...)
	slices.Sort(sockets)
	sockets = slices.Compact(sockets)

	found := make([]backend.Discovered, 0, len(sockets))
	for _, socket := range sockets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found = append(found, b.discover(ctx, socket))
	}
	return found, nil
}

func (b *Backend) discover(ctx context.Context, socket string) backend.Discovered {
	id, _ := tmate.SessionIDFromSocket(b.opts.SocketPrefix, socket)
	d := backend.Discovered{
		SessionID: id,
		Handle:    backend.Handle(socket),
		Status:    backend.StatusStopped,
	}

	st, stErr := readState(socket)
	if stErr == nil {
		d.Owner = st.Owner
		d.Spec = st.Spec
		d.CreatedAt = st.CreatedAt
	} else if info, err := os.Stat(socket); err == nil {
		d.CreatedAt = info.ModTime().UTC()
	}

	if !b.client.HasSession(ctx, socket) {
		return d
	}
	d.Status = backend.StatusRunning
	if d.Owner == "" {
		if owner, err := b.client.ShowEnvironment(ctx, socket, EnvOwner); err == nil {
			d.Owner = owner
		}
	}
	if ep, err := b.Endpoint(ctx, d.Handle); err == nil {
		d.Endpoint = ep
	}
	return d
}

var (
	_ backend.Backend          = (*Backend)(nil)
	_ backend.Lister           = (*Backend)(nil)
	_ backend.EndpointResolver = (*Backend)(nil)
	_ backend.CredentialScoper = (*Backend)(nil)
)
