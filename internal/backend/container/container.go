// Package container implements the session backend on top of Docker.
//
// Each session is one container named "<prefix><sessionID>" whose service
// port (22/tcp by default) is published on the host port allocated by the
// orchestrator. Session metadata is stored in container labels so that List
// can rebuild the registry after a restart.
package container

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/credential"
	"github.com/ariznodes/vpsctl/internal/errors"
	"github.com/ariznodes/vpsctl/internal/logging"
)

// Options configures the container backend.
type Options struct {
	// Host is advertised in endpoints; containers are reached on Host:HostPort.
	Host         string
	DefaultImage string
	ServicePort  int
	NamePrefix   string
	// Pull refreshes the image before each provision. Failures are logged only.
	Pull        bool
	PullTimeout time.Duration
	StopTimeout time.Duration
}

// Backend provisions sessions as Docker containers.
type Backend struct {
	client DockerClient
	opts   Options
	logger *logging.Logger
}

// New creates a container backend.
func New(client DockerClient, opts Options, logger *logging.Logger) *Backend {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if opts.ServicePort == 0 {
		opts.ServicePort = 22
	}
	return &Backend{
		client: client,
		opts:   opts,
		logger: logger.WithBackend(string(backend.KindContainer)),
	}
}

func (b *Backend) servicePort() docker.Port {
	return docker.Port(strconv.Itoa(b.opts.ServicePort) + "/tcp")
}

func (b *Backend) stopTimeout() uint {
	return uint(b.opts.StopTimeout / time.Second)
}

func (b *Backend) newError(message string, cause error, handle backend.Handle) *errors.BackendError {
	return errors.NewBackendError(message, cause).
		WithKind(string(backend.KindContainer)).
		WithHandle(string(handle))
}

// Provision creates and starts the container for req.
func (b *Backend) Provision(ctx context.Context, req backend.Request) (backend.Handle, backend.Endpoint, error) {
	if err := b.client.PingWithContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", backend.Endpoint{}, ctxErr
		}
		return "", backend.Endpoint{}, b.newError("docker daemon unreachable", errors.ErrBackendUnavailable, "").WithCause(err)
	}

	req.Spec = req.Spec.WithDefaultImage(b.opts.DefaultImage)
	spec := req.Spec
	if b.opts.Pull {
		b.pull(ctx, spec.Image)
	}

	port := b.servicePort()
	hostConfig := &docker.HostConfig{
		PortBindings: map[docker.Port][]docker.PortBinding{
			port: {{HostPort: strconv.Itoa(req.HostPort)}},
		},
		Memory:   int64(spec.MemoryMB) * 1024 * 1024,
		NanoCPUs: int64(spec.CPUs * 1e9),
	}
	created, err := b.client.CreateContainer(docker.CreateContainerOptions{
		Name: b.opts.NamePrefix + req.SessionID,
		Config: &docker.Config{
			Image:        spec.Image,
			Labels:       requestLabels(req),
			Tty:          true,
			OpenStdin:    true,
			ExposedPorts: map[docker.Port]struct{}{port: {}},
		},
		HostConfig: hostConfig,
		Context:    ctx,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", backend.Endpoint{}, ctxErr
		}
		return "", backend.Endpoint{}, b.newError("create container", errors.ErrProvisionFailed, "").WithCause(err)
	}
	handle := backend.Handle(created.ID)
	log := b.logger.WithSession(req.SessionID).With("container_id", created.ID)

	if err := b.client.StartContainerWithContext(created.ID, nil, ctx); err != nil {
		b.discard(ctx, created.ID, log)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", backend.Endpoint{}, ctxErr
		}
		return "", backend.Endpoint{}, b.newError("start container", errors.ErrProvisionFailed, handle).WithCause(err)
	}
	if err := ctx.Err(); err != nil {
		b.discard(ctx, created.ID, log)
		return "", backend.Endpoint{}, err
	}

	log.Info("container started", "image", spec.Image, "host_port", req.HostPort)
	return handle, b.endpoint(req.HostPort), nil
}

// discard removes a half-provisioned container even if ctx is already cancelled.
func (b *Backend) discard(ctx context.Context, id string, log *logging.Logger) {
	err := b.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:            id,
		Force:         true,
		RemoveVolumes: true,
		Context:       context.WithoutCancel(ctx),
	})
	if err != nil && !isNoSuchContainer(err) {
		log.Warn("failed to remove container after aborted provision", "error", err.Error())
	}
}

func (b *Backend) pull(ctx context.Context, image string) {
	repo, tag := docker.ParseRepositoryTag(image)
	if tag == "" {
		tag = "latest"
	}

	pullCtx := ctx
	if b.opts.PullTimeout > 0 {
		var cancel context.CancelFunc
		pullCtx, cancel = context.WithTimeout(ctx, b.opts.PullTimeout)
		defer cancel()
	}

	err := b.client.PullImage(docker.PullImageOptions{
		Repository: repo,
		Tag:        tag,
		Context:    pullCtx,
	}, docker.AuthConfiguration{})
	if err != nil {
		// The image may already be present locally
		b.logger.Warn("image pull failed, using local image", "image", image, "error", err.Error())
	}
}

func (b *Backend) endpoint(hostPort int) backend.Endpoint {
	return backend.Endpoint{
		Host:       b.opts.Host,
		Port:       hostPort,
		Connection: net.JoinHostPort(b.opts.Host, strconv.Itoa(hostPort)),
	}
}

// ApplyCredentials sets the root password, creates the session user and
// starts sshd. Every step is attempted; failures are joined into one
// errors.ErrPartialProvisioning error.
func (b *Backend) ApplyCredentials(ctx context.Context, h backend.Handle, creds credential.Credentials) error {
	id := string(h)
	var failures []error

	steps := []struct {
		name  string
		cmd   []string
		stdin string
	}{
		{"set root password", []string{"chpasswd"}, credential.RootUser + ":" + creds.RootPassword + "\n"},
		{"create user", []string{"sh", "-c", `id -u "$1" >/dev/null 2>&1 || useradd -m -s "$(command -v bash || echo /bin/sh)" "$1"`, "sh", creds.Username}, ""},
		{"set user password", []string{"chpasswd"}, creds.Username + ":" + creds.Password + "\n"},
		{"start sshd", []string{"sh", "-c", "service ssh start || /etc/init.d/ssh start"}, ""},
	}
	for _, step := range steps {
		if err := b.exec(ctx, id, step.cmd, step.stdin); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				failures = append(failures, ctxErr)
				break
			}
			failures = append(failures, fmt.Errorf("%s: %w", step.name, err))
		}
	}

	if len(failures) == 0 {
		return nil
	}
	return b.newError("apply credentials", errors.ErrPartialProvisioning, h).WithCause(errors.Join(failures...))
}

// exec runs cmd in the container and fails on a non-zero exit code. stdin,
// when set, is streamed to the process so secrets stay off the command line.
func (b *Backend) exec(ctx context.Context, id string, cmd []string, stdin string) error {
	created, err := b.client.CreateExec(docker.CreateExecOptions{
		Container:    id,
		Cmd:          cmd,
		User:         credential.RootUser,
		AttachStdin:  stdin != "",
		AttachStdout: true,
		AttachStderr: true,
		Context:      ctx,
	})
	if err != nil {
		return err
	}

	var output bytes.Buffer
	opts := docker.StartExecOptions{
		OutputStream: &output,
		ErrorStream:  &output,
		Context:      ctx,
	}
	if stdin != "" {
		opts.InputStream = strings.NewReader(stdin)
	}
	if err := b.client.StartExec(created.ID, opts); err != nil {
		return err
	}

	inspect, err := b.client.InspectExec(created.ID)
	if err != nil {
		return err
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d: %s", cmd[0], inspect.ExitCode, strings.TrimSpace(output.String()))
	}
	return nil
}

// Start boots a stopped container. Starting a running container succeeds.
func (b *Backend) Start(ctx context.Context, h backend.Handle) error {
	err := b.client.StartContainerWithContext(string(h), nil, ctx)
	if err == nil || isAlreadyRunning(err) {
		return nil
	}
	return b.operationError(ctx, "start container", h, err)
}

// Stop halts a running container. Stopping a stopped container succeeds.
func (b *Backend) Stop(ctx context.Context, h backend.Handle) error {
	err := b.client.StopContainerWithContext(string(h), b.stopTimeout(), ctx)
	if err == nil || isNotRunning(err) {
		return nil
	}
	return b.operationError(ctx, "stop container", h, err)
}

// Restart restarts the container.
func (b *Backend) Restart(ctx context.Context, h backend.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.client.RestartContainer(string(h), b.stopTimeout()); err != nil {
		return b.operationError(ctx, "restart container", h, err)
	}
	return nil
}

func (b *Backend) operationError(ctx context.Context, message string, h backend.Handle, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return b.newError(message, errors.ErrBackendOperationFailed, h).WithCause(err)
}

// Destroy stops and removes the container with its volumes. A missing
// container is not an error.
func (b *Backend) Destroy(ctx context.Context, h backend.Handle) error {
	id := string(h)
	if err := b.client.StopContainerWithContext(id, b.stopTimeout(), ctx); err != nil && !isNotRunning(err) && !isNoSuchContainer(err) {
		b.logger.Debug("stop before remove failed", "container_id", id, "error", err.Error())
	}

	err := b.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:            id,
		Force:         true,
		RemoveVolumes: true,
		Context:       ctx,
	})
	if err == nil || isNoSuchContainer(err) {
		return nil
	}
	return b.operationError(ctx, "remove container", h, err)
}

// Describe maps the container state to a session status. A missing
// container is reported as destroyed.
func (b *Backend) Describe(ctx context.Context, h backend.Handle) (backend.Status, error) {
	c, err := b.client.InspectContainerWithOptions(docker.InspectContainerOptions{ID: string(h), Context: ctx})
	if err != nil {
		if isNoSuchContainer(err) {
			return backend.StatusDestroyed, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", b.newError("inspect container", errors.ErrBackendUnavailable, h).WithCause(err)
	}
	return statusFromState(c.State), nil
}

func statusFromState(s docker.State) backend.Status {
	switch {
	case s.Restarting:
		return backend.StatusRestarting
	case s.Running && !s.Paused:
		return backend.StatusRunning
	default:
		return backend.StatusStopped
	}
}

func statusFromString(state string) backend.Status {
	switch state {
	case "running":
		return backend.StatusRunning
	case "restarting":
		return backend.StatusRestarting
	default:
		return backend.StatusStopped
	}
}

// List returns every container carrying the session id label.
func (b *Backend) List(ctx context.Context) ([]backend.Discovered, error) {
	containers, err := b.client.ListContainers(docker.ListContainersOptions{
		All:     true,
		Filters: map[string][]string{"label": {LabelID}},
		Context: ctx,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, b.newError("list containers", errors.ErrBackendUnavailable, "").WithCause(err)
	}

	found := make([]backend.Discovered, 0, len(containers))
	for _, c := range containers {
		id := c.Labels[LabelID]
		if id == "" {
			continue
		}
		hostPort := b.publishedPort(c)
		found = append(found, backend.Discovered{
			SessionID: id,
			Owner:     c.Labels[LabelOwner],
			Handle:    backend.Handle(c.ID),
			Endpoint:  b.endpoint(hostPort),
			Spec:      specFromLabels(c.Labels),
			HostPort:  hostPort,
			Status:    statusFromString(c.State),
			CreatedAt: createdAt(c),
		})
	}
	return found, nil
}

func (b *Backend) publishedPort(c docker.APIContainers) int {
	for _, p := range c.Ports {
		if int(p.PrivatePort) == b.opts.ServicePort && p.PublicPort > 0 {
			return int(p.PublicPort)
		}
	}
	// Stopped containers publish nothing; fall back to the recorded port
	port, _ := strconv.Atoi(c.Labels[LabelHostPort])
	return port
}

func createdAt(c docker.APIContainers) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, c.Labels[LabelCreatedAt]); err == nil {
		return t
	}
	return time.Unix(c.Created, 0).UTC()
}

func isNoSuchContainer(err error) bool {
	var target *docker.NoSuchContainer
	return errors.As(err, &target)
}

func isNotRunning(err error) bool {
	var target *docker.ContainerNotRunning
	return errors.As(err, &target)
}

func isAlreadyRunning(err error) bool {
	var target *docker.ContainerAlreadyRunning
	return errors.As(err, &target)
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Lister  = (*Backend)(nil)
)
