package container

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	docker "github.com/fsouza/go-dockerclient"
)

type fakeExec struct {
	container string
	cmd       []string
	stdin     string
	exitCode  int
}

// fakeDocker is an in-memory DockerClient.
type fakeDocker struct {
	mu sync.Mutex

	pingErr    error
	pullErr    error
	createErr  error
	startErr   error
	stopErr    error
	restartErr error
	removeErr  error
	listErr    error

	// onStart runs before StartContainerWithContext returns.
	onStart func()
	// exitCode decides the exit code of an exec.
	exitCode func(cmd []string) int

	containers map[string]*docker.Container
	nextID     int

	pulls    []docker.PullImageOptions
	creates  []docker.CreateContainerOptions
	removed  []string
	restarts []string
	execs    map[string]*fakeExec
	execLog  []*fakeExec
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		containers: make(map[string]*docker.Container),
		execs:      make(map[string]*fakeExec),
	}
}

func (f *fakeDocker) PingWithContext(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeDocker) PullImage(opts docker.PullImageOptions, _ docker.AuthConfiguration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, opts)
	return f.pullErr
}

func (f *fakeDocker) CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, opts)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	c := &docker.Container{
		ID:         fmt.Sprintf("c%063d", f.nextID),
		Name:       "/" + opts.Name,
		Config:     opts.Config,
		HostConfig: opts.HostConfig,
		Created:    time.Now(),
	}
	f.containers[c.ID] = c
	return c, nil
}

func (f *fakeDocker) StartContainerWithContext(id string, _ *docker.HostConfig, ctx context.Context) error {
	if f.onStart != nil {
		f.onStart()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	c, ok := f.containers[id]
	if !ok {
		return &docker.NoSuchContainer{ID: id}
	}
	if c.State.Running {
		return &docker.ContainerAlreadyRunning{ID: id}
	}
	c.State.Running = true
	return nil
}

func (f *fakeDocker) StopContainerWithContext(id string, _ uint, ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	c, ok := f.containers[id]
	if !ok {
		return &docker.NoSuchContainer{ID: id}
	}
	if !c.State.Running {
		return &docker.ContainerNotRunning{ID: id}
	}
	c.State.Running = false
	return nil
}

func (f *fakeDocker) RestartContainer(id string, _ uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, id)
	if f.restartErr != nil {
		return f.restartErr
	}
	c, ok := f.containers[id]
	if !ok {
		return &docker.NoSuchContainer{ID: id}
	}
	c.State.Running = true
	return nil
}

func (f *fakeDocker) RemoveContainer(opts docker.RemoveContainerOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	if _, ok := f.containers[opts.ID]; !ok {
		return &docker.NoSuchContainer{ID: opts.ID}
	}
	delete(f.containers, opts.ID)
	f.removed = append(f.removed, opts.ID)
	return nil
}

func (f *fakeDocker) InspectContainerWithOptions(opts docker.InspectContainerOptions) (*docker.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[opts.ID]
	if !ok {
		return nil, &docker.NoSuchContainer{ID: opts.ID}
	}
	cp := *c
	return &cp, nil
}

func (f *fakeDocker) ListContainers(opts docker.ListContainersOptions) ([]docker.APIContainers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []docker.APIContainers
	for _, c := range f.containers {
		state := "exited"
		if c.State.Running {
			state = "running"
		}
		api := docker.APIContainers{
			ID:      c.ID,
			Names:   []string{c.Name},
			Image:   c.Config.Image,
			State:   state,
			Labels:  c.Config.Labels,
			Created: c.Created.Unix(),
		}
		if c.State.Running && c.HostConfig != nil {
			for port, bindings := range c.HostConfig.PortBindings {
				for _, binding := range bindings {
					public, _ := strconv.Atoi(binding.HostPort)
					private, _ := strconv.Atoi(port.Port())
					api.Ports = append(api.Ports, docker.APIPort{
						PrivatePort: int64(private),
						PublicPort:  int64(public),
						Type:        port.Proto(),
					})
				}
			}
		}
		out = append(out, api)
	}
	return out, nil
}

func (f *fakeDocker) CreateExec(opts docker.CreateExecOptions) (*docker.Exec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[opts.Container]; !ok {
		return nil, &docker.NoSuchContainer{ID: opts.Container}
	}
	id := fmt.Sprintf("exec-%d", len(f.execLog)+1)
	e := &fakeExec{container: opts.Container, cmd: opts.Cmd}
	f.execs[id] = e
	f.execLog = append(f.execLog, e)
	return &docker.Exec{ID: id}, nil
}

func (f *fakeDocker) StartExec(id string, opts docker.StartExecOptions) error {
	f.mu.Lock()
	e, ok := f.execs[id]
	exitCode := f.exitCode
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such exec %s", id)
	}

	stdin := ""
	if opts.InputStream != nil {
		b, err := io.ReadAll(opts.InputStream)
		if err != nil {
			return err
		}
		stdin = string(b)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	e.stdin = stdin
	if exitCode != nil {
		e.exitCode = exitCode(e.cmd)
	}
	if e.exitCode != 0 && opts.ErrorStream != nil {
		_, _ = io.WriteString(opts.ErrorStream, strings.Join(e.cmd, " ")+": failed\n")
	}
	return nil
}

func (f *fakeDocker) InspectExec(id string) (*docker.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok {
		return nil, fmt.Errorf("no such exec %s", id)
	}
	return &docker.ExecInspect{ID: id, ExitCode: e.exitCode}, nil
}

func (f *fakeDocker) only() *docker.Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		return c
	}
	return nil
}

var _ DockerClient = (*fakeDocker)(nil)
