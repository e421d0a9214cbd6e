package container

import (
	"context"

	docker "github.com/fsouza/go-dockerclient"
)

// DockerClient is the subset of *docker.Client used by the backend.
type DockerClient interface {
	PingWithContext(ctx context.Context) error
	PullImage(opts docker.PullImageOptions, auth docker.AuthConfiguration) error
	CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error)
	StartContainerWithContext(id string, hostConfig *docker.HostConfig, ctx context.Context) error
	StopContainerWithContext(id string, timeout uint, ctx context.Context) error
	RestartContainer(id string, timeout uint) error
	RemoveContainer(opts docker.RemoveContainerOptions) error
	InspectContainerWithOptions(opts docker.InspectContainerOptions) (*docker.Container, error)
	ListContainers(opts docker.ListContainersOptions) ([]docker.APIContainers, error)
	CreateExec(opts docker.CreateExecOptions) (*docker.Exec, error)
	StartExec(id string, opts docker.StartExecOptions) error
	InspectExec(id string) (*docker.ExecInspect, error)
}

var _ DockerClient = (*docker.Client)(nil)

// Connect creates a Docker client for endpoint. An empty endpoint reads
// DOCKER_HOST, DOCKER_TLS_VERIFY and DOCKER_CERT_PATH from the environment.
func Connect(endpoint string) (*docker.Client, error) {
	if endpoint == "" {
		return docker.NewClientFromEnv()
	}
	return docker.NewClient(endpoint)
}
