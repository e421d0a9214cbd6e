// Package backend defines the contract between the lifecycle orchestrator and
// the provisioning backends, along with the value types that cross it.
//
// A Backend owns one kind of compute unit (a Docker container or a tmate
// terminal session) and is addressed by an opaque Handle that it issues
// from Provision. Backends never allocate ids, ports or credentials
// themselves; the orchestrator passes them in.
//
// Two optional capabilities are discovered by type assertion:
//   - Lister enumerates units already running so a fresh registry can be
//     rebuilt after a restart.
//   - EndpointResolver re-reads connection details for backends whose
//     endpoint changes across start and restart.
//   - CredentialScoper narrows issued credentials to the fields a backend
//     actually installs.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariznodes/vpsctl/internal/credential"
	"github.com/ariznodes/vpsctl/internal/errors"
)

// Backend provisions and drives compute units.
type Backend interface {
	// Provision creates and starts a unit for req and returns its handle and
	// connection endpoint. A failed Provision leaves nothing behind.
	Provision(ctx context.Context, req Request) (Handle, Endpoint, error)

	// ApplyCredentials installs login material on a provisioned unit.
	// Failures are reported with errors.ErrPartialProvisioning.
	ApplyCredentials(ctx context.Context, h Handle, creds credential.Credentials) error

	// Start boots a stopped unit.
	Start(ctx context.Context, h Handle) error

	// Stop halts a running unit without discarding it.
	Stop(ctx context.Context, h Handle) error

	// Restart stops and starts a unit.
	Restart(ctx context.Context, h Handle) error

	// Destroy discards a unit. Destroying an absent unit succeeds.
	Destroy(ctx context.Context, h Handle) error

	// Describe reports the unit's current status as seen by the runtime.
	Describe(ctx context.Context, h Handle) (Status, error)
}

// Lister is implemented by backends that can enumerate the units they own.
type Lister interface {
	List(ctx context.Context) ([]Discovered, error)
}

// EndpointResolver is implemented by backends whose endpoint can change when
// a unit is started again.
type EndpointResolver interface {
	Endpoint(ctx context.Context, h Handle) (Endpoint, error)
}

// CredentialScoper is implemented by backends that install only part of the
// generated credentials. Installed returns creds with every field the
// backend never applies cleared. Backends without it install all fields.
type CredentialScoper interface {
	Installed(creds credential.Credentials) credential.Credentials
}

// Handle identifies a unit within its backend: a container id or a tmate
// socket path.
type Handle string

// Kind names a backend implementation.
type Kind string

const (
	KindContainer Kind = "container"
	KindTerminal  Kind = "terminal"
)

// ParseKind converts a configuration value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindContainer:
		return KindContainer, nil
	case KindTerminal:
		return KindTerminal, nil
	default:
		return "", fmt.Errorf("%w: unknown backend %q", errors.ErrInvalidInput, s)
	}
}

func (k Kind) String() string {
	return string(k)
}

// BindsHostPort reports whether units of this kind publish a manager-allocated
// host port.
func (k Kind) BindsHostPort() bool {
	return k == KindContainer
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
	StatusRestarting   Status = "restarting"
	StatusDestroyed    Status = "destroyed"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusDestroyed
}

// Spec is the resource request for a unit. Zero values mean "backend default".
type Spec struct {
	MemoryMB int     `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	CPUs     float64 `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	Disk     string  `json:"disk,omitempty" yaml:"disk,omitempty"`
	Image    string  `json:"image,omitempty" yaml:"image,omitempty"`
}

// Validate rejects negative resource amounts.
func (s Spec) Validate() error {
	if s.MemoryMB < 0 {
		return fmt.Errorf("%w: memory must not be negative (got %d MB)", errors.ErrInvalidInput, s.MemoryMB)
	}
	if s.CPUs < 0 {
		return fmt.Errorf("%w: cpus must not be negative (got %g)", errors.ErrInvalidInput, s.CPUs)
	}
	return nil
}

// WithDefaultImage returns s with Image set to image when it is empty.
func (s Spec) WithDefaultImage(image string) Spec {
	if s.Image == "" {
		s.Image = image
	}
	return s
}

// Endpoint describes how to reach a unit.
type Endpoint struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	User       string `json:"user,omitempty" yaml:"user,omitempty"`
	Connection string `json:"connection" yaml:"connection"`
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e == Endpoint{}
}

// SSHCommand returns a ready-to-paste ssh invocation for the endpoint.
func (e Endpoint) SSHCommand() string {
	if strings.HasPrefix(e.Connection, "ssh ") {
		return e.Connection
	}
	if e.Host == "" {
		return ""
	}
	target := e.Host
	if e.User != "" {
		target = e.User + "@" + e.Host
	}
	if e.Port == 0 || e.Port == 22 {
		return "ssh " + target
	}
	return fmt.Sprintf("ssh %s -p %d", target, e.Port)
}

// Request carries everything a backend needs to provision a unit.
type Request struct {
	SessionID string
	Owner     string
	Spec      Spec
	// HostPort is the allocated host port, 0 for kinds that do not bind one.
	HostPort  int
	CreatedAt time.Time
}

// Discovered is a unit found by Lister.
type Discovered struct {
	SessionID string
	Owner     string
	Handle    Handle
	Endpoint  Endpoint
	Spec      Spec
	HostPort  int
	Status    Status
	CreatedAt time.Time
}
