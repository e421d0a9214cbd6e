package lifecycle

import (
	"time"

	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/credential"
	"github.com/ariznodes/vpsctl/internal/registry"
)

// SessionInfo is the caller-facing view of a session.
type SessionInfo struct {
	ID          string                 `json:"id" yaml:"id"`
	Kind        backend.Kind           `json:"backend" yaml:"backend"`
	Owner       string                 `json:"owner" yaml:"owner"`
	Status      backend.Status         `json:"status" yaml:"status"`
	Spec        backend.Spec           `json:"spec" yaml:"spec"`
	Endpoint    backend.Endpoint       `json:"endpoint" yaml:"endpoint"`
	SSHCommand  string                 `json:"ssh_command,omitempty" yaml:"ssh_command,omitempty"`
	HostPort    int                    `json:"host_port,omitempty" yaml:"host_port,omitempty"`
	Credentials credential.Credentials `json:"credentials,omitzero" yaml:"credentials,omitempty"`
	CreatedAt   time.Time              `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" yaml:"updated_at"`

	// Warning is set when the operation succeeded but a best-effort step
	// failed. It always wraps errors.ErrPartialProvisioning.
	Warning error `json:"-" yaml:"-"`
}

func newSessionInfo(s registry.Session) *SessionInfo {
	return &SessionInfo{
		ID:          s.ID,
		Kind:        s.Kind,
		Owner:       s.Owner,
		Status:      s.Status,
		Spec:        s.Spec,
		Endpoint:    s.Endpoint,
		SSHCommand:  s.Endpoint.SSHCommand(),
		HostPort:    s.HostPort,
		Credentials: s.Credentials,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// WarningText returns the warning message, or "" when there is none.
func (i *SessionInfo) WarningText() string {
	if i.Warning == nil {
		return ""
	}
	return i.Warning.Error()
}

// Redacted returns a copy without passwords. The username is kept.
func (i SessionInfo) Redacted() SessionInfo {
	i.Credentials = credential.Credentials{Username: i.Credentials.Username}
	return i
}
