package registry

import (
	"time"

	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/credential"
)

// Session is the registry record for one compute session.
type Session struct {
	ID          string                 `json:"id" yaml:"id"`
	Kind        backend.Kind           `json:"backend" yaml:"backend"`
	Owner       string                 `json:"owner" yaml:"owner"`
	Spec        backend.Spec           `json:"spec" yaml:"spec"`
	Handle      backend.Handle         `json:"handle,omitempty" yaml:"handle,omitempty"`
	Endpoint    backend.Endpoint       `json:"endpoint" yaml:"endpoint"`
	Credentials credential.Credentials `json:"-" yaml:"-"`
	Status      backend.Status         `json:"status" yaml:"status"`
	HostPort    int                    `json:"host_port,omitempty" yaml:"host_port,omitempty"`
	CreatedAt   time.Time              `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" yaml:"updated_at"`
}
