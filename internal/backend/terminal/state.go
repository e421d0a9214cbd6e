package terminal

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/tmate"
)

const stateSuffix = ".yaml"

// sessionState is persisted next to the control socket. A tmate server
// forgets its environment when it exits, so anything needed to start the
// session again or to rediscover it lives here.
type sessionState struct {
	SessionID string       `yaml:"session_id"`
	Owner     string       `yaml:"owner"`
	User      string       `yaml:"user,omitempty"`
	Spec      backend.Spec `yaml:"spec,omitempty"`
	CreatedAt time.Time    `yaml:"created_at"`
}

func statePath(socket string) string {
	return strings.TrimSuffix(socket, tmate.SocketSuffix) + stateSuffix
}

func socketForState(path string) string {
	return strings.TrimSuffix(path, stateSuffix) + tmate.SocketSuffix
}

func readState(socket string) (sessionState, error) {
	var st sessionState
	data, err := os.ReadFile(statePath(socket))
	if err != nil {
		return st, err
	}
	err = yaml.Unmarshal(data, &st)
	return st, err
}

func writeState(socket string, st sessionState) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(statePath(socket), data, 0600)
}

func removeState(socket string) error {
	if err := os.Remove(statePath(socket)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func stateExists(socket string) bool {
	_, err := os.Stat(statePath(socket))
	return err == nil
}

// listStates returns the socket path of every session with a state file.
func listStates(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*"+stateSuffix))
	if err != nil {
		return nil, err
	}
	sockets := make([]string, 0, len(matches))
	for _, match := range matches {
		socket := socketForState(match)
		if _, ok := tmate.SessionIDFromSocket(prefix, socket); ok {
			sockets = append(sockets, socket)
		}
	}
	return sockets, nil
}
