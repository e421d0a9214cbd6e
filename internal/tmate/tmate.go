// Package tmate provides helpers for driving tmate servers over per-session
// control sockets.
//
// vpsctl runs one tmate server per terminal session. Each server is bound to
// its own socket file "<dir>/<prefix>-<sessionID>.sock", which isolates
// sessions from one another and doubles as the session handle: the socket
// path is all that is needed to find, describe or tear down the session.
package tmate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ariznodes/vpsctl/internal/errors"
	"github.com/ariznodes/vpsctl/internal/exec"
)

// DefaultBinary is the tmate executable looked up on PATH.
const DefaultBinary = "tmate"

// SocketSuffix is the file extension used for session sockets.
const SocketSuffix = ".sock"

// sshFormat asks tmate for the read-write SSH connection string.
const sshFormat = "#{tmate_ssh}"

// Client runs tmate commands through a CommandExecutor.
type Client struct {
	binary string
	exec   exec.CommandExecutor
}

// NewClient creates a Client. An empty binary uses DefaultBinary.
func NewClient(binary string, executor exec.CommandExecutor) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Client{binary: binary, exec: executor}
}

// Binary returns the tmate executable used by the client.
func (c *Client) Binary() string {
	return c.binary
}

// Args returns tmate arguments bound to socket: [-S socket args...].
func Args(socket string, args ...string) []string {
	return append([]string{"-S", socket}, args...)
}

// Run executes a tmate command against socket and returns its trimmed
// combined output. On failure the output is attached to the returned
// BackendError.
func (c *Client) Run(ctx context.Context, socket string, args ...string) (string, error) {
	out, err := c.exec.CombinedOutput(ctx, c.binary, Args(socket, args...)...)
	text := strings.TrimSpace(string(out))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return text, ctxErr
		}
		op := "tmate"
		if len(args) > 0 {
			op = "tmate " + args[0]
		}
		return text, errors.NewBackendError(op+" failed", err).
			WithHandle(socket).
			WithOutput(text)
	}
	return text, nil
}

// NewSession starts a detached tmate server and session on socket.
func (c *Client) NewSession(ctx context.Context, socket string) error {
	_, err := c.Run(ctx, socket, "new-session", "-d")
	return err
}

// HasSession reports whether a live server answers on socket.
func (c *Client) HasSession(ctx context.Context, socket string) bool {
	_, err := c.Run(ctx, socket, "has-session")
	return err == nil
}

// KillServer terminates the tmate server on socket and every session in it.
func (c *Client) KillServer(ctx context.Context, socket string) error {
	_, err := c.Run(ctx, socket, "kill-server")
	return err
}

// SSHCommand returns the SSH connection string published by the tmate
// server. It is empty until the server has registered with its relay.
func (c *Client) SSHCommand(ctx context.Context, socket string) (string, error) {
	return c.Run(ctx, socket, "display", "-p", sshFormat)
}

// SetEnvironment sets a variable in the server's global environment.
func (c *Client) SetEnvironment(ctx context.Context, socket, key, value string) error {
	_, err := c.Run(ctx, socket, "set-environment", "-g", key, value)
	return err
}

// ShowEnvironment reads a variable from the server's global environment.
// An unset variable yields an empty string and no error.
func (c *Client) ShowEnvironment(ctx context.Context, socket, key string) (string, error) {
	out, err := c.Run(ctx, socket, "show-environment", "-g", key)
	if err != nil {
		if strings.Contains(out, "unknown variable") {
			return "", nil
		}
		return "", err
	}
	if value, found := strings.CutPrefix(out, key+"="); found {
		return value, nil
	}
	// "-KEY" marks a variable removed from the environment
	return "", nil
}

// WaitReady polls the server on socket until it publishes an SSH connection
// string, the timeout elapses, or ctx is cancelled. A timeout yields a
// TimeoutError wrapping errors.ErrReadinessTimeout; cancellation yields the
// context's error.
func (c *Client) WaitReady(ctx context.Context, socket string, timeout, pollInterval time.Duration) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			// The caller's cancellation wins over our own deadline
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "", errors.NewTimeoutError("tmate readiness", timeout)
		case <-ticker.C:
			out, err := c.SSHCommand(waitCtx, socket)
			if err == nil && strings.HasPrefix(out, "ssh ") {
				return out, nil
			}
		}
	}
}

// SSHTarget is a parsed tmate SSH connection string.
type SSHTarget struct {
	User    string
	Host    string
	Port    int
	Command string
}

// ParseSSH parses "ssh [-p N] user@host" as printed by tmate. The port
// defaults to 22.
func ParseSSH(command string) (SSHTarget, error) {
	command = strings.TrimSpace(command)
	fields := strings.Fields(command)
	if len(fields) < 2 || fields[0] != "ssh" {
		return SSHTarget{}, fmt.Errorf("%w: unrecognized ssh command %q", errors.ErrInvalidInput, command)
	}

	target := SSHTarget{Port: 22, Command: command}
	for i := 1; i < len(fields); i++ {
		field := fields[i]
		switch {
		case field == "-p":
			if i+1 >= len(fields) {
				return SSHTarget{}, fmt.Errorf("%w: missing port in %q", errors.ErrInvalidInput, command)
			}
			i++
			port, err := strconv.Atoi(fields[i])
			if err != nil {
				return SSHTarget{}, fmt.Errorf("%w: bad port in %q", errors.ErrInvalidInput, command)
			}
			target.Port = port
		case strings.HasPrefix(field, "-p"):
			port, err := strconv.Atoi(strings.TrimPrefix(field, "-p"))
			if err != nil {
				return SSHTarget{}, fmt.Errorf("%w: bad port in %q", errors.ErrInvalidInput, command)
			}
			target.Port = port
		case strings.Contains(field, "@"):
			user, host, _ := strings.Cut(field, "@")
			target.User = user
			target.Host = host
		}
	}

	if target.User == "" || target.Host == "" {
		return SSHTarget{}, fmt.Errorf("%w: no user@host in %q", errors.ErrInvalidInput, command)
	}
	return target, nil
}

// SocketPath returns the control socket path for one server of a session.
// generation tells apart the servers a session id has over its life; an
// empty generation yields the plain <prefix>-<id> name.
func SocketPath(dir, prefix, sessionID, generation string) string {
	name := prefix + "-" + sessionID
	if generation != "" {
		name += "-" + generation
	}
	return filepath.Join(dir, name+SocketSuffix)
}

// SessionIDFromSocket extracts the session id from a socket path created by
// SocketPath. It reports false for paths that do not follow the naming scheme.
func SessionIDFromSocket(prefix, socket string) (string, bool) {
	name := filepath.Base(socket)
	rest, ok := strings.CutPrefix(name, prefix+"-")
	if !ok {
		return "", false
	}
	rest, ok = strings.CutSuffix(rest, SocketSuffix)
	if !ok {
		return "", false
	}
	id, generation, hasGeneration := strings.Cut(rest, "-")
	if id == "" || (hasGeneration && generation == "") {
		return "", false
	}
	return id, true
}

// ListSockets returns every session socket path under dir. A missing
// directory yields no sockets.
func ListSockets(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*"+SocketSuffix))
	if err != nil {
		return nil, err
	}
	sockets := make([]string, 0, len(matches))
	for _, match := range matches {
		if _, ok := SessionIDFromSocket(prefix, match); ok {
			sockets = append(sockets, match)
		}
	}
	return sockets, nil
}

// SocketExists reports whether a file is present at socket.
func SocketExists(socket string) bool {
	_, err := os.Stat(socket)
	return err == nil
}

// RemoveSocket deletes the socket file, ignoring a missing file.
func RemoveSocket(socket string) error {
	if err := os.Remove(socket); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
