package tmate

import (
	"context"
	"strconv"
	"syscall"
	"time"
)

// DefaultGracefulStopTimeout is how long Shutdown waits for the server
// process to exit after kill-server before sending SIGKILL.
const DefaultGracefulStopTimeout = 500 * time.Millisecond

// ServerPID returns the PID of the tmate server on socket.
// Returns 0 if the PID cannot be determined (e.g., no server is running).
func (c *Client) ServerPID(ctx context.Context, socket string) int {
	out, err := c.Run(ctx, socket, "display", "-p", "#{pid}")
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(out)
	if err != nil {
		return 0
	}
	return pid
}

// IsProcessAlive checks if a process with the given PID exists.
// Uses kill(pid, 0) which checks for process existence without sending a signal.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// WaitForProcessExit polls until the given PID exits or the timeout is reached.
// Returns true if the process exited within the timeout, false if it's still alive.
func WaitForProcessExit(pid int, timeout time.Duration) bool {
	if pid <= 0 || !IsProcessAlive(pid) {
		return true
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return !IsProcessAlive(pid)
		case <-ticker.C:
			if !IsProcessAlive(pid) {
				return true
			}
		}
	}
}

// Shutdown stops the tmate server on socket. It records the server PID,
// asks the server to exit with kill-server, and force-kills the process if
// it outlives gracefulTimeout. It reports whether a server was running.
// The socket file is left in place.
func (c *Client) Shutdown(ctx context.Context, socket string, gracefulTimeout time.Duration) bool {
	pid := c.ServerPID(ctx, socket)
	killed := c.KillServer(ctx, socket) == nil

	if !WaitForProcessExit(pid, gracefulTimeout) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	return killed || pid > 0
}
