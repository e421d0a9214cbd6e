// Package testutil provides testing utilities for vpsctl tests.
package testutil

import (
	"os/exec"
	"testing"

	"github.com/ariznodes/vpsctl/internal/backend"
)

// SkipIfNoTmate skips the test if tmate is not installed.
func SkipIfNoTmate(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmate"); err != nil {
		t.Skip("tmate not available")
	}
}

// SkipIfShort skips slow tests when -short is set.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
}

// CoreOnly hides the optional capabilities of b so only the Backend
// methods remain visible to type assertions.
func CoreOnly(b backend.Backend) backend.Backend {
	return coreOnly{b}
}

type coreOnly struct {
	backend.Backend
}
