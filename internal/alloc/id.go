package alloc

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ariznodes/vpsctl/internal/errors"
)

// IDLength is the number of hex characters in a session id.
const IDLength = 8

// NewCandidate produces a session id candidate. It is a variable so tests
// can force collisions.
var NewCandidate = func() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return u.String()[:IDLength], nil
}

// Reserver atomically claims an id. Reserve reports false when the id is
// live, reserved or retired.
type Reserver interface {
	Reserve(id string) bool
}

// IDAllocator issues unique session ids.
type IDAllocator struct {
	reserver    Reserver
	maxAttempts int
}

// NewIDAllocator creates an allocator reserving ids in r. maxAttempts bounds
// retries on collision and is raised to 1 if smaller.
func NewIDAllocator(r Reserver, maxAttempts int) *IDAllocator {
	return &IDAllocator{reserver: r, maxAttempts: max(maxAttempts, 1)}
}

// NewSessionID returns a fresh id that is now reserved. The caller must
// either store a session under it or release the reservation.
func (a *IDAllocator) NewSessionID() (string, error) {
	for range a.maxAttempts {
		id, err := NewCandidate()
		if err != nil {
			return "", fmt.Errorf("generate session id: %w", err)
		}
		if a.reserver.Reserve(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no free session id after %d attempts", errors.ErrAllocationExhausted, a.maxAttempts)
}
