package alloc

import (
	"fmt"
	"math/rand/v2"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/ariznodes/vpsctl/internal/errors"
)

// PortAllocator hands out host ports from an inclusive range. A port stays
// claimed until Release is called for it.
type PortAllocator struct {
	mu          sync.Mutex
	min, max    int
	maxAttempts int
	claimed     map[int]string // port -> session id

	// probe reports whether a port can be bound on this host. Nil skips the check.
	probe func(port int) bool
	intN  func(n int) int
}

// PortOption configures a PortAllocator.
type PortOption func(*PortAllocator)

// WithHostProbe also rejects ports that cannot currently be bound on the host.
func WithHostProbe() PortOption {
	return func(p *PortAllocator) {
		p.probe = canBind
	}
}

// WithProbe replaces the host probe.
func WithProbe(probe func(port int) bool) PortOption {
	return func(p *PortAllocator) {
		p.probe = probe
	}
}

// WithRand replaces the random source used to draw candidates.
func WithRand(intN func(n int) int) PortOption {
	return func(p *PortAllocator) {
		p.intN = intN
	}
}

// NewPortAllocator creates an allocator for ports in [minPort, maxPort].
// maxAttempts bounds the random draws made before falling back to a linear scan.
func NewPortAllocator(minPort, maxPort, maxAttempts int, opts ...PortOption) *PortAllocator {
	p := &PortAllocator{
		min:         minPort,
		max:         maxPort,
		maxAttempts: max(maxAttempts, 1),
		claimed:     make(map[int]string),
		intN:        rand.IntN,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Range returns the inclusive port range.
func (p *PortAllocator) Range() (int, int) {
	return p.min, p.max
}

// Allocate claims a free port on behalf of owner.
func (p *PortAllocator) Allocate(owner string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.max - p.min + 1
	if size <= 0 {
		return 0, fmt.Errorf("%w: empty range [%d, %d]", errors.ErrPortRangeExhausted, p.min, p.max)
	}

	for range p.maxAttempts {
		port := p.min + p.intN(size)
		if p.usable(port) {
			p.claimed[port] = owner
			return port, nil
		}
	}

	// Random draws keep missing in a crowded range; scan it once
	for port := p.min; port <= p.max; port++ {
		if p.usable(port) {
			p.claimed[port] = owner
			return port, nil
		}
	}

	return 0, fmt.Errorf("%w: all %d ports in [%d, %d] are in use", errors.ErrPortRangeExhausted, size, p.min, p.max)
}

func (p *PortAllocator) usable(port int) bool {
	if _, taken := p.claimed[port]; taken {
		return false
	}
	return p.probe == nil || p.probe(port)
}

// Release frees port. It reports whether the port was claimed.
func (p *PortAllocator) Release(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.claimed[port]; !ok {
		return false
	}
	delete(p.claimed, port)
	return true
}

// Claim records a port already held by owner, such as one discovered on a
// running container. Ports outside the range are accepted. Claiming a port
// held by a different owner fails.
func (p *PortAllocator) Claim(port int, owner string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current, ok := p.claimed[port]; ok && current != owner {
		return fmt.Errorf("%w: port %d already claimed by %s", errors.ErrInvalidInput, port, current)
	}
	p.claimed[port] = owner
	return nil
}

// Owner returns the owner of a claimed port.
func (p *PortAllocator) Owner(port int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	owner, ok := p.claimed[port]
	return owner, ok
}

// InUse returns the claimed ports in ascending order.
func (p *PortAllocator) InUse() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	ports := make([]int, 0, len(p.claimed))
	for port := range p.claimed {
		ports = append(ports, port)
	}
	slices.Sort(ports)
	return ports
}

// canBind reports whether a TCP listener can be opened on port.
func canBind(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
