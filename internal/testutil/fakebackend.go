package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/credential"
	"github.com/ariznodes/vpsctl/internal/errors"
)

// FakeUnit is a compute unit held by FakeBackend.
type FakeUnit struct {
	Request     backend.Request
	Status      backend.Status
	Endpoint    backend.Endpoint
	Credentials credential.Credentials
	// Generation counts starts, so endpoints can change across restarts.
	Generation int
}

// FakeBackend is a scripted, in-memory backend.Backend. It also implements
// backend.Lister and backend.EndpointResolver. Exported error fields make the
// matching method fail; hooks run before the method does its work.
type FakeBackend struct {
	mu sync.Mutex

	Host string

	ProvisionErr error
	ApplyErr     error
	StartErr     error
	StopErr      error
	RestartErr   error
	DestroyErr   error
	DescribeErr  error
	ListErr      error
	EndpointErr  error

	// ProvisionHook may block or fail a provision, e.g. to observe an
	// in-flight request or to simulate a readiness timeout.
	ProvisionHook func(ctx context.Context, req backend.Request) error
	// ApplyHook runs before credentials are stored.
	ApplyHook func(ctx context.Context, h backend.Handle)
	// RestartHook runs while a restart is in flight.
	RestartHook func(ctx context.Context, h backend.Handle)
	// DestroyHook can fail the destruction of individual units.
	DestroyHook func(ctx context.Context, h backend.Handle) error

	// RotateEndpoint gives a unit a new connection string on every start.
	RotateEndpoint bool

	units    map[backend.Handle]*FakeUnit
	next     int
	calls    map[string]int
	requests []backend.Request
}

// NewFakeBackend creates an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		Host:  "198.51.100.10",
		units: make(map[backend.Handle]*FakeUnit),
		calls: make(map[string]int),
	}
}

func (f *FakeBackend) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
}

// Calls returns how many times method was invoked.
func (f *FakeBackend) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Requests returns every request passed to Provision, including failed ones.
func (f *FakeBackend) Requests() []backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Request(nil), f.requests...)
}

// Unit returns a copy of the unit behind h.
func (f *FakeBackend) Unit(h backend.Handle) (FakeUnit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[h]
	if !ok {
		return FakeUnit{}, false
	}
	return *u, true
}

// Len returns the number of live units.
func (f *FakeBackend) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.units)
}

// SetStatus changes a unit's status behind the orchestrator's back.
func (f *FakeBackend) SetStatus(h backend.Handle, status backend.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == backend.StatusDestroyed {
		delete(f.units, h)
		return
	}
	if u, ok := f.units[h]; ok {
		u.Status = status
	}
}

// Seed adds a unit that List will report, as if it survived a restart.
func (f *FakeBackend) Seed(d backend.Discovered) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units[d.Handle] = &FakeUnit{
		Request: backend.Request{
			SessionID: d.SessionID,
			Owner:     d.Owner,
			Spec:      d.Spec,
			HostPort:  d.HostPort,
			CreatedAt: d.CreatedAt,
		},
		Status:   d.Status,
		Endpoint: d.Endpoint,
	}
}

func (f *FakeBackend) endpoint(u *FakeUnit) backend.Endpoint {
	port := u.Request.HostPort
	if port == 0 {
		port = 22
	}
	conn := fmt.Sprintf("ssh %s@%s -p %d", u.Request.SessionID, f.Host, port)
	if f.RotateEndpoint && u.Generation > 0 {
		conn = fmt.Sprintf("%s #%d", conn, u.Generation)
	}
	return backend.Endpoint{Host: f.Host, Port: port, Connection: conn}
}

func (f *FakeBackend) operationError(op string, h backend.Handle, cause error) error {
	return errors.NewBackendError("fake "+op, errors.ErrBackendOperationFailed).
		WithKind("fake").
		WithHandle(string(h)).
		WithCause(cause)
}

// Provision creates a running unit.
func (f *FakeBackend) Provision(ctx context.Context, req backend.Request) (backend.Handle, backend.Endpoint, error) {
	f.record("Provision")
	f.mu.Lock()
	f.requests = append(f.requests, req)
	hook := f.ProvisionHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return "", backend.Endpoint{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", backend.Endpoint{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ProvisionErr != nil {
		return "", backend.Endpoint{}, f.ProvisionErr
	}
	f.next++
	h := backend.Handle(fmt.Sprintf("fake-%d", f.next))
	u := &FakeUnit{Request: req, Status: backend.StatusRunning}
	u.Endpoint = f.endpoint(u)
	f.units[h] = u
	return h, u.Endpoint, nil
}

// ApplyCredentials stores creds on the unit.
func (f *FakeBackend) ApplyCredentials(ctx context.Context, h backend.Handle, creds credential.Credentials) error {
	f.record("ApplyCredentials")
	f.mu.Lock()
	hook := f.ApplyHook
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, h)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ApplyErr != nil {
		return errors.NewBackendError("fake apply credentials", errors.ErrPartialProvisioning).WithCause(f.ApplyErr)
	}
	if u, ok := f.units[h]; ok {
		u.Credentials = creds
	}
	return nil
}

// Start marks the unit running.
func (f *FakeBackend) Start(ctx context.Context, h backend.Handle) error {
	f.record("Start")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.operationError("start", h, f.StartErr)
	}
	u, ok := f.units[h]
	if !ok {
		return f.operationError("start", h, errors.New("no such unit"))
	}
	if u.Status != backend.StatusRunning {
		u.Generation++
		u.Status = backend.StatusRunning
		u.Endpoint = f.endpoint(u)
	}
	return nil
}

// Stop marks the unit stopped.
func (f *FakeBackend) Stop(ctx context.Context, h backend.Handle) error {
	f.record("Stop")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StopErr != nil {
		return f.operationError("stop", h, f.StopErr)
	}
	u, ok := f.units[h]
	if !ok {
		return f.operationError("stop", h, errors.New("no such unit"))
	}
	u.Status = backend.StatusStopped
	return nil
}

// Restart runs RestartHook and marks the unit running.
func (f *FakeBackend) Restart(ctx context.Context, h backend.Handle) error {
	f.record("Restart")
	f.mu.Lock()
	hook := f.RestartHook
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, h)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RestartErr != nil {
		return f.operationError("restart", h, f.RestartErr)
	}
	u, ok := f.units[h]
	if !ok {
		return f.operationError("restart", h, errors.New("no such unit"))
	}
	u.Generation++
	u.Status = backend.StatusRunning
	u.Endpoint = f.endpoint(u)
	return nil
}

// Destroy removes the unit. Absent units are ignored.
func (f *FakeBackend) Destroy(ctx context.Context, h backend.Handle) error {
	f.record("Destroy")
	f.mu.Lock()
	hook := f.DestroyHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, h); err != nil {
			return f.operationError("destroy", h, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DestroyErr != nil {
		return f.operationError("destroy", h, f.DestroyErr)
	}
	delete(f.units, h)
	return nil
}

// Describe reports the unit status, destroyed when absent.
func (f *FakeBackend) Describe(ctx context.Context, h backend.Handle) (backend.Status, error) {
	f.record("Describe")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DescribeErr != nil {
		return "", f.DescribeErr
	}
	u, ok := f.units[h]
	if !ok {
		return backend.StatusDestroyed, nil
	}
	return u.Status, nil
}

// List reports every unit, ordered by handle.
func (f *FakeBackend) List(ctx context.Context) ([]backend.Discovered, error) {
	f.record("List")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	found := make([]backend.Discovered, 0, len(f.units))
	for h, u := range f.units {
		found = append(found, backend.Discovered{
			SessionID: u.Request.SessionID,
			Owner:     u.Request.Owner,
			Handle:    h,
			Endpoint:  u.Endpoint,
			Spec:      u.Request.Spec,
			HostPort:  u.Request.HostPort,
			Status:    u.Status,
			CreatedAt: u.Request.CreatedAt,
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Handle < found[j].Handle })
	return found, nil
}

// Endpoint returns the unit's current endpoint.
func (f *FakeBackend) Endpoint(ctx context.Context, h backend.Handle) (backend.Endpoint, error) {
	f.record("Endpoint")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EndpointErr != nil {
		return backend.Endpoint{}, f.EndpointErr
	}
	u, ok := f.units[h]
	if !ok {
		return backend.Endpoint{}, f.operationError("endpoint", h, errors.New("no such unit"))
	}
	return u.Endpoint, nil
}

var (
	_ backend.Backend          = (*FakeBackend)(nil)
	_ backend.Lister           = (*FakeBackend)(nil)
	_ backend.EndpointResolver = (*FakeBackend)(nil)
)
