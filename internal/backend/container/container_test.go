package container

import (
	"context"
	"strings"
	"testing"
	"time"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/credential"
	"github.com/ariznodes/vpsctl/internal/errors"
	"github.com/ariznodes/vpsctl/internal/logging"
)

func testOptions() Options {
	return Options{
		Host:         "203.0.113.7",
		DefaultImage: "ubuntu:22.04",
		ServicePort:  22,
		NamePrefix:   "vps_",
		Pull:         true,
		PullTimeout:  time.Second,
		StopTimeout:  5 * time.Second,
	}
}

func testRequest() backend.Request {
	return backend.Request{
		SessionID: "3f9a1c2e",
		Owner:     "1234",
		Spec:      backend.Spec{MemoryMB: 2048, CPUs: 1.5, Disk: "20G"},
		HostPort:  22871,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestBackend(t *testing.T) (*Backend, *fakeDocker) {
	t.Helper()
	fake := newFakeDocker()
	return New(fake, testOptions(), logging.NopLogger()), fake
}

func TestProvision(t *testing.T) {
	b, fake := newTestBackend(t)

	handle, ep, err := b.Provision(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if handle == "" {
		t.Fatal("Provision() returned an empty handle")
	}

	if ep.Host != "203.0.113.7" || ep.Port != 22871 || ep.Connection != "203.0.113.7:22871" {
		t.Errorf("endpoint = %+v", ep)
	}

	if len(fake.pulls) != 1 || fake.pulls[0].Repository != "ubuntu" || fake.pulls[0].Tag != "22.04" {
		t.Errorf("pulls = %+v, want ubuntu:22.04", fake.pulls)
	}

	opts := fake.creates[0]
	if opts.Name != "vps_3f9a1c2e" {
		t.Errorf("container name = %q, want vps_3f9a1c2e", opts.Name)
	}
	if opts.Config.Image != "ubuntu:22.04" || !opts.Config.Tty {
		t.Errorf("config = %+v", opts.Config)
	}

	labels := opts.Config.Labels
	wantLabels := map[string]string{
		LabelID:        "3f9a1c2e",
		LabelOwner:     "1234",
		LabelDisk:      "20G",
		LabelImage:     "ubuntu:22.04",
		LabelMemoryMB:  "2048",
		LabelCPUs:      "1.5",
		LabelHostPort:  "22871",
		LabelCreatedAt: "2026-03-01T12:00:00Z",
	}
	for k, want := range wantLabels {
		if labels[k] != want {
			t.Errorf("label %s = %q, want %q", k, labels[k], want)
		}
	}

	hc := opts.HostConfig
	if hc.Memory != 2048*1024*1024 {
		t.Errorf("Memory = %d, want %d", hc.Memory, 2048*1024*1024)
	}
	if hc.NanoCPUs != 1_500_000_000 {
		t.Errorf("NanoCPUs = %d, want 1500000000", hc.NanoCPUs)
	}
	bindings := hc.PortBindings[docker.Port("22/tcp")]
	if len(bindings) != 1 || bindings[0].HostPort != "22871" {
		t.Errorf("PortBindings = %+v", hc.PortBindings)
	}

	if c := fake.only(); c == nil || !c.State.Running {
		t.Error("container should be running after Provision")
	}
}

func TestProvision_ExplicitImageWithoutPull(t *testing.T) {
	fake := newFakeDocker()
	opts := testOptions()
	opts.Pull = false
	b := New(fake, opts, nil)

	req := testRequest()
	req.Spec.Image = "debian:12"
	if _, _, err := b.Provision(context.Background(), req); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if len(fake.pulls) != 0 {
		t.Errorf("pulls = %d, want 0 when pulling is disabled", len(fake.pulls))
	}
	if img := fake.creates[0].Config.Image; img != "debian:12" {
		t.Errorf("image = %q, want debian:12", img)
	}
}

func TestProvision_DaemonUnavailable(t *testing.T) {
	b, fake := newTestBackend(t)
	fake.pingErr = docker.ErrConnectionRefused

	_, _, err := b.Provision(context.Background(), testRequest())
	if !errors.Is(err, errors.ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
	if len(fake.creates) != 0 {
		t.Error("no container should be created when the daemon is unreachable")
	}
}

func TestProvision_PullFailureIsIgnored(t *testing.T) {
	b, fake := newTestBackend(t)
	fake.pullErr = errors.New("registry unreachable")

	if _, _, err := b.Provision(context.Background(), testRequest()); err != nil {
		t.Fatalf("Provision() error = %v, want pull failure to be ignored", err)
	}
}

func TestProvision_CreateFailure(t *testing.T) {
	b, fake := newTestBackend(t)
	fake.createErr = errors.New("no such image")

	_, _, err := b.Provision(context.Background(), testRequest())
	if !errors.Is(err, errors.ErrProvisionFailed) {
		t.Errorf("err = %v, want ErrProvisionFailed", err)
	}
}

func TestProvision_StartFailureRemovesContainer(t *testing.T) {
	b, fake := newTestBackend(t)
	fake.startErr = errors.New("port is already allocated")

	_, _, err := b.Provision(context.Background(), testRequest())
	if !errors.Is(err, errors.ErrProvisionFailed) {
		t.Fatalf("err = %v, want ErrProvisionFailed", err)
	}
	if len(fake.removed) != 1 {
		t.Errorf("removed %d containers, want 1", len(fake.removed))
	}
	if len(fake.containers) != 0 {
		t.Error("failed provision left a container behind")
	}
}

func TestProvision_CancelledAfterCreate(t *testing.T) {
	b, fake := newTestBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	fake.onStart = cancel

	_, _, err := b.Provision(ctx, testRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(fake.containers) != 0 {
		t.Error("cancelled provision left a container behind")
	}
}

func TestApplyCredentials(t *testing.T) {
	b, fake := newTestBackend(t)
	handle, _, err := b.Provision(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}

	creds := credential.Credentials{Username: "uab12cd3", Password: "UserPass1234", RootPassword: "RootPass5678"}
	if err := b.ApplyCredentials(context.Background(), handle, creds); err != nil {
		t.Fatalf("ApplyCredentials() error = %v", err)
	}

	if len(fake.execLog) != 4 {
		t.Fatalf("ran %d execs, want 4", len(fake.execLog))
	}
	if got := fake.execLog[0].stdin; got != "root:RootPass5678\n" {
		t.Errorf("root chpasswd stdin = %q", got)
	}
	if got := fake.execLog[2].stdin; got != "uab12cd3:UserPass1234\n" {
		t.Errorf("user chpasswd stdin = %q", got)
	}
	for _, e := range fake.execLog {
		joined := strings.Join(e.cmd, " ")
		if strings.Contains(joined, "UserPass1234") || strings.Contains(joined, "RootPass5678") {
			t.Errorf("password leaked into command line: %q", joined)
		}
	}
	if !strings.Contains(strings.Join(fake.execLog[3].cmd, " "), "service ssh start") {
		t.Errorf("last exec = %v, want sshd start", fake.execLog[3].cmd)
	}
}

func TestApplyCredentials_PartialFailure(t *testing.T) {
	b, fake := newTestBackend(t)
	handle, _, err := b.Provision(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	fake.exitCode = func(cmd []string) int {
		if strings.Contains(strings.Join(cmd, " "), "ssh start") {
			return 127
		}
		return 0
	}

	err = b.ApplyCredentials(context.Background(), handle, credential.Credentials{Username: "u1", Password: "p", RootPassword: "r"})
	if !errors.Is(err, errors.ErrPartialProvisioning) {
		t.Fatalf("err = %v, want ErrPartialProvisioning", err)
	}
	if !errors.IsWarning(err) {
		t.Error("credential failure should be a warning")
	}
	if !strings.Contains(err.Error(), "start sshd") {
		t.Errorf("error should name the failed step: %v", err)
	}
	if len(fake.execLog) != 4 {
		t.Errorf("ran %d execs, want every step attempted", len(fake.execLog))
	}
}

func TestApplyCredentials_MissingContainer(t *testing.T) {
	b, _ := newTestBackend(t)

	err := b.ApplyCredentials(context.Background(), "gone", credential.Credentials{Username: "u1"})
	if !errors.Is(err, errors.ErrPartialProvisioning) {
		t.Errorf("err = %v, want ErrPartialProvisioning", err)
	}
}

func TestStartStopRestart(t *testing.T) {
	b, fake := newTestBackend(t)
	ctx := context.Background()
	handle, _, err := b.Provision(ctx, testRequest())
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Start(ctx, handle); err != nil {
		t.Errorf("Start() on running container = %v, want nil", err)
	}
	if err := b.Stop(ctx, handle); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := b.Stop(ctx, handle); err != nil {
		t.Errorf("Stop() on stopped container = %v, want nil", err)
	}
	if status, _ := b.Describe(ctx, handle); status != backend.StatusStopped {
		t.Errorf("status after Stop = %s, want stopped", status)
	}
	if err := b.Start(ctx, handle); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := b.Restart(ctx, handle); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if status, _ := b.Describe(ctx, handle); status != backend.StatusRunning {
		t.Errorf("status after Restart = %s, want running", status)
	}
	if len(fake.restarts) != 1 {
		t.Errorf("restarts = %d, want 1", len(fake.restarts))
	}
}

func TestOperationFailures(t *testing.T) {
	b, fake := newTestBackend(t)
	ctx := context.Background()
	handle, _, err := b.Provision(ctx, testRequest())
	if err != nil {
		t.Fatal(err)
	}

	fake.stopErr = errors.New("daemon hiccup")
	fake.restartErr = errors.New("daemon hiccup")

	if err := b.Stop(ctx, handle); !errors.Is(err, errors.ErrBackendOperationFailed) {
		t.Errorf("Stop() err = %v, want ErrBackendOperationFailed", err)
	}
	if err := b.Restart(ctx, handle); !errors.Is(err, errors.ErrBackendOperationFailed) {
		t.Errorf("Restart() err = %v, want ErrBackendOperationFailed", err)
	}
	if err := b.Start(ctx, "missing"); !errors.Is(err, errors.ErrBackendOperationFailed) {
		t.Errorf("Start(missing) err = %v, want ErrBackendOperationFailed", err)
	}

	var be *errors.BackendError
	if err := b.Restart(ctx, handle); !errors.As(err, &be) || be.Kind != "container" || be.Handle != string(handle) {
		t.Errorf("Restart() error context = %+v", be)
	}
}

func TestDestroy(t *testing.T) {
	b, fake := newTestBackend(t)
	ctx := context.Background()
	handle, _, err := b.Provision(ctx, testRequest())
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Destroy(ctx, handle); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if len(fake.containers) != 0 {
		t.Error("container still present after Destroy")
	}
	if err := b.Destroy(ctx, handle); err != nil {
		t.Errorf("second Destroy() = %v, want nil", err)
	}
	if status, err := b.Describe(ctx, handle); err != nil || status != backend.StatusDestroyed {
		t.Errorf("Describe() after Destroy = %s, %v; want destroyed, nil", status, err)
	}
}

func TestDestroy_RemoveFailure(t *testing.T) {
	b, fake := newTestBackend(t)
	ctx := context.Background()
	handle, _, err := b.Provision(ctx, testRequest())
	if err != nil {
		t.Fatal(err)
	}
	fake.removeErr = errors.New("device busy")

	if err := b.Destroy(ctx, handle); !errors.Is(err, errors.ErrBackendOperationFailed) {
		t.Errorf("Destroy() err = %v, want ErrBackendOperationFailed", err)
	}
}

func TestStatusFromState(t *testing.T) {
	tests := []struct {
		state docker.State
		want  backend.Status
	}{
		{docker.State{Running: true}, backend.StatusRunning},
		{docker.State{Running: true, Paused: true}, backend.StatusStopped},
		{docker.State{Restarting: true}, backend.StatusRestarting},
		{docker.State{}, backend.StatusStopped},
	}
	for _, tt := range tests {
		if got := statusFromState(tt.state); got != tt.want {
			t.Errorf("statusFromState(%+v) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestList(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	running, _, err := b.Provision(ctx, testRequest())
	if err != nil {
		t.Fatal(err)
	}
	req := testRequest()
	req.SessionID = "77aa88bb"
	req.HostPort = 23000
	req.Spec = backend.Spec{Image: "alpine:3"}
	stopped, _, err := b.Provision(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(ctx, stopped); err != nil {
		t.Fatal(err)
	}

	found, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("List() returned %d sessions, want 2", len(found))
	}

	byID := make(map[string]backend.Discovered)
	for _, d := range found {
		byID[d.SessionID] = d
	}

	d := byID["3f9a1c2e"]
	if d.Handle != running || d.Owner != "1234" || d.Status != backend.StatusRunning {
		t.Errorf("running session = %+v", d)
	}
	if d.HostPort != 22871 || d.Endpoint.Port != 22871 || d.Endpoint.Host != "203.0.113.7" {
		t.Errorf("running session port/endpoint = %d, %+v", d.HostPort, d.Endpoint)
	}
	if d.Spec.MemoryMB != 2048 || d.Spec.CPUs != 1.5 || d.Spec.Image != "ubuntu:22.04" {
		t.Errorf("running session spec = %+v", d.Spec)
	}
	if !d.CreatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", d.CreatedAt)
	}

	s := byID["77aa88bb"]
	if s.Status != backend.StatusStopped || s.HostPort != 23000 || s.Spec.Image != "alpine:3" {
		t.Errorf("stopped session = %+v", s)
	}
}

func TestList_Unavailable(t *testing.T) {
	b, fake := newTestBackend(t)
	fake.listErr = errors.New("connection refused")

	if _, err := b.List(context.Background()); !errors.Is(err, errors.ErrBackendUnavailable) {
		t.Errorf("List() err = %v, want ErrBackendUnavailable", err)
	}
}
