package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ariznodes/vpsctl/internal/alloc"
	"github.com/ariznodes/vpsctl/internal/backend"
	"github.com/ariznodes/vpsctl/internal/backend/container"
	"github.com/ariznodes/vpsctl/internal/backend/terminal"
	"github.com/ariznodes/vpsctl/internal/config"
	"github.com/ariznodes/vpsctl/internal/credential"
	"github.com/ariznodes/vpsctl/internal/errors"
	"github.com/ariznodes/vpsctl/internal/exec"
	"github.com/ariznodes/vpsctl/internal/hostlock"
	"github.com/ariznodes/vpsctl/internal/lifecycle"
	"github.com/ariznodes/vpsctl/internal/logging"
	"github.com/ariznodes/vpsctl/internal/registry"
	"github.com/ariznodes/vpsctl/internal/tmate"
)

// backendFactory builds the backend selected by the configuration.
type backendFactory func(ctx context.Context, kind backend.Kind, cfg *config.Config, logger *logging.Logger) (backend.Backend, error)

func defaultBackendFactory(ctx context.Context, kind backend.Kind, cfg *config.Config, logger *logging.Logger) (backend.Backend, error) {
	switch kind {
	case backend.KindContainer:
		client, err := container.Connect(cfg.Container.Endpoint)
		if err != nil {
			return nil, errors.NewBackendError("create docker client", errors.ErrBackendUnavailable).
				WithKind(string(kind)).
				WithCause(err)
		}
		return container.New(client, container.Options{
			Host:         cfg.Host.Address,
			DefaultImage: cfg.Container.DefaultImage,
			ServicePort:  cfg.Container.ServicePort,
			NamePrefix:   cfg.Container.NamePrefix,
			Pull:         cfg.Container.Pull,
			PullTimeout:  cfg.Container.PullTimeout(),
			StopTimeout:  time.Duration(cfg.Container.StopTimeoutSeconds) * time.Second,
		}, logger), nil

	case backend.KindTerminal:
		client := tmate.NewClient(cfg.Terminal.Binary, exec.NewRealExecutor())
		return terminal.New(client, terminal.Options{
			SocketDir:    cfg.Terminal.SocketDir,
			SocketPrefix: cfg.Terminal.SocketPrefix,
			ReadyTimeout: cfg.Terminal.ReadyTimeout(),
			PollInterval: cfg.Terminal.PollInterval(),
		}, logger), nil

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", errors.ErrInvalidInput, kind)
	}
}

// app is the wiring of one invocation: configuration, logger and a manager
// whose registry has been rebuilt from the backend.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	manager *lifecycle.Manager
	lock    *hostlock.Lock
}

func (a *app) Close() {
	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			a.logger.Warn("failed to release lock", "path", a.lock.Path(), "error", err.Error())
		}
	}
	_ = a.logger.Close()
}

// setup wires a read-only invocation.
func (c *cli) setup(cmd *cobra.Command) (*app, error) {
	return c.setupWith(cmd, false)
}

// setupLocked wires an invocation that changes sessions. The host lock is
// taken before the registry is rebuilt and held until Close, so no other
// vpsctl process allocates ports from a stale view.
func (c *cli) setupLocked(cmd *cobra.Command) (*app, error) {
	return c.setupWith(cmd, true)
}

func (c *cli) setupWith(cmd *cobra.Command, exclusive bool) (*app, error) {
	cfg, err := config.LoadFrom(c.v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	var lock *hostlock.Lock
	if exclusive && cfg.Host.LockFile != "" {
		lock = hostlock.New(cfg.Host.LockFile)
		if err := acquire(cmd.Context(), lock, logger); err != nil {
			_ = logger.Close()
			return nil, err
		}
	}

	a, err := c.wire(cmd.Context(), cfg, logger)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		_ = logger.Close()
		return nil, err
	}
	a.lock = lock
	return a, nil
}

func acquire(ctx context.Context, lock *hostlock.Lock, logger *logging.Logger) error {
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if ok {
		return nil
	}

	logger.Info("waiting for another vpsctl command to finish", "lock", lock.Path())
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	return nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*logging.Logger, error) {
	if cfg.Logging.Dir == "" {
		return logging.NewWriterLogger(cmd.ErrOrStderr(), cfg.Logging.Level), nil
	}
	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func (c *cli) wire(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	kind, err := backend.ParseKind(cfg.Backend)
	if err != nil {
		return nil, err
	}

	b, err := c.newBackend(ctx, kind, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", kind, err)
	}

	reg := registry.New()
	var ports *alloc.PortAllocator
	if kind.BindsHostPort() {
		var opts []alloc.PortOption
		if cfg.Ports.ProbeHost {
			opts = append(opts, alloc.WithHostProbe())
		}
		ports = alloc.NewPortAllocator(cfg.Ports.Min, cfg.Ports.Max, cfg.Ports.MaxAttempts, opts...)
	}

	manager, err := lifecycle.NewManager(lifecycle.Config{
		Kind:        kind,
		Backend:     b,
		Registry:    reg,
		IDs:         alloc.NewIDAllocator(reg, cfg.IDs.MaxAttempts),
		Ports:       ports,
		Credentials: credential.NewGenerator(cfg.Credentials.UsernameLength, cfg.Credentials.PasswordLength),
		Logger:      logger,
		Concurrency: cfg.Supervise.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	// Sessions live in the backend; the registry only lasts for this process
	n, err := manager.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	logger.Debug("registry rebuilt", "sessions", n)

	return &app{cfg: cfg, logger: logger, manager: manager}, nil
}
