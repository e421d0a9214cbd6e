package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Backend kinds accepted by the backend setting.
const (
	BackendContainer = "container"
	BackendTerminal  = "terminal"
)

// Config represents the complete vpsctl configuration
type Config struct {
	// Backend selects the provisioning backend: "container" or "terminal".
	// It is read once at startup.
	Backend     string            `mapstructure:"backend"`
	Host        HostConfig        `mapstructure:"host"`
	Ports       PortsConfig       `mapstructure:"ports"`
	IDs         IDsConfig         `mapstructure:"ids"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Container   ContainerConfig   `mapstructure:"container"`
	Terminal    TerminalConfig    `mapstructure:"terminal"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Supervise   SuperviseConfig   `mapstructure:"supervise"`
}

// HostConfig controls how endpoints are advertised
type HostConfig struct {
	// Address is the host put into container endpoints (default: "127.0.0.1").
	// Set it to the public address of the machine running the containers.
	Address string `mapstructure:"address"`
	// LockFile serializes vpsctl commands that change sessions on this
	// machine (default: "$TMPDIR/vpsctl.lock"). Empty disables locking.
	LockFile string `mapstructure:"lock_file"`
}

// PortsConfig controls host port allocation for container sessions
type PortsConfig struct {
	// Min is the lowest host port handed out (default: 22001)
	Min int `mapstructure:"min"`
	// Max is the highest host port handed out (default: 24000)
	Max int `mapstructure:"max"`
	// MaxAttempts bounds the random draws before falling back to a scan (default: 64)
	MaxAttempts int `mapstructure:"max_attempts"`
	// ProbeHost also rejects ports that cannot be bound on this machine (default: false)
	ProbeHost bool `mapstructure:"probe_host"`
}

// IDsConfig controls session id generation
type IDsConfig struct {
	// MaxAttempts bounds retries on id collision (default: 16)
	MaxAttempts int `mapstructure:"max_attempts"`
}

// CredentialsConfig controls generated login material
type CredentialsConfig struct {
	// UsernameLength is the length of generated usernames (default: 8)
	UsernameLength int `mapstructure:"username_length"`
	// PasswordLength is the length of generated passwords (default: 12)
	PasswordLength int `mapstructure:"password_length"`
}

// ContainerConfig controls the Docker-backed container backend
type ContainerConfig struct {
	// Endpoint is the Docker daemon address. Empty uses DOCKER_HOST and friends.
	Endpoint string `mapstructure:"endpoint"`
	// DefaultImage is used when a request names no image (default: "ubuntu:22.04")
	DefaultImage string `mapstructure:"default_image"`
	// ServicePort is the in-container port the host port is bound to (default: 22)
	ServicePort int `mapstructure:"service_port"`
	// NamePrefix is prepended to the session id to form the container name (default: "vps_")
	NamePrefix string `mapstructure:"name_prefix"`
	// Pull refreshes the image before every provision (default: true)
	Pull bool `mapstructure:"pull"`
	// PullTimeoutSeconds bounds the best-effort image refresh (default: 120)
	PullTimeoutSeconds int `mapstructure:"pull_timeout_seconds"`
	// StopTimeoutSeconds is the grace period for stop and restart (default: 5)
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds"`
}

// TerminalConfig controls the tmate-backed terminal-session backend
type TerminalConfig struct {
	// Binary is the tmate executable (default: "tmate")
	Binary string `mapstructure:"binary"`
	// SocketDir holds one control socket per session (default: "$TMPDIR/vpsctl")
	SocketDir string `mapstructure:"socket_dir"`
	// SocketPrefix is the socket file name prefix (default: "vps")
	SocketPrefix string `mapstructure:"socket_prefix"`
	// ReadyTimeoutMs bounds the readiness wait (default: 8000)
	ReadyTimeoutMs int `mapstructure:"ready_timeout_ms"`
	// PollIntervalMs is the readiness poll interval (default: 250)
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory for vpsctl.log. Empty logs to stderr.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// SuperviseConfig controls the long-running supervise command
type SuperviseConfig struct {
	// IntervalSeconds is the reconcile period (default: 30)
	IntervalSeconds int `mapstructure:"interval_seconds"`
	// Concurrency bounds parallel backend calls during reconcile and clear (default: 4)
	Concurrency int `mapstructure:"concurrency"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Backend: BackendContainer,
		Host: HostConfig{
			Address:  "127.0.0.1",
			LockFile: filepath.Join(os.TempDir(), "vpsctl.lock"),
		},
		Ports: PortsConfig{
			Min:         22001,
			Max:         24000,
			MaxAttempts: 64,
			ProbeHost:   false,
		},
		IDs: IDsConfig{
			MaxAttempts: 16,
		},
		Credentials: CredentialsConfig{
			UsernameLength: 8,
			PasswordLength: 12,
		},
		Container: ContainerConfig{
			Endpoint:           "",
			DefaultImage:       "ubuntu:22.04",
			ServicePort:        22,
			NamePrefix:         "vps_",
			Pull:               true,
			PullTimeoutSeconds: 120,
			StopTimeoutSeconds: 5,
		},
		Terminal: TerminalConfig{
			Binary:         "tmate",
			SocketDir:      filepath.Join(os.TempDir(), "vpsctl"),
			SocketPrefix:   "vps",
			ReadyTimeoutMs: 8000,
			PollIntervalMs: 250,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Supervise: SuperviseConfig{
			IntervalSeconds: 30,
			Concurrency:     4,
		},
	}
}

// ReadyTimeout returns the readiness wait bound as a time.Duration
func (c *TerminalConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutMs) * time.Millisecond
}

// PollInterval returns the readiness poll interval as a time.Duration
func (c *TerminalConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// PullTimeout returns the image refresh bound as a time.Duration
func (c *ContainerConfig) PullTimeout() time.Duration {
	return time.Duration(c.PullTimeoutSeconds) * time.Second
}

// Interval returns the reconcile period as a time.Duration
func (c *SuperviseConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("backend", defaults.Backend)

	// Host defaults
	v.SetDefault("host.address", defaults.Host.Address)
	v.SetDefault("host.lock_file", defaults.Host.LockFile)

	// Port allocation defaults
	v.SetDefault("ports.min", defaults.Ports.Min)
	v.SetDefault("ports.max", defaults.Ports.Max)
	v.SetDefault("ports.max_attempts", defaults.Ports.MaxAttempts)
	v.SetDefault("ports.probe_host", defaults.Ports.ProbeHost)

	v.SetDefault("ids.max_attempts", defaults.IDs.MaxAttempts)

	// Credential defaults
	v.SetDefault("credentials.username_length", defaults.Credentials.UsernameLength)
	v.SetDefault("credentials.password_length", defaults.Credentials.PasswordLength)

	// Container backend defaults
	v.SetDefault("container.endpoint", defaults.Container.Endpoint)
	v.SetDefault("container.default_image", defaults.Container.DefaultImage)
	v.SetDefault("container.service_port", defaults.Container.ServicePort)
	v.SetDefault("container.name_prefix", defaults.Container.NamePrefix)
	v.SetDefault("container.pull", defaults.Container.Pull)
	v.SetDefault("container.pull_timeout_seconds", defaults.Container.PullTimeoutSeconds)
	v.SetDefault("container.stop_timeout_seconds", defaults.Container.StopTimeoutSeconds)

	// Terminal backend defaults
	v.SetDefault("terminal.binary", defaults.Terminal.Binary)
	v.SetDefault("terminal.socket_dir", defaults.Terminal.SocketDir)
	v.SetDefault("terminal.socket_prefix", defaults.Terminal.SocketPrefix)
	v.SetDefault("terminal.ready_timeout_ms", defaults.Terminal.ReadyTimeoutMs)
	v.SetDefault("terminal.poll_interval_ms", defaults.Terminal.PollIntervalMs)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Supervise defaults
	v.SetDefault("supervise.interval_seconds", defaults.Supervise.IntervalSeconds)
	v.SetDefault("supervise.concurrency", defaults.Supervise.Concurrency)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v into a Config struct and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vpsctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vpsctl"
	}
	return filepath.Join(home, ".config", "vpsctl")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidBackends returns the list of valid backend values
func ValidBackends() []string {
	return []string{BackendContainer, BackendTerminal}
}
