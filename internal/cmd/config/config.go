// Package config provides CLI commands for inspecting vpsctl configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/ariznodes/vpsctl/internal/config"
)

// Register adds the config command to parent. v is the viper instance the
// root command loads configuration into.
func Register(parent *cobra.Command, v *viper.Viper) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View vpsctl configuration",
		Long: `View vpsctl configuration.

Without arguments, displays the effective configuration.
Use 'config init' to create a config file with every option.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, v)
		},
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigShow(cmd, v)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigPath(cmd, v)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration for invalid values",
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := appconfig.LoadFrom(v); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
				return nil
			},
		},
		newInitCmd(),
	)

	parent.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, v *viper.Viper) error {
	out := cmd.OutOrStdout()

	if file := v.ConfigFileUsed(); file != "" {
		fmt.Fprintf(out, "# Config file: %s\n", file)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	// Settings come back as nested maps; yaml sorts their keys
	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigPath(cmd *cobra.Command, v *viper.Viper) error {
	out := cmd.OutOrStdout()

	if file := v.ConfigFileUsed(); file != "" {
		fmt.Fprintf(out, "Active config: %s\n", file)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", appconfig.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", appconfig.ConfigFile())
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: VPSCTL_* (e.g., VPSCTL_PORTS_MIN for ports.min)")
	return nil
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default config file",
		Long:  `Create a config file at ~/.config/vpsctl/config.yaml listing every option with its default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := appconfig.ConfigFile()

			if _, err := os.Stat(configFile); err == nil && !force {
				return fmt.Errorf("config file already exists at %s\nUse --force to overwrite it", configFile)
			}
			if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(configFile, []byte(DefaultConfigFile()), 0644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// DefaultConfigFile returns a commented config file holding the defaults.
func DefaultConfigFile() string {
	d := appconfig.Default()
	return fmt.Sprintf(`# vpsctl configuration

# Provisioning backend: container (Docker) or terminal (tmate)
backend: %s

host:
  # Address advertised in container endpoints
  address: %s
  # Held by commands that change sessions; empty disables locking
  lock_file: "%s"

# Host ports handed out to container sessions
ports:
  min: %d
  max: %d
  # Random draws before scanning the range
  max_attempts: %d
  # Also skip ports that cannot be bound on this machine
  probe_host: %t

ids:
  max_attempts: %d

credentials:
  username_length: %d
  password_length: %d

container:
  # Docker daemon address; empty reads DOCKER_HOST
  endpoint: "%s"
  default_image: %s
  # Port inside the container the host port maps to
  service_port: %d
  name_prefix: %s
  # Refresh the image before each create
  pull: %t
  pull_timeout_seconds: %d
  stop_timeout_seconds: %d

terminal:
  binary: %s
  socket_dir: %s
  socket_prefix: %s
  ready_timeout_ms: %d
  poll_interval_ms: %d

logging:
  # debug, info, warn or error
  level: %s
  # Directory for vpsctl.log; empty logs to stderr
  dir: "%s"
  max_size_mb: %d
  max_backups: %d

supervise:
  interval_seconds: %d
  concurrency: %d
`,
		d.Backend,
		d.Host.Address, d.Host.LockFile,
		d.Ports.Min, d.Ports.Max, d.Ports.MaxAttempts, d.Ports.ProbeHost,
		d.IDs.MaxAttempts,
		d.Credentials.UsernameLength, d.Credentials.PasswordLength,
		d.Container.Endpoint, d.Container.DefaultImage, d.Container.ServicePort, d.Container.NamePrefix,
		d.Container.Pull, d.Container.PullTimeoutSeconds, d.Container.StopTimeoutSeconds,
		d.Terminal.Binary, d.Terminal.SocketDir, d.Terminal.SocketPrefix, d.Terminal.ReadyTimeoutMs, d.Terminal.PollIntervalMs,
		d.Logging.Level, d.Logging.Dir, d.Logging.MaxSizeMB, d.Logging.MaxBackups,
		d.Supervise.IntervalSeconds, d.Supervise.Concurrency,
	)
}
