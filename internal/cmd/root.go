package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ariznodes/vpsctl/internal/cmd/config"
	appconfig "github.com/ariznodes/vpsctl/internal/config"
	"github.com/ariznodes/vpsctl/internal/errors"
)

// cli carries the state shared by every command of one root.
type cli struct {
	v          *viper.Viper
	newBackend backendFactory

	cfgFile string
	output  string
}

// Execute runs the vpsctl command line.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the vpsctl command tree backed by the real backends.
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultBackendFactory)
}

func newRootCmd(factory backendFactory) *cobra.Command {
	c := &cli{
		v:          viper.New(),
		newBackend: factory,
	}

	rootCmd := &cobra.Command{
		Use:   "vpsctl",
		Short: "Ephemeral compute session manager",
		Long: `vpsctl hands out short-lived compute sessions to users: Docker
containers reachable over SSH, or shared tmate terminal sessions.

Each session gets a unique id, a dedicated host port (containers only) and
freshly generated login credentials. Sessions survive between invocations;
vpsctl rediscovers them from the backend every time it runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file (default is $HOME/.config/vpsctl/config.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "provisioning backend: container or terminal")
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", outputTable, "output format: table, json or yaml")
	_ = c.v.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))

	rootCmd.AddCommand(
		c.newCreateCmd(),
		c.newDeleteCmd(),
		c.newInfoCmd(),
		c.newListCmd(),
		c.newStartCmd(),
		c.newStopCmd(),
		c.newRestartCmd(),
		c.newReinstallCmd(),
		c.newClearCmd(),
		c.newSuperviseCmd(),
		c.newLogsCmd(),
	)
	config.Register(rootCmd, c.v)

	return rootCmd
}

func (c *cli) initConfig() error {
	// Set defaults first so they're available even without a config file
	appconfig.SetDefaultsOn(c.v)

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		c.v.SetConfigName("config")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath(appconfig.ConfigDir())
		c.v.AddConfigPath(".")
	}

	c.v.SetEnvPrefix("VPSCTL")
	// e.g. VPSCTL_PORTS_MIN for ports.min
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}
