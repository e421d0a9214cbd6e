package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ariznodes/vpsctl/internal/backend"
)

// specFlags binds the resource flags shared by create and reinstall.
type specFlags struct {
	image  string
	memory int
	cpus   float64
	disk   string
}

func (f *specFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.image, "image", "", "container image (default from container.default_image)")
	cmd.Flags().IntVar(&f.memory, "memory", 0, "memory limit in MB (0 for no limit)")
	cmd.Flags().Float64Var(&f.cpus, "cpus", 0, "CPU limit, e.g. 1.5 (0 for no limit)")
	cmd.Flags().StringVar(&f.disk, "disk", "", "disk size hint, e.g. 20G")
}

func (f *specFlags) spec() backend.Spec {
	return backend.Spec{
		MemoryMB: f.memory,
		CPUs:     f.cpus,
		Disk:     f.disk,
		Image:    f.image,
	}
}

func (c *cli) newCreateCmd() *cobra.Command {
	var (
		owner string
		flags specFlags
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		Long: `Create a session for an owner and print its connection details.

The generated passwords are printed only here and by reinstall; later
commands show the username alone. If the credentials could not be set
on the new unit the session is still created and a warning is shown.

Examples:
  vpsctl create --owner 1234
  vpsctl create --owner 1234 --image debian:12 --memory 2048 --cpus 1.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd, c.output)
			if err != nil {
				return err
			}
			a, err := c.setupLocked(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.manager.CreateSession(cmd.Context(), owner, flags.spec())
			if err != nil {
				return err
			}
			return p.session(info, true)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "identifier of the user the session belongs to")
	_ = cmd.MarkFlagRequired("owner")
	flags.register(cmd)
	return cmd
}

func (c *cli) newReinstallCmd() *cobra.Command {
	var flags specFlags

	cmd := &cobra.Command{
		Use:   "reinstall <id>",
		Short: "Replace a session's unit with a fresh one",
		Long: `Destroy the session's unit and provision a new one under the same id
and owner. Credentials and, for containers, the host port are issued
anew. Flags left unset keep the session's current values.

If the new unit cannot be provisioned the session is left destroyed and
can only be deleted. Destroyed sessions cannot be reinstalled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd, c.output)
			if err != nil {
				return err
			}
			a, err := c.setupLocked(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.manager.ReinstallSession(cmd.Context(), args[0], flags.spec())
			if err != nil {
				return err
			}
			return p.session(info, true)
		},
	}

	flags.register(cmd)
	return cmd
}
