package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ariznodes/vpsctl/internal/lifecycle"
)

func (c *cli) newStartCmd() *cobra.Command {
	return c.newPowerCmd("start", "Start a stopped session",
		func(ctx context.Context, m *lifecycle.Manager, id string) error {
			return m.StartSession(ctx, id)
		})
}

func (c *cli) newStopCmd() *cobra.Command {
	return c.newPowerCmd("stop", "Stop a running session",
		func(ctx context.Context, m *lifecycle.Manager, id string) error {
			return m.StopSession(ctx, id)
		})
}

func (c *cli) newRestartCmd() *cobra.Command {
	return c.newPowerCmd("restart", "Restart a session",
		func(ctx context.Context, m *lifecycle.Manager, id string) error {
			return m.RestartSession(ctx, id)
		})
}

// newPowerCmd builds a command that changes the run state of one session and
// prints it afterwards.
func (c *cli) newPowerCmd(name, short string, op func(context.Context, *lifecycle.Manager, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
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

			if err := op(cmd.Context(), a.manager, args[0]); err != nil {
				return err
			}
			info, err := a.manager.GetSessionInfo(args[0])
			if err != nil {
				return err
			}
			return p.session(info, false)
		},
	}
}
