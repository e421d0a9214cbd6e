package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/ariznodes/vpsctl/internal/errors"
	"github.com/ariznodes/vpsctl/internal/lifecycle"
)

func (c *cli) newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show a session",
		Long:  `Show the status, endpoint and resources of a session. Passwords are never shown.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd, c.output)
			if err != nil {
				return err
			}
			a, err := c.setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.manager.GetSessionInfo(args[0])
			if err != nil {
				return err
			}
			return p.session(info, false)
		},
	}
}

func (c *cli) newListCmd() *cobra.Command {
	var (
		owner   string
		match   string
		idsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Long: `List sessions, oldest first.

Examples:
  vpsctl list
  vpsctl list --owner 1234
  vpsctl list --match '3f*' --ids`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd, c.output)
			if err != nil {
				return err
			}

			var pattern glob.Glob
			if match != "" {
				pattern, err = glob.Compile(match)
				if err != nil {
					return fmt.Errorf("%w: invalid --match pattern: %v", errors.ErrInvalidInput, err)
				}
			}

			a, err := c.setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			infos := a.manager.ListSessions(owner)
			if pattern != nil {
				infos = slices.DeleteFunc(infos, func(info *lifecycle.SessionInfo) bool {
					return !pattern.Match(info.ID)
				})
			}

			if idsOnly {
				ids := make([]string, len(infos))
				for i, info := range infos {
					ids[i] = info.ID
				}
				if p.structured() {
					return p.encode(ids)
				}
				if len(ids) > 0 {
					fmt.Fprintln(p.w, strings.Join(ids, "\n"))
				}
				return nil
			}
			return p.sessions(infos)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "only list sessions of this owner")
	cmd.Flags().StringVar(&match, "match", "", "only list session ids matching this glob pattern")
	cmd.Flags().BoolVar(&idsOnly, "ids", false, "print session ids only")
	return cmd
}

func (c *cli) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a session",
		Long:    `Destroy the session's unit, free its port and forget the session.`,
		Args:    cobra.ExactArgs(1),
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

			id := args[0]
			if err := a.manager.DeleteSession(cmd.Context(), id); err != nil {
				return err
			}
			return p.message(map[string]any{"id": id, "deleted": true}, "Deleted session %s", id)
		},
	}
}

func (c *cli) newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every session",
		Long: `Delete every session known to the backend, in parallel.

Sessions that fail to delete are reported and kept; the command then
exits with an error.`,
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

			ids := a.manager.ListSessionIDs("")
			if !yes {
				return fmt.Errorf("%w: refusing to delete %d sessions without --yes", errors.ErrInvalidInput, len(ids))
			}

			deleted, failed := a.manager.DeleteAll(cmd.Context())

			failedIDs := make([]string, 0, len(failed))
			for id := range failed {
				failedIDs = append(failedIDs, id)
			}
			slices.Sort(failedIDs)

			if p.structured() {
				reasons := make(map[string]string, len(failed))
				for id, err := range failed {
					reasons[id] = err.Error()
				}
				if err := p.encode(map[string]any{"deleted": deleted, "failed": reasons}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(p.w, "Deleted %d sessions\n", len(deleted))
				for _, id := range failedIDs {
					fmt.Fprintf(p.w, "  %s: %s\n", id, p.warning(failed[id].Error()))
				}
			}

			if len(failed) > 0 {
				return fmt.Errorf("failed to delete %d sessions: %s", len(failed), strings.Join(failedIDs, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deleting every session")
	return cmd
}
