package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ariznodes/vpsctl/internal/config"
	"github.com/ariznodes/vpsctl/internal/lifecycle"
)

func (c *cli) newSuperviseCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Keep recorded session states in line with the backend",
		Long: `Load every session from the backend, then periodically ask the backend
for each session's real state and record any drift, e.g. a container
stopped or removed behind vpsctl's back.

While running, changes to the config file are picked up: the log level
and the reconcile interval apply immediately. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
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

			ctx := cmd.Context()
			if once {
				return c.reconcilePass(ctx, a, p)
			}

			intervals := make(chan time.Duration, 1)
			if file := c.v.ConfigFileUsed(); file != "" {
				c.v.OnConfigChange(func(e fsnotify.Event) {
					c.reload(a, e, intervals)
				})
				c.v.WatchConfig()
			}
			return c.supervise(ctx, a, p, intervals)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single reconcile pass and exit")
	return cmd
}

func (c *cli) supervise(ctx context.Context, a *app, p *printer, intervals <-chan time.Duration) error {
	interval := a.cfg.Supervise.Interval()
	a.logger.Info("supervisor started",
		"sessions", len(a.manager.ListSessionIDs("")),
		"interval", interval.String(),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("supervisor stopped")
			return nil
		case next := <-intervals:
			if next != interval {
				interval = next
				ticker.Reset(interval)
				a.logger.Info("reconcile interval changed", "interval", interval.String())
			}
		case <-ticker.C:
			if err := c.reconcilePass(ctx, a, p); err != nil {
				a.logger.Warn("reconcile failed", "error", err.Error())
			}
		}
	}
}

// reload applies the settings that can change while supervising.
func (c *cli) reload(a *app, e fsnotify.Event, intervals chan<- time.Duration) {
	cfg, err := config.LoadFrom(c.v)
	if err != nil {
		a.logger.Warn("ignoring invalid config change", "file", e.Name, "error", err.Error())
		return
	}

	a.logger.SetLevel(cfg.Logging.Level)
	select {
	case intervals <- cfg.Supervise.Interval():
	default:
	}
	a.logger.Info("config reloaded", "file", e.Name, "op", e.Op.String(), "level", a.logger.Level())
}

func (c *cli) reconcilePass(ctx context.Context, a *app, p *printer) error {
	total := len(a.manager.ListSessionIDs(""))
	drifts, err := a.manager.Reconcile(ctx)

	if p.structured() {
		if encErr := p.encode(struct {
			Sessions int               `json:"sessions" yaml:"sessions"`
			Drifts   []lifecycle.Drift `json:"drifts" yaml:"drifts"`
		}{total, drifts}); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintf(p.w, "Reconciled %d sessions, %d drifted\n", total, len(drifts))
		for _, d := range drifts {
			fmt.Fprintf(p.w, "  %s: %s -> %s\n", d.SessionID, p.status(d.Recorded), p.status(d.Observed))
		}
	}
	return err
}
