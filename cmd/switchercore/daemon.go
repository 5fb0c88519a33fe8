package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/codex-switch/supervisor/internal/autoswitch"
	"github.com/codex-switch/supervisor/internal/credapply"
	"github.com/codex-switch/supervisor/internal/recovery"
)

// newDaemonCmd wires the DOMAIN STACK's robfig/cron entry: a
// standalone mode that drives auto_switch_tick/thread-recovery on a
// fixed cadence for hosts that don't call them themselves (spec §4.6
// documents ticks as "called by the UI at its own cadence" — this is
// additive, not a replacement for that contract).
func newDaemonCmd() *cobra.Command {
	var schedule string
	var mode string
	c := &cobra.Command{
		Use:   "daemon",
		Short: "Run auto-switch and thread-recovery ticks on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := cronlib.New()
			_, err := runner.AddFunc(schedule, func() { runTicks(ctx, credapply.Mode(mode)) })
			if err != nil {
				return fmt.Errorf("invalid --schedule: %w", err)
			}
			runner.Start()
			defer runner.Stop()

			if sup.Dashboard != nil {
				go func() {
					if err := sup.ServeDashboard(ctx); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "dashboard server exited: %v\n", err)
					}
				}()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "daemon running on schedule %q, ctrl-c to stop\n", schedule)
			<-ctx.Done()
			return nil
		},
	}
	c.Flags().StringVar(&schedule, "schedule", "@every 15s", "cron expression or @every duration driving each tick pair")
	c.Flags().StringVar(&mode, "mode", string(credapply.ModeBoth), "credential apply mode for any switch a tick performs")
	return c
}

func runTicks(ctx context.Context, mode credapply.Mode) {
	ext := sup.ExtensionLogState()
	resync := func() (int64, int64, int) { return 0, 0, 0 }
	sup.Tick(ctx, autoswitch.TickInput{
		Now:    time.Now(),
		Mode:   mode,
		Resync: resync,
	})

	if sup.ThreadRecovery != nil && sup.Editor != nil {
		sup.ThreadRecovery.Tick(ctx, recovery.ThreadTickInput{
			Now:    time.Now(),
			Ext:    ext,
			Editor: *sup.Editor,
			Layout: sup.Layout,
		})
	}
}
