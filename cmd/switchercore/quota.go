package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codex-switch/supervisor/internal/appserver"
)

func newQuotaCmd() *cobra.Command {
	var timeout time.Duration
	c := &cobra.Command{
		Use:   "quota NAME",
		Short: "Refresh one profile's quota against its own snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			rec := sup.Store.Get(name)
			if rec == nil {
				return fmt.Errorf("no such profile: %s", name)
			}
			valid, fiveHour, oneWeek, err := sup.RefreshProfileQuota(cmd.Context(), name, rec.SnapshotDir, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid=%v five_hour_remaining=%.1f%% one_week_remaining=%.1f%%\n", valid, fiveHour, oneWeek)
			return nil
		},
	}
	c.Flags().DurationVar(&timeout, "timeout", appserver.PollTimeout, "RPC round-trip timeout")
	return c
}
