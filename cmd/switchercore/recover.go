package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codex-switch/supervisor/internal/recovery"
)

func newRecoverCmd() *cobra.Command {
	var userSeq int64
	c := &cobra.Command{
		Use:   "recover",
		Short: "Run one thread-recovery tick against the preferred editor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sup.ThreadRecovery == nil || sup.Editor == nil {
				return fmt.Errorf("no supported editor was discovered on this machine")
			}
			action := sup.ThreadRecovery.Tick(cmd.Context(), recovery.ThreadTickInput{
				Now:     time.Now(),
				Ext:     sup.ExtensionLogState(),
				UserSeq: userSeq,
				Editor:  *sup.Editor,
				Layout:  sup.Layout,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "action=%s\n", action)
			return nil
		},
	}
	c.Flags().Int64Var(&userSeq, "user-seq", 0, "current user-turn sequence")
	return c
}
