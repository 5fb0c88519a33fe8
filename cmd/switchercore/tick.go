package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codex-switch/supervisor/internal/autoswitch"
	"github.com/codex-switch/supervisor/internal/credapply"
	"github.com/codex-switch/supervisor/internal/profilestore"
)

func newTickCmd() *cobra.Command {
	var eventSeq, userSeq, hardTriggerSeq int64
	var openTurns int
	var sessionFiveHourRemaining, sessionOneWeekRemaining float64
	var sessionQuotaUpdatedAtMs int64
	var mode string

	c := &cobra.Command{
		Use:   "tick",
		Short: "Run one auto-switch tick against the given session counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			resync := func() (int64, int64, int) { return eventSeq, userSeq, openTurns }
			result := sup.Tick(cmd.Context(), autoswitch.TickInput{
				Now:            time.Now(),
				EventSeq:       eventSeq,
				UserSeq:        userSeq,
				OpenTurns:      openTurns,
				HardTriggerSeq: hardTriggerSeq,
				SessionQuota: profilestore.Quota{
					FiveHour: &profilestore.WindowQuota{RemainingPercent: sessionFiveHourRemaining},
					OneWeek:  &profilestore.WindowQuota{RemainingPercent: sessionOneWeekRemaining},
				},
				SessionQuotaUpdatedAtMs: sessionQuotaUpdatedAtMs,
				Mode:                    credapply.Mode(mode),
				Resync:                  resync,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "action=%s switched_to=%q message=%q\n", result.Action, result.SwitchedTo, result.Message)
			return nil
		},
	}
	c.Flags().Int64Var(&eventSeq, "event-seq", 0, "current rollout event sequence")
	c.Flags().Int64Var(&userSeq, "user-seq", 0, "current user-turn sequence")
	c.Flags().Int64Var(&hardTriggerSeq, "hard-trigger-seq", 0, "sequence of the last hard quota-exhaustion trigger")
	c.Flags().IntVar(&openTurns, "open-turns", 0, "number of in-flight turns")
	c.Flags().Float64Var(&sessionFiveHourRemaining, "session-five-hour-remaining", 100, "live rollout tail five_hour quota_snapshot remaining percent")
	c.Flags().Float64Var(&sessionOneWeekRemaining, "session-one-week-remaining", 100, "live rollout tail one_week quota_snapshot remaining percent")
	c.Flags().Int64Var(&sessionQuotaUpdatedAtMs, "session-quota-updated-at-ms", 0, "unix-ms the rollout tail last updated quota_snapshot; 0 means no live snapshot, so the active profile's stored quota drives soft_hit")
	c.Flags().StringVar(&mode, "mode", string(credapply.ModeBoth), "credential apply mode for any switch this tick performs")
	return c
}
