package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codex-switch/supervisor/internal/credapply"
	"github.com/codex-switch/supervisor/internal/profilestore"
)

func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect and edit the profile store",
	}
	cmd.AddCommand(
		newProfilesListCmd(),
		newProfilesAddCmd(),
		newProfilesRemoveCmd(),
		newProfilesApplyCmd(),
	)
	return cmd
}

func newProfilesListCmd() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "list",
		Short: "List every profile, marking the active one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				return printJSON(cmd, sup.Store.Snapshot())
			}
			active := sup.Store.ActiveProfile()
			for _, name := range sup.Store.List() {
				rec := sup.Store.Get(name)
				marker := " "
				if name == active {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-30s %-8s %s\n", marker, name, rec.Status(), rec.SnapshotDir)
			}
			return nil
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print the raw store snapshot as JSON")
	return c
}

func newProfilesAddCmd() *cobra.Command {
	var snapshotDir, alias string
	c := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a new profile pointing at an existing snapshot directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			rec := &profilestore.Record{
				SnapshotDir:    snapshotDir,
				WorkspaceAlias: alias,
				UpdatedAt:      time.Now().UTC().Format(time.RFC3339),
			}
			return sup.Store.Put(name, rec)
		},
	}
	c.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "snapshot directory under the switcher's profiles dir")
	c.Flags().StringVar(&alias, "alias", "", "display alias for the workspace")
	_ = c.MarkFlagRequired("snapshot-dir")
	return c
}

func newProfilesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete a profile from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sup.Store.Delete(args[0])
		},
	}
}

func newProfilesApplyCmd() *cobra.Command {
	var mode string
	c := &cobra.Command{
		Use:   "apply NAME",
		Short: "Swap a profile's snapshot into the live credential paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := sup.Store.Get(args[0])
			if rec == nil {
				return fmt.Errorf("no such profile: %s", args[0])
			}
			if err := sup.Applier.Apply(rec.SnapshotDir, credapply.Mode(mode), time.Now()); err != nil {
				return err
			}
			return sup.Store.SetActiveProfile(args[0])
		},
	}
	c.Flags().StringVar(&mode, "mode", string(credapply.ModeBoth), "which live surfaces to touch: both, gpt-only, opencode-only")
	return c
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
