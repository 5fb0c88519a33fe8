package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codex-switch/supervisor/internal/skills"
)

func newSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect and sync the skills catalog",
	}
	cmd.AddCommand(newSkillsListCmd(), newSkillsSyncCmd())
	return cmd
}

func skillRoots() skills.Roots {
	dirs := sup.Layout.SkillsDirs()
	return skills.Roots{
		SSOT:           dirs[3],
		Codex:          dirs[0],
		OpenCode:       dirs[1],
		OpenCodeLegacy: dirs[2],
	}
}

func newSkillsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every skill discovered across all known roots",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := skills.ScanAll(skillRoots())
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%-30s %-40s %s\n", e.Directory, e.Name, e.SourceLabel())
			}
			return nil
		},
	}
}

func newSkillsSyncCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "sync DIRECTORY",
		Short: "Ensure a skill is seeded into the SSOT and symlinked into every assistant root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			directory := args[0]
			ssot := sup.Layout.SkillsDirs()[3]
			roots := sup.Layout.SkillsDirs()[:3]
			resolved, err := skills.EnsureInSSOT(ssot, directory, roots)
			if err != nil {
				return err
			}
			for _, target := range roots {
				if err := skills.SyncToTarget(ssot, directory, roots, target); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %s from %s to every root\n", directory, resolved)
			return nil
		},
	}
	return c
}
