package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codex-switch/supervisor/internal/backup"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export and import tar+gzip snapshots of switcher state",
	}
	cmd.AddCommand(newBackupExportCmd(), newBackupImportCmd())
	return cmd
}

func newBackupExportCmd() *cobra.Command {
	var dest string
	c := &cobra.Command{
		Use:   "export",
		Short: "Write a tar+gzip archive of switcher + live codex state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := backup.Export(sup.Layout, dest, time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dest)
			return nil
		},
	}
	c.Flags().StringVar(&dest, "dest", "", "destination archive path")
	_ = c.MarkFlagRequired("dest")
	return c
}

func newBackupImportCmd() *cobra.Command {
	var src string
	c := &cobra.Command{
		Use:   "import",
		Short: "Restore switcher + live codex state from a previously exported archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := backup.Import(sup.Layout, src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d files from archive created at %s\n", manifest.FileCount, manifest.CreatedAt)
			return nil
		},
	}
	c.Flags().StringVar(&src, "src", "", "source archive path")
	_ = c.MarkFlagRequired("src")
	return c
}
