// Command switchercore is a debugging/ops harness for the supervisor
// core: one subcommand per operation a GUI host would otherwise drive
// over the dashboard push transport. It is not the product surface —
// spec.md's own CLI surface is "none" — it exists so the core can be
// exercised and scripted without a GUI attached.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/codex-switch/supervisor/internal/supervisor"
)

var (
	homeDir string
	sup     *supervisor.Supervisor
)

var rootCmd = &cobra.Command{
	Use:   "switchercore",
	Short: "Ops harness for the codex account-switcher supervisor",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		s, err := supervisor.New(homeDir, log)
		if err != nil {
			return fmt.Errorf("initializing supervisor: %w", err)
		}
		sup = s
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "override the assistant's home directory (defaults to the OS user home)")
	rootCmd.AddCommand(
		newProfilesCmd(),
		newQuotaCmd(),
		newTickCmd(),
		newLoginCmd(),
		newRecoverCmd(),
		newBackupCmd(),
		newSkillsCmd(),
		newDaemonCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
