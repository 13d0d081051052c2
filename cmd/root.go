// Package cmd defines the CLI commands for the leaderboard-sync executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard-sync",
		Short: "Keeps a local copy of a public model leaderboard in sync.",
		Long: `leaderboard-sync polls a leaderboard page through a browser or HTTP driver,
extracts the ranking payload, skips unchanged content, and persists every new
snapshot to a JSON file, Postgres, and optional cloud mirrors. Sustained
failure restarts the egress container and exits so a supervisor can restart
the process.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml)")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newExtractCmd())

	return cmd
}

// Execute is the main entry point. Any command error exits non-zero.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "leaderboard-sync: %v\n", err)
		os.Exit(1)
	}
}
