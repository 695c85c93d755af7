// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "A resilient harvester for legacy court docket portals.",
		Long: `harvester collects case records from a session-gated legacy web
portal. It authenticates one isolated session per territorial partition,
probes sequential case numbers through the portal's stateful search
form, and persists every discovered record to Postgres. Runs are
idempotent: interrupted passes resume from the persisted state.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the configuration file")

	cmd.AddCommand(newParseCmd(), newGapsCmd(), newUpdateCmd())
	return cmd
}

// Execute is the main entry point. The context carries signal
// cancellation from main.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
