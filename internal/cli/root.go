// Package cli wires the credmux command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credmux",
		Short: "Health-aware credential pool manager",
		Long: `credmux manages a pool of upstream session credentials: it derives and
validates access tokens, rotates accounts away from failing credentials,
persists pool state across restarts, and reloads settings without downtime.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// Execute runs the command tree.
func Execute() error {
	return newRootCmd().Execute()
}
