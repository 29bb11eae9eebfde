// Package commands implements presencewatch's cobra subcommands.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "presencewatch",
		Short: "RTT-based device activity tracker",
		Long: `presencewatch sends periodic liveness probes to a contact over
WhatsApp Web, WhatsApp Cloud, or Signal, and classifies their device's
online/standby/offline state from the round-trip time of the delivery
and read receipts it gets back.

Examples:
  presencewatch serve
  presencewatch track signal 1 42`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newTrackCmd(),
		newContactCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a .env file (defaults to ./.env if present)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "force debug-level logging")

	return rootCmd
}
