// Package commands implements rtpsctl's operator subcommands: running a
// participant host in the foreground, checking its health, nudging its
// writer liveliness protocol, and resetting its history cache. Grounded
// on marmos91-dittofs/cmd/dittofs/commands' root command layout.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "rtpsctl",
	Short: "Operate a corewriter RTPS participant",
	Long: `rtpsctl runs and inspects a corewriter participant host: its
history cache, matched-reader registry, delivery engine, and writer
liveliness protocol.

Use "rtpsctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, exported for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "directory to search for corewriter.yaml")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(assertLivelinessCmd)
	rootCmd.AddCommand(resetHistoryCmd)
}

// PrintErr prints an error message to stderr via the root command.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
