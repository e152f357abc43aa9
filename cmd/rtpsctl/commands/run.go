package commands

import (
	"github.com/spf13/cobra"

	"github.com/odin-rtps/corewriter/internal/participant"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a participant host in the foreground",
	Long: `Load configuration from --config, wire the participant's history
cache, matched-reader registry, delivery engine, async sender, and
ambient stack, and block until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return participant.Run(configDir)
	},
}
