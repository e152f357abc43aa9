package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odin-rtps/corewriter/internal/cliutil"
)

var (
	resetHistoryAddr  string
	resetHistoryForce bool
)

var resetHistoryCmd = &cobra.Command{
	Use:   "reset-history",
	Short: "Discard a running writer's held history cache samples",
	Long: `Call the admin HTTP surface to clear every sample currently held
in the writer's history cache. Matched readers relying on durability or
late-joiner delivery will no longer receive those samples; this does
not renumber sequence numbers or affect already-sent data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := cliutil.ConfirmWithForce("this discards all held history cache samples, continue?", resetHistoryForce)
		if err != nil {
			if cliutil.IsAborted(err) {
				fmt.Println("aborted")
				return nil
			}
			return err
		}
		if !ok {
			fmt.Println("aborted")
			return nil
		}
		return postOp(resetHistoryAddr, "/writer/reset-history", "history cache cleared")
	},
}

func init() {
	resetHistoryCmd.Flags().StringVar(&resetHistoryAddr, "addr", "localhost:8080", "admin HTTP address of the running participant")
	resetHistoryCmd.Flags().BoolVarP(&resetHistoryForce, "force", "f", false, "skip the confirmation prompt")
}
