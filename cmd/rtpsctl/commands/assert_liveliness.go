package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var assertAddr string

var assertLivelinessCmd = &cobra.Command{
	Use:   "assert-liveliness",
	Short: "Manually assert a running writer's liveliness",
	Long: `Call the admin HTTP surface to publish an immediate manual
liveliness assertion, bypassing the automatic lease timer. Useful when
an operator knows the participant is alive but the lease is close to
expiring (e.g. during a deploy).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return postOp(assertAddr, "/writer/assert-liveliness", "liveliness asserted")
	},
}

func init() {
	assertLivelinessCmd.Flags().StringVar(&assertAddr, "addr", "localhost:8080", "admin HTTP address of the running participant")
}

func postOp(addr, path, successMsg string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://%s%s", addr, path), "application/json", nil)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}
	fmt.Println(color.GreenString(successMsg))
	return nil
}
