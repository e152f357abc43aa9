package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/odin-rtps/corewriter/internal/adminhttp"
	"github.com/odin-rtps/corewriter/internal/cliutil"
)

var (
	statusOutput string
	statusAddr   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running participant's health",
	Long: `Call the admin HTTP surface's /health and /health/ready endpoints
and report whether the participant is reachable and ready.

Examples:
  rtpsctl status
  rtpsctl status --addr localhost:9091 --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "localhost:8080", "admin HTTP address of the running participant")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format (table|json|yaml)")
}

// participantStatus is the shape printed by rtpsctl status, independent
// of whatever JSON body the admin surface happens to return.
type participantStatus struct {
	Reachable bool   `json:"reachable" yaml:"reachable"`
	Ready     bool   `json:"ready" yaml:"ready"`
	Started   string `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime    string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Message   string `json:"message" yaml:"message"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := cliutil.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := fetchStatus(statusAddr)

	switch format {
	case cliutil.FormatJSON:
		return cliutil.PrintJSON(os.Stdout, status)
	case cliutil.FormatYAML:
		return cliutil.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
		return nil
	}
}

func fetchStatus(addr string) participantStatus {
	status := participantStatus{Message: "participant is not reachable"}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		return status
	}
	defer resp.Body.Close()

	status.Reachable = true
	var health adminhttp.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err == nil {
		status.Started = health.Started
		status.Uptime = health.Uptime
	}

	readyResp, err := client.Get(fmt.Sprintf("http://%s/health/ready", addr))
	if err == nil {
		defer readyResp.Body.Close()
		status.Ready = readyResp.StatusCode == http.StatusOK
	}

	if status.Ready {
		status.Message = "participant is running and ready"
	} else {
		status.Message = "participant is running but not ready"
	}
	return status
}

func printStatusTable(status participantStatus) {
	fmt.Println()
	fmt.Println("corewriter participant status")
	fmt.Println("==============================")
	fmt.Println()

	if status.Reachable {
		if status.Ready {
			fmt.Printf("  Status:   %s\n", color.GreenString("● ready"))
		} else {
			fmt.Printf("  Status:   %s\n", color.YellowString("● running (not ready)"))
		}
		if status.Started != "" {
			fmt.Printf("  Started:  %s\n", status.Started)
		}
		if status.Uptime != "" {
			fmt.Printf("  Uptime:   %s\n", status.Uptime)
		}
	} else {
		fmt.Printf("  Status:   %s\n", color.RedString("○ unreachable"))
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}
