// Command rtpsctl is the operator CLI for a corewriter participant: run
// it in the foreground, check its health, nudge its writer liveliness
// protocol, or reset its history cache.
package main

import (
	"fmt"
	"os"

	"github.com/odin-rtps/corewriter/cmd/rtpsctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
