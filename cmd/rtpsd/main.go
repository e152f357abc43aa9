// Command rtpsd hosts a single RTPS participant: it wires the history
// cache, matched-reader registry, a delivery engine, the async sender,
// the writer liveliness protocol, durability, and the ambient
// logging/metrics/tracing/admin-http stack into one running process.
// It is a demonstration host, not a wire-compatible participant against
// a real UDP transport — see pkg/rtps/transport's Loopback for why.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/odin-rtps/corewriter/internal/participant"
)

func main() {
	configPath := flag.String("config-dir", ".", "directory to search for corewriter.yaml")
	flag.Parse()

	if err := participant.Run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "rtpsd:", err)
		os.Exit(1)
	}
}
