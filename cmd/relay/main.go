// Command relay runs a tool-using agent from the terminal.
//
// Configuration comes from relay.toml (see internal/config) with RELAY_*
// environment variables taking precedence. The run command executes one
// agent run and streams its events; the tools command lists the tools the
// agent would see.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
