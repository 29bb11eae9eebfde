// Command presencewatch is the entry point of the device activity
// tracker CLI. It uses cobra for command handling, following the same
// cmd/<binary>/commands layout the wider WhatsApp tooling this project
// grew out of uses.
package main

import (
	"fmt"
	"os"

	"github.com/quietline/presencewatch/cmd/presencewatch/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
