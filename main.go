package main

import (
	"fmt"
	"os"

	"gcconfirm/commands"
)

// Build-time variable injected via ldflags.
var version = "dev"

func main() {
	commands.Version = version

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
