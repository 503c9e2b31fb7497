// ./main.go
package main

import (
	"github.com/vantor-labs/concierge/cmd"
)

// main is the entry point for the concierge CLI.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
