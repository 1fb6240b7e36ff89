// Package main provides the entry point for the perftrail command.
package main

import (
	"fmt"
	"os"

	"perftrail/cmd/perftrail/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
