// Package main provides the entry point for the mini-kode CLI.
package main

import (
	"fmt"
	"os"

	"github.com/minmaxflow/mini-kode/cmd/minikode/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(commands.ExitCode(err))
	}
}
