// Package main is the entry point for plexbridge.
package main

import (
	"os"

	"github.com/plexbridge/plexbridge/cmd/plexbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
