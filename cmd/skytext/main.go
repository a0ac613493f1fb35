// Package main is the entry point for the skytext CLI.
package main

import (
	"os"

	"github.com/scalytics/skytext/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
