// Package main provides the agentwatch query CLI entry point.
package main

import (
	"os"

	"github.com/agentwatch/agentwatch/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cli.SetVersionInfo(Version)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
