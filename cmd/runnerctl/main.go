// Package main is the entry point for runnerctl, the operator CLI that talks
// to a runner over its TCP protocol port.
package main

import (
	"os"

	"github.com/bdobrica/lcsm/cmd/runnerctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
