package main

import (
	"os"

	"branch-orders-api/commands"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.SetVersionInfo(version, commit)
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
