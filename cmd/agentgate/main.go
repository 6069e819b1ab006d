package main

import (
	"os"

	"github.com/fl-sean03/agentgate/cmd/agentgate/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	os.Exit(cmd.Execute())
}
