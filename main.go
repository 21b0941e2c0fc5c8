package main

import (
	"github.com/chukul/oktactl/cmd"
	"github.com/chukul/oktactl/internal/version"
)

func main() {
	version.CheckForUpdates()
	cmd.Execute()
}
