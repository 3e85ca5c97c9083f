package main

import (
	"github.com/robotalks/piobridge/pkg/bridge"
	"github.com/robotalks/piobridge/pkg/cli/sh"

	_ "github.com/robotalks/piobridge/pkg/cli/cmds/bench"
)

//go-build: CGO_ENABLED=0

func init() {
	bridge.SetupFlags()
}

func main() {
	sh.Main()
}
