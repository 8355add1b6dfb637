package main

import (
	"github.com/robotalks/grinder/pkg/cli/sh"
	env "github.com/robotalks/grinder/pkg/env/connector"

	_ "github.com/robotalks/grinder/pkg/cli/cmds/appliance"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
