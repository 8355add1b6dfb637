package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"

	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/framework"
	env "github.com/robotalks/grinder/pkg/env/daemon"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	runner := framework.NewRunner().HandleSignals()
	e := env.NewConfig().MustNewEnv(runner.Context)
	defer e.Close()
	runner.Go(framework.NamedRun("appliance", e))
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
