// Binary vnet runs a virtual network of hosts and routers described by a
// TOML file.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var (
	configFile = flag.String("config", "vnet.toml", "path to the network description")
	debug      = flag.Bool("debug", false, "log protocol events")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&hostCmd{}, "")
	subcommands.Register(&routerCmd{}, "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	exitCode := subcommands.Execute(context.Background())
	os.Exit(int(exitCode))
}
