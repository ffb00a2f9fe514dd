package main

import (
	"os"

	"github.com/mcdonaldj/whlpatch/internal/cli"
)

// version is set via ldflags at build time: -ldflags "-X main.version=x.y.z"
var version = "dev"

func main() {
	os.Exit(cli.New(version).Run(os.Args))
}
