package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nucypher/nucypher-ops/pkg/cli"
	"github.com/nucypher/nucypher-ops/pkg/server"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	server.SetVersion(version)
	if err := cli.NewApp(version).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
