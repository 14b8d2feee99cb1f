// Package cli implements the nucypher-ops command-line interface.
//
// The tool manages fleets of Ursula worker nodes: provisioning cloud hosts,
// deploying and operating workers over Ansible, managing local node
// configuration, and querying Ethereum endpoints and gas price feeds.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	// Cloud providers register themselves on import.
	_ "github.com/nucypher/nucypher-ops/pkg/deploy/provider/awsec2"
	_ "github.com/nucypher/nucypher-ops/pkg/deploy/provider/digitalocean"
	_ "github.com/nucypher/nucypher-ops/pkg/deploy/provider/generic"
)

// NewApp builds the root command with all subcommands attached.
func NewApp(version string) *cli.Command {
	return &cli.Command{
		Name:    "nucypher-ops",
		Usage:   "Deploy and manage Ursula worker nodes on cloud hosts",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd.String("log-level"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			cloudworkersCmd(),
			ursulaCmd(),
			ethCmd(),
			serveCmd(),
		},
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
