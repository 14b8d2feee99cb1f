package cli

import (
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/nucypher/nucypher-ops/pkg/deploy"
	"github.com/nucypher/nucypher-ops/pkg/emitter"
	"github.com/nucypher/nucypher-ops/pkg/serializer"
)

// parseOutputFormat extracts and validates the output format from CLI flags.
// Returns the validated format or an error if the format is unknown.
func parseOutputFormat(cmd *cli.Command) (serializer.Format, error) {
	outFormat := serializer.Format(cmd.String("format"))
	if outFormat.IsUnknown() {
		return "", fmt.Errorf("unknown output format: %q, valid formats are: yaml, json, table", outFormat)
	}
	return outFormat, nil
}

// networkFlags are shared by every command operating on a namespace.
func networkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "network",
			Aliases: []string{"n"},
			Value:   "mainnet",
			Usage:   "Network the workers run on (mainnet, lynx, ...)",
		},
		&cli.StringFlag{
			Name:  "namespace",
			Value: deploy.DefaultNamespace,
			Usage: "Namespace grouping the hosts",
		},
	}
}

// optionFlags configure the namespace defaults and per-host overrides.
func optionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "blockchain-provider",
			Usage: "Ethereum provider URI for the workers (default: node-local geth)",
		},
		&cli.StringFlag{
			Name:  "image",
			Usage: "Worker container image",
		},
		&cli.StringFlag{
			Name:  "sentry-dsn",
			Usage: "Sentry DSN for worker error reporting",
		},
		&cli.StringFlag{
			Name:  "gas-strategy",
			Usage: "Worker gas price strategy (slow, medium, fast)",
		},
		&cli.StringFlag{
			Name:  "worker-data-file",
			Usage: "JSON file that receives captured worker data after deploys",
		},
		&cli.BoolFlag{
			Name:  "seed-network",
			Usage: "Pin the first host as the seed node for the rest",
		},
		&cli.BoolFlag{
			Name:  "prometheus",
			Usage: "Run the prometheus exporter on the workers",
		},
	}
}

// openDeployer binds the shared flags to a deployer over the default store.
func openDeployer(cmd *cli.Command, requireExisting bool) (*deploy.Deployer, error) {
	opts := deploy.Options{
		BlockchainProvider: cmd.String("blockchain-provider"),
		Image:              cmd.String("image"),
		SentryDSN:          cmd.String("sentry-dsn"),
		GasStrategy:        cmd.String("gas-strategy"),
		WorkerDataFile:     cmd.String("worker-data-file"),
		RequireExisting:    requireExisting,
	}
	if cmd.IsSet("seed-network") {
		v := cmd.Bool("seed-network")
		opts.SeedNetwork = &v
	}
	if cmd.IsSet("prometheus") {
		v := cmd.Bool("prometheus")
		opts.Prometheus = &v
	}

	store := deploy.NewStore("")
	return deploy.Open(emitter.Default(), store, cmd.String("network"), cmd.String("namespace"), opts)
}

// targetHosts resolves --include-host selections, defaulting to every host
// in the namespace.
func targetHosts(cmd *cli.Command, d *deploy.Deployer) []string {
	if hosts := cmd.StringSlice("include-host"); len(hosts) > 0 {
		return hosts
	}
	return d.Config().HostNames()
}
