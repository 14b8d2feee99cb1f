package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/nucypher/nucypher-ops/pkg/emitter"
	"github.com/nucypher/nucypher-ops/pkg/serializer"
	"github.com/nucypher/nucypher-ops/pkg/ursula"
)

func ursulaCmd() *cli.Command {
	return &cli.Command{
		Name:  "ursula",
		Usage: "Manage a locally run worker node",
		Commands: []*cli.Command{
			ursulaInitCmd(),
			ursulaShowCmd(),
			ursulaUpdateCmd(),
			ursulaDestroyCmd(),
			ursulaRunCmd(),
			ursulaStopCmd(),
			ursulaStatusCmd(),
		},
	}
}

func ursulaParamFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "worker-address", Usage: "Ethereum address of the worker account"},
		&cli.StringFlag{Name: "blockchain-provider", Usage: "Ethereum provider URI"},
		&cli.StringFlag{Name: "image", Usage: "Worker container image"},
		&cli.IntFlag{Name: "rest-port", Usage: "REST port the worker listens on"},
		&cli.StringFlag{Name: "seed-uri", Usage: "Seed node URI to bootstrap from"},
	}
}

func ursulaParams(cmd *cli.Command) ursula.Params {
	return ursula.Params{
		Network:            cmd.String("network"),
		WorkerAddress:      cmd.String("worker-address"),
		BlockchainProvider: cmd.String("blockchain-provider"),
		Image:              cmd.String("image"),
		RestPort:           int(cmd.Int("rest-port")),
		SeedURI:            cmd.String("seed-uri"),
	}
}

func ursulaInitCmd() *cli.Command {
	flags := append(networkFlags()[:1], ursulaParamFlags()...)
	return &cli.Command{
		Name:  "init",
		Usage: "Create the local node configuration",
		Flags: flags,
		Action: func(_ context.Context, cmd *cli.Command) error {
			// The node needs its keystore password at startup; collect it up
			// front so a typo surfaces here, not on the first run.
			if _, err := ursula.KeystorePassword(); err != nil {
				return err
			}

			cfg, err := ursula.NewStore("").Init(ursulaParams(cmd))
			if err != nil {
				return err
			}
			em := emitter.Default()
			em.Echof(emitter.ColorGreen, "created node config for network %q", cfg.Network)
			em.Echo("export NUCYPHER_KEYSTORE_PASSWORD before starting the node", emitter.ColorYellow)
			em.Echo("start the node with `nucypher-ops ursula run`")
			return nil
		},
	}
}

func ursulaShowCmd() *cli.Command {
	flags := append(networkFlags()[:1],
		&cli.StringFlag{Name: "format", Value: "yaml", Usage: "output format (json, yaml, table)"},
	)
	return &cli.Command{
		Name:  "show",
		Usage: "Print the local node configuration",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			outFormat, err := parseOutputFormat(cmd)
			if err != nil {
				return err
			}
			cfg, err := ursula.NewStore("").Load(cmd.String("network"))
			if err != nil {
				return err
			}
			return serializer.NewStdoutWriter(outFormat).Serialize(ctx, cfg)
		},
	}
}

func ursulaUpdateCmd() *cli.Command {
	flags := append(networkFlags()[:1], ursulaParamFlags()...)
	return &cli.Command{
		Name:  "update",
		Usage: "Update fields of the local node configuration",
		Flags: flags,
		Action: func(_ context.Context, cmd *cli.Command) error {
			p := ursulaParams(cmd)
			p.Network = ""
			_, err := ursula.NewStore("").Update(cmd.String("network"), p)
			return err
		},
	}
}

func ursulaDestroyCmd() *cli.Command {
	return &cli.Command{
		Name:  "destroy",
		Usage: "Remove the local node configuration",
		Flags: networkFlags()[:1],
		Action: func(_ context.Context, cmd *cli.Command) error {
			return ursula.NewStore("").Destroy(cmd.String("network"))
		},
	}
}

func ursulaRunCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Print the docker invocation that starts the local worker",
		Flags: networkFlags()[:1],
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := ursula.NewStore("").Load(cmd.String("network"))
			if err != nil {
				return err
			}
			em := emitter.Default()
			em.Echo("export the node secrets, then start the worker:", emitter.ColorYellow)
			em.Raw("  export NUCYPHER_KEYSTORE_PASSWORD=...\n")
			em.Raw("  export NUCYPHER_OPERATOR_ETH_PASSWORD=...\n")
			em.Raw("  " + ursula.RunCommand(cfg) + "\n")
			return nil
		},
	}
}

func ursulaStopCmd() *cli.Command {
	return &cli.Command{
		Name:  "stop",
		Usage: "Print the docker invocation that stops the local worker",
		Action: func(_ context.Context, _ *cli.Command) error {
			emitter.Default().Raw(ursula.StopCommand() + "\n")
			return nil
		},
	}
}

func ursulaStatusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Query a running node's status over its REST interface",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "rest-url",
				Required: true,
				Usage:    "REST URL of the node, e.g. https://203.0.113.9:9151",
			},
			&cli.StringFlag{Name: "format", Value: "yaml", Usage: "output format (json, yaml, table)"},
			&cli.BoolFlag{Name: "known-nodes", Usage: "Print the node's peer table instead of its status"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			outFormat, err := parseOutputFormat(cmd)
			if err != nil {
				return err
			}
			client := ursula.NewClient(cmd.String("rest-url"))
			if cmd.Bool("known-nodes") {
				nodes, err := client.KnownNodes(ctx)
				if err != nil {
					return err
				}
				return serializer.NewStdoutWriter(outFormat).Serialize(ctx, nodes)
			}
			status, err := client.Status(ctx)
			if err != nil {
				return err
			}
			return serializer.NewStdoutWriter(outFormat).Serialize(ctx, status)
		},
	}
}
