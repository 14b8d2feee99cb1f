package cli

import (
	"context"
	"math/big"

	"github.com/urfave/cli/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nucypher/nucypher-ops/pkg/datafeeds"
	"github.com/nucypher/nucypher-ops/pkg/emitter"
	"github.com/nucypher/nucypher-ops/pkg/networks"
	"github.com/nucypher/nucypher-ops/pkg/web3"
)

func ethCmd() *cli.Command {
	return &cli.Command{
		Name:  "eth",
		Usage: "Inspect Ethereum endpoints and gas prices",
		Commands: []*cli.Command{
			ethGasPriceCmd(),
			ethStatusCmd(),
			ethWaitForSyncCmd(),
		},
	}
}

func ethGasPriceCmd() *cli.Command {
	return &cli.Command{
		Name:  "gas-price",
		Usage: "Fetch the current gas price from the public datafeeds",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "speed",
				Value: string(datafeeds.SpeedFast),
				Usage: "Transaction speed (slow, medium, fast, fastest)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			speed, err := datafeeds.CanonicalSpeed(cmd.String("speed"))
			if err != nil {
				return err
			}

			wei, source, err := datafeeds.FirstAvailable(ctx, datafeeds.Default(), speed)
			if err != nil {
				return err
			}

			p := message.NewPrinter(language.English)
			gwei := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9))
			emitter.Default().Echof(emitter.ColorGreen, "%s gas price: %s gwei (%s wei) via %s",
				speed, gwei.Text('f', 2), p.Sprintf("%d", wei), source)
			return nil
		},
	}
}

func ethStatusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Sniff an Ethereum endpoint: client, chain, peers, sync state",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "endpoint",
				Aliases:  []string{"e"},
				Required: true,
				Usage:    "JSON-RPC endpoint, e.g. https://rpc.example.com or http://localhost:8545",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := web3.Dial(ctx, cmd.String("endpoint"))
			if err != nil {
				return err
			}
			em := emitter.Default()

			info := client.Version()
			em.Echof(emitter.ColorNone, "client:  %s %s", info.Kind, info.Version)

			chainID, err := client.ChainID(ctx)
			if err != nil {
				return err
			}
			if name, ok := networks.PublicChainName(int(chainID)); ok {
				em.Echof(emitter.ColorNone, "chain:   %s (%d)", name, chainID)
			} else {
				em.Echof(emitter.ColorNone, "chain:   %d", chainID)
			}

			peers, err := client.PeerCount(ctx)
			if err != nil {
				return err
			}
			em.Echof(emitter.ColorNone, "peers:   %d", peers)

			progress, err := client.SyncProgress(ctx)
			if err != nil {
				return err
			}
			if progress == nil {
				em.Echo("syncing: no", emitter.ColorGreen)
			} else {
				em.Echof(emitter.ColorYellow, "syncing: block %d of %d", progress.CurrentBlock, progress.HighestBlock)
			}
			return nil
		},
	}
}

func ethWaitForSyncCmd() *cli.Command {
	return &cli.Command{
		Name:  "wait-for-sync",
		Usage: "Block until an Ethereum endpoint is fully synced",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "endpoint",
				Aliases:  []string{"e"},
				Required: true,
				Usage:    "JSON-RPC endpoint to wait on",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 0,
				Usage: "Give up after this long (0 waits forever)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := web3.Dial(ctx, cmd.String("endpoint"))
			if err != nil {
				return err
			}
			if err := client.WaitForSync(ctx, cmd.Duration("timeout")); err != nil {
				return err
			}
			emitter.Default().Echo("endpoint is synced", emitter.ColorGreen)
			return nil
		},
	}
}
