package cli

import (
	"context"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/urfave/cli/v3"

	"github.com/nucypher/nucypher-ops/pkg/deploy"
	"github.com/nucypher/nucypher-ops/pkg/deploy/provider/digitalocean"
	"github.com/nucypher/nucypher-ops/pkg/serializer"
)

func cloudworkersCmd() *cli.Command {
	return &cli.Command{
		Name:    "cloudworkers",
		Aliases: []string{"cw"},
		Usage:   "Provision cloud hosts and operate worker fleets on them",
		Commands: []*cli.Command{
			cwCreateCmd(),
			cwAddCmd(),
			cwDeployCmd(),
			cwUpdateCmd(),
			cwStatusCmd(),
			cwLogsCmd(),
			cwBackupCmd(),
			cwRestoreCmd(),
			cwDestroyCmd(),
			cwListNamespacesCmd(),
			cwListHostsCmd(),
		},
	}
}

func includeHostFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "include-host",
		Usage: "Limit the operation to the named hosts (repeatable; default: all)",
	}
}

func cwCreateCmd() *cli.Command {
	flags := append(networkFlags(), optionFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:  "cloudprovider",
			Value: digitalocean.ProviderName,
			Usage: fmt.Sprintf("Cloud provider to provision on (%v)", deploy.ProviderNames()),
		},
		&cli.IntFlag{
			Name:    "count",
			Aliases: []string{"c"},
			Value:   1,
			Usage:   "Number of worker hosts the namespace should have",
		},
		&cli.BoolFlag{
			Name:  "wipe",
			Usage: "Wipe existing worker state on the hosts before deploying",
		},
	)
	return &cli.Command{
		Name:  "create",
		Usage: "Provision hosts up to the requested count and deploy workers on them",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			d, err := openDeployer(cmd, false)
			if err != nil {
				return err
			}

			count := int(cmd.Int("count"))
			names := make([]string, 0, count)
			for i := 0; i < count; i++ {
				names = append(names, fmt.Sprintf("%s-%s-%d", cmd.String("network"), cmd.String("namespace"), i))
			}

			if err := d.CreateNodes(ctx, cmd.String("cloudprovider"), names); err != nil {
				return err
			}
			return d.Deploy(ctx, names, cmd.Bool("wipe"))
		},
	}
}

func cwAddCmd() *cli.Command {
	flags := append(networkFlags(), optionFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "host-address", Required: true, Usage: "Public address of the host"},
		&cli.StringFlag{Name: "login-name", Required: true, Usage: "ssh login user on the host"},
		&cli.StringFlag{Name: "key-path", Usage: "Path to the ssh private key for the host"},
		&cli.IntFlag{Name: "ssh-port", Value: 22, Usage: "ssh port on the host"},
		&cli.StringFlag{Name: "nickname", Usage: "Name for the host (default: derived from the namespace)"},
	)
	return &cli.Command{
		Name:  "add",
		Usage: "Register a pre-existing host in a namespace",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			d, err := openDeployer(cmd, false)
			if err != nil {
				return err
			}

			name := cmd.String("nickname")
			if name == "" {
				name = fmt.Sprintf("%s-%s-%d", cmd.String("network"), cmd.String("namespace"),
					len(d.Config().Instances))
			}
			return d.AddHost(name, cmd.String("host-address"), cmd.String("login-name"),
				cmd.String("key-path"), int(cmd.Int("ssh-port")))
		},
	}
}

// fleetCmd builds the common shape of commands that run a playbook over
// the selected hosts.
func fleetCmd(name, usage string, extraFlags []cli.Flag,
	run func(ctx context.Context, cmd *cli.Command, d *deploy.Deployer, hosts []string) error) *cli.Command {

	flags := append(networkFlags(), optionFlags()...)
	flags = append(flags, includeHostFlag())
	flags = append(flags, extraFlags...)
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			d, err := openDeployer(cmd, true)
			if err != nil {
				return err
			}
			return run(ctx, cmd, d, targetHosts(cmd, d))
		},
	}
}

func cwDeployCmd() *cli.Command {
	wipe := &cli.BoolFlag{Name: "wipe", Usage: "Wipe existing worker state on the hosts first"}
	return fleetCmd("deploy", "Install and start workers on existing hosts", []cli.Flag{wipe},
		func(ctx context.Context, cmd *cli.Command, d *deploy.Deployer, hosts []string) error {
			return d.Deploy(ctx, hosts, cmd.Bool("wipe"))
		})
}

func cwUpdateCmd() *cli.Command {
	return fleetCmd("update", "Update the worker containers on the hosts", nil,
		func(ctx context.Context, _ *cli.Command, d *deploy.Deployer, hosts []string) error {
			return d.Update(ctx, hosts)
		})
}

func cwStatusCmd() *cli.Command {
	return fleetCmd("status", "Query worker status on the hosts", nil,
		func(ctx context.Context, _ *cli.Command, d *deploy.Deployer, hosts []string) error {
			return d.Status(ctx, hosts)
		})
}

func cwLogsCmd() *cli.Command {
	return fleetCmd("logs", "Fetch recent worker logs from the hosts", nil,
		func(ctx context.Context, _ *cli.Command, d *deploy.Deployer, hosts []string) error {
			return d.Logs(ctx, hosts)
		})
}

func cwBackupCmd() *cli.Command {
	return fleetCmd("backup", "Pull worker state from the hosts into local backups", nil,
		func(ctx context.Context, _ *cli.Command, d *deploy.Deployer, hosts []string) error {
			return d.Backup(ctx, hosts)
		})
}

func cwRestoreCmd() *cli.Command {
	flags := append(networkFlags(),
		&cli.StringFlag{Name: "target-host", Required: true, Usage: "Host to restore onto"},
		&cli.StringFlag{Name: "source-path", Required: true, Usage: "Backup directory to restore from"},
	)
	return &cli.Command{
		Name:  "restore",
		Usage: "Restore a backed-up worker onto a host",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			d, err := openDeployer(cmd, true)
			if err != nil {
				return err
			}
			return d.Restore(ctx, cmd.String("target-host"), cmd.String("source-path"))
		},
	}
}

func cwDestroyCmd() *cli.Command {
	flags := append(networkFlags(), includeHostFlag(),
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Skip the confirmation prompt"},
	)
	return &cli.Command{
		Name:  "destroy",
		Usage: "Tear down cloud hosts and remove them from the namespace",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			d, err := openDeployer(cmd, true)
			if err != nil {
				return err
			}
			hosts := targetHosts(cmd, d)
			if len(hosts) == 0 {
				return fmt.Errorf("no hosts to destroy in namespace %q", cmd.String("namespace"))
			}

			if !cmd.Bool("yes") {
				confirmed := false
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Destroy %d host(s) in %s/%s? This cannot be undone.",
						len(hosts), cmd.String("network"), cmd.String("namespace")),
				}
				if err := survey.AskOne(prompt, &confirmed); err != nil {
					return err
				}
				if !confirmed {
					return nil
				}
			}
			return d.Destroy(ctx, hosts)
		},
	}
}

func cwListNamespacesCmd() *cli.Command {
	return &cli.Command{
		Name:  "list-namespaces",
		Usage: "List namespaces with persisted state on a network",
		Flags: append(networkFlags(),
			&cli.StringFlag{Name: "format", Value: "yaml", Usage: "output format (json, yaml, table)"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			outFormat, err := parseOutputFormat(cmd)
			if err != nil {
				return err
			}
			namespaces, err := deploy.NewStore("").ListNamespaces(cmd.String("network"))
			if err != nil {
				return err
			}
			return serializer.NewStdoutWriter(outFormat).Serialize(ctx, namespaces)
		},
	}
}

func cwListHostsCmd() *cli.Command {
	return &cli.Command{
		Name:  "list-hosts",
		Usage: "List the hosts of a namespace with their captured worker data",
		Flags: append(networkFlags(),
			&cli.StringFlag{Name: "format", Value: "yaml", Usage: "output format (json, yaml, table)"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			outFormat, err := parseOutputFormat(cmd)
			if err != nil {
				return err
			}
			d, err := openDeployer(cmd, true)
			if err != nil {
				return err
			}
			return serializer.NewStdoutWriter(outFormat).Serialize(ctx, d.ListHosts())
		},
	}
}
