package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
	"github.com/nucypher/nucypher-ops/pkg/networks"
)

// InventoryExtras carries per-run inventory variables that are not part of
// the persisted namespace state.
type InventoryExtras struct {
	// WipeNucypher clears node configs and regenerates keys on deploy.
	WipeNucypher bool

	// RestorePath is a backup directory to restore onto the target host.
	RestorePath string
}

// GroupVars are the inventory variables shared by every host in the
// nucypher group.
type GroupVars struct {
	NetworkName string `yaml:"network_name"`
	ChainName   string `yaml:"chain_name"`
	ChainID     int    `yaml:"chain_id"`

	BlockchainProvider string `yaml:"blockchain_provider"`
	NucypherImage      string `yaml:"nucypher_image"`
	SentryDSN          string `yaml:"sentry_dsn,omitempty"`
	GasStrategy        string `yaml:"gas_strategy,omitempty"`

	KeyringPassword string `yaml:"keyringpassword"`
	EthPassword     string `yaml:"ethpassword"`

	NodeIsDecentralized bool   `yaml:"node_is_decentralized"`
	UrsulaPort          int    `yaml:"ursula_port"`
	PrometheusPort      int    `yaml:"prometheus_port"`
	RunPrometheus       bool   `yaml:"run_prometheus"`
	SeedNode            string `yaml:"seed_node,omitempty"`

	WipeNucypherConfig bool   `yaml:"wipe_nucypher_config"`
	RestorePath        string `yaml:"restore_path,omitempty"`

	AnsiblePythonInterpreter string `yaml:"ansible_python_interpreter"`
	AnsibleSSHCommonArgs     string `yaml:"ansible_ssh_common_args"`
}

// HostVars are one host's inventory variables: the connection address, the
// flattened provider deploy attrs, and any per-host overrides.
type HostVars map[string]any

// Inventory is the Ansible inventory document handed to ansible-playbook.
type Inventory struct {
	All struct {
		Children struct {
			Nucypher struct {
				Hosts map[string]HostVars `yaml:"hosts"`
				Vars  GroupVars           `yaml:"vars"`
			} `yaml:"nucypher"`
		} `yaml:"children"`
	} `yaml:"all"`
}

// ChainName resolves the lowercase public chain name for a network, falling
// back to the network name itself for chains without a public name.
func ChainName(network string) string {
	chainID, err := networks.ChainID(network)
	if err != nil {
		return network
	}
	if name, ok := networks.PublicChainName(chainID); ok {
		return strings.ToLower(name)
	}
	return network
}

// BuildInventory renders the inventory for the named subset of a
// namespace's instances.
func BuildInventory(network string, cfg *Config, names []string, extras InventoryExtras) (*Inventory, error) {
	inv := &Inventory{}
	chainID, _ := networks.ChainID(network)

	inv.All.Children.Nucypher.Vars = GroupVars{
		NetworkName:              network,
		ChainName:                ChainName(network),
		ChainID:                  chainID,
		BlockchainProvider:       cfg.BlockchainProvider,
		NucypherImage:            cfg.Image,
		SentryDSN:                cfg.SentryDSN,
		GasStrategy:              cfg.GasStrategy,
		KeyringPassword:          cfg.KeyringPassword,
		EthPassword:              cfg.EthPassword,
		NodeIsDecentralized:      cfg.Decentralized(),
		UrsulaPort:               UrsulaPort,
		PrometheusPort:           PrometheusPort,
		RunPrometheus:            cfg.Prometheus,
		SeedNode:                 cfg.SeedNode,
		WipeNucypherConfig:       extras.WipeNucypher,
		RestorePath:              extras.RestorePath,
		AnsiblePythonInterpreter: "/usr/bin/python3",
		AnsibleSSHCommonArgs:     "-o StrictHostKeyChecking=no",
	}

	hosts := make(map[string]HostVars, len(names))
	for _, name := range names {
		inst, ok := cfg.Instances[name]
		if !ok {
			return nil, opserrors.Newf(opserrors.ErrCodeNotFound,
				"no instance named %q in namespace %q", name, cfg.Namespace)
		}
		hosts[name] = hostVars(inst)
	}
	inv.All.Children.Nucypher.Hosts = hosts
	return inv, nil
}

func hostVars(inst *InstanceData) HostVars {
	vars := HostVars{"ansible_host": inst.PublicAddress}

	for _, attr := range inst.ProviderDeployAttrs {
		// default_user is the inventory's ansible_user; everything else
		// (ansible_port, ansible_ssh_private_key_file, ...) passes through.
		if attr.Key == "default_user" {
			vars["ansible_user"] = attr.Value
			continue
		}
		vars[attr.Key] = attr.Value
	}

	if inst.BlockchainProvider != "" {
		vars["blockchain_provider"] = inst.BlockchainProvider
	}
	if inst.Image != "" {
		vars["nucypher_image"] = inst.Image
	}
	if inst.SentryDSN != "" {
		vars["sentry_dsn"] = inst.SentryDSN
	}
	if inst.GasStrategy != "" {
		vars["gas_strategy"] = inst.GasStrategy
	}
	return vars
}

// Write serializes the inventory to path with owner-only permissions; it
// carries the namespace secrets.
func (inv *Inventory) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create inventory directory: %w", err)
	}
	data, err := yaml.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to encode inventory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write inventory: %w", err)
	}
	return nil
}
