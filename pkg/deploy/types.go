// Package deploy manages namespaces of cloud-hosted worker nodes: their
// persisted state, provider provisioning, Ansible inventory generation, and
// fleet operations.
package deploy

import (
	"fmt"
	"sort"
	"strings"
)

// Node port defaults baked into the security groups and inventory.
const (
	UrsulaPort     = 9151
	PrometheusPort = 9101
)

// DefaultImage is the operator image deployed when none is configured.
const DefaultImage = "nucypher/nucypher:latest"

// DeployAttr is a provider-supplied host variable for the Ansible inventory,
// e.g. the login user or the ssh keypair path.
type DeployAttr struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// InstanceData is the persisted record of one provisioned host.
type InstanceData struct {
	PublicAddress string `json:"publicaddress"`
	Provider      string `json:"provider"`
	InstanceID    string `json:"instance_id,omitempty"`

	// Per-host overrides. Empty fields inherit the namespace defaults at
	// inventory build time.
	BlockchainProvider string `json:"blockchain_provider,omitempty"`
	Image              string `json:"nucypher_image,omitempty"`
	SentryDSN          string `json:"sentry_dsn,omitempty"`
	GasStrategy        string `json:"gas_strategy,omitempty"`

	ProviderDeployAttrs []DeployAttr `json:"provider_deploy_attrs,omitempty"`

	// Captured from playbook output.
	WorkerAddress   string `json:"worker_address,omitempty"`
	RestURL         string `json:"rest_url,omitempty"`
	NucypherVersion string `json:"nucypher_version,omitempty"`
	Nickname        string `json:"nickname,omitempty"`
}

// Attr returns the value of a provider deploy attr, or "" when absent.
func (i *InstanceData) Attr(key string) string {
	for _, a := range i.ProviderDeployAttrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Config is the persisted state of one namespace on one network.
type Config struct {
	// Namespace is the fully qualified namespace label, e.g.
	// "mainnet-local-stakeholders-2026-08-29".
	Namespace string `json:"namespace"`

	KeyringPassword string `json:"keyringpassword"`
	EthPassword     string `json:"ethpassword"`

	BlockchainProvider string `json:"blockchain_provider,omitempty"`
	Image              string `json:"nucypher_image,omitempty"`
	SentryDSN          string `json:"sentry_dsn,omitempty"`
	GasStrategy        string `json:"gas_strategy,omitempty"`

	SeedNetwork bool   `json:"seed_network"`
	SeedNode    string `json:"seed_node,omitempty"`
	Prometheus  bool   `json:"use_prometheus"`

	// WorkerDataFile, when set, receives captured per-host data after
	// deployment operations.
	WorkerDataFile string `json:"worker_data_file,omitempty"`

	// ProviderParams holds provider-specific state such as the
	// DigitalOcean region or the EC2 VPC and security group IDs.
	ProviderParams map[string]string `json:"provider_params,omitempty"`

	Instances map[string]*InstanceData `json:"instances,omitempty"`
}

// Decentralized reports whether the nodes run their own local geth, which
// is the default when no remote blockchain provider is configured.
func (c *Config) Decentralized() bool {
	return strings.Contains(c.BlockchainProvider, "geth.ipc")
}

// Param reads a provider-specific state value.
func (c *Config) Param(key string) string {
	return c.ProviderParams[key]
}

// SetParam writes a provider-specific state value.
func (c *Config) SetParam(key, value string) {
	if c.ProviderParams == nil {
		c.ProviderParams = make(map[string]string)
	}
	c.ProviderParams[key] = value
}

// DeleteParam removes a provider-specific state value.
func (c *Config) DeleteParam(key string) {
	delete(c.ProviderParams, key)
}

// HostNames returns the instance names, sorted for stable iteration.
func (c *Config) HostNames() []string {
	names := make([]string, 0, len(c.Instances))
	for name := range c.Instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultGethProvider returns the on-host geth IPC path for a chain.
func DefaultGethProvider(chainName string) string {
	return fmt.Sprintf("/root/.local/share/geth/.ethereum/%s/geth.ipc", chainName)
}
