// Package ursula manages local worker node configuration and talks to
// running nodes over their REST status endpoint.
package ursula

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/distribution/reference"
	"gopkg.in/yaml.v3"

	"github.com/nucypher/nucypher-ops/pkg/deploy"
	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
	"github.com/nucypher/nucypher-ops/pkg/networks"
	"github.com/nucypher/nucypher-ops/pkg/web3"
)

// Config is the persisted configuration of a locally managed worker node.
type Config struct {
	Network            string `yaml:"network"`
	WorkerAddress      string `yaml:"worker_address"`
	BlockchainProvider string `yaml:"blockchain_provider"`
	Image              string `yaml:"nucypher_image"`
	RestPort           int    `yaml:"rest_port"`
	PrometheusPort     int    `yaml:"prometheus_port,omitempty"`
	SeedURI            string `yaml:"seed_uri,omitempty"`
}

// Params are the operator-supplied values for Init and Update. Empty
// fields keep their current or default values.
type Params struct {
	Network            string
	WorkerAddress      string
	BlockchainProvider string
	Image              string
	RestPort           int
	SeedURI            string
}

// Store persists node configs under <root>/ursula/<network>/ursula.yml.
type Store struct {
	root string
}

// NewStore creates a store rooted at root; an empty root uses the shared
// config root.
func NewStore(root string) *Store {
	if root == "" {
		root = deploy.DefaultConfigRoot()
	}
	return &Store{root: root}
}

// ConfigPath is the YAML config file for a network's node.
func (s *Store) ConfigPath(network string) string {
	return filepath.Join(s.root, "ursula", network, "ursula.yml")
}

// Exists reports whether a node config is present for the network.
func (s *Store) Exists(network string) bool {
	_, err := os.Stat(s.ConfigPath(network))
	return err == nil
}

// Init validates params and writes a fresh node config. It refuses to
// overwrite an existing one.
func (s *Store) Init(p Params) (*Config, error) {
	if s.Exists(p.Network) {
		return nil, opserrors.Newf(opserrors.ErrCodeInvalidRequest,
			"a node config already exists for network %q; use update or destroy it first", p.Network)
	}

	cfg := &Config{
		Network:  p.Network,
		Image:    deploy.DefaultImage,
		RestPort: deploy.UrsulaPort,
	}
	if err := applyParams(cfg, p); err != nil {
		return nil, err
	}
	if cfg.BlockchainProvider == "" {
		cfg.BlockchainProvider = deploy.DefaultGethProvider(deploy.ChainName(cfg.Network))
	}
	if cfg.WorkerAddress == "" {
		return nil, opserrors.New(opserrors.ErrCodeInvalidRequest,
			"a worker ethereum address is required")
	}

	if err := s.save(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a node config.
func (s *Store) Load(network string) (*Config, error) {
	data, err := os.ReadFile(s.ConfigPath(network))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, opserrors.Newf(opserrors.ErrCodeNotFound,
				"no node config for network %q; create one with `nucypher-ops ursula init`", network)
		}
		return nil, fmt.Errorf("failed to read node config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("malformed node config %s: %w", s.ConfigPath(network), err)
	}
	return &cfg, nil
}

// Update applies the non-empty params to an existing config.
func (s *Store) Update(network string, p Params) (*Config, error) {
	cfg, err := s.Load(network)
	if err != nil {
		return nil, err
	}
	p.Network = network
	if err := applyParams(cfg, p); err != nil {
		return nil, err
	}
	if err := s.save(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Destroy removes a network's node config.
func (s *Store) Destroy(network string) error {
	if !s.Exists(network) {
		return opserrors.Newf(opserrors.ErrCodeNotFound, "no node config for network %q", network)
	}
	return os.Remove(s.ConfigPath(network))
}

func (s *Store) save(cfg *Config) error {
	path := s.ConfigPath(cfg.Network)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create node config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode node config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// applyParams validates and folds non-empty params into cfg.
func applyParams(cfg *Config, p Params) error {
	if p.Network != "" {
		if _, err := networks.ChainID(p.Network); err != nil {
			return opserrors.Wrap(opserrors.ErrCodeInvalidRequest, "unknown network", err)
		}
		cfg.Network = p.Network
	}
	if p.WorkerAddress != "" {
		if !web3.IsHexAddress(p.WorkerAddress) {
			return opserrors.Newf(opserrors.ErrCodeInvalidRequest,
				"%q is not a valid ethereum address", p.WorkerAddress)
		}
		checksummed, err := web3.ToChecksumAddress(p.WorkerAddress)
		if err != nil {
			return err
		}
		cfg.WorkerAddress = checksummed
	}
	if p.Image != "" {
		if _, err := reference.ParseNormalizedNamed(p.Image); err != nil {
			return opserrors.Wrap(opserrors.ErrCodeInvalidRequest,
				fmt.Sprintf("%q is not a valid container image reference", p.Image), err)
		}
		cfg.Image = p.Image
	}
	if p.BlockchainProvider != "" {
		cfg.BlockchainProvider = p.BlockchainProvider
	}
	if p.RestPort != 0 {
		cfg.RestPort = p.RestPort
	}
	if p.SeedURI != "" {
		cfg.SeedURI = p.SeedURI
	}
	return nil
}

// KeystorePassword resolves the node keystore password, prompting when the
// environment does not provide one.
func KeystorePassword() (string, error) {
	if pw := os.Getenv("NUCYPHER_KEYSTORE_PASSWORD"); pw != "" {
		return pw, nil
	}
	var pw string
	prompt := &survey.Password{Message: "Node keystore password:"}
	if err := survey.AskOne(prompt, &pw, survey.WithValidator(survey.MinLength(16))); err != nil {
		return "", opserrors.Wrap(opserrors.ErrCodeCredentials, "a keystore password is required", err)
	}
	return pw, nil
}
