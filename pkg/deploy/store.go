package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// nodeConfigStorageKey is the directory under the config root where
// namespace state lives.
const nodeConfigStorageKey = "worker-configs"

// DefaultConfigRoot resolves the on-disk root for all nucypher-ops state.
// NUCYPHER_OPS_HOME overrides the default of ~/.local/share/nucypher.
func DefaultConfigRoot() string {
	if root := os.Getenv("NUCYPHER_OPS_HOME"); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nucypher"
	}
	return filepath.Join(home, ".local", "share", "nucypher")
}

// Store persists namespace configurations and generated inventories under a
// single filesystem root.
type Store struct {
	root string
}

// NewStore creates a store rooted at root. An empty root uses
// DefaultConfigRoot.
func NewStore(root string) *Store {
	if root == "" {
		root = DefaultConfigRoot()
	}
	return &Store{root: root}
}

// NetworkDir is the directory holding all namespaces of a network.
func (s *Store) NetworkDir(network string) string {
	return filepath.Join(s.root, nodeConfigStorageKey, network)
}

// ConfigPath is the JSON state file for one namespace.
func (s *Store) ConfigPath(network, namespace string) string {
	return filepath.Join(s.NetworkDir(network), namespace, fmt.Sprintf("%s-%s.json", network, namespace))
}

// InventoryPath is where the rendered Ansible inventory for a namespace
// label is written.
func (s *Store) InventoryPath(namespaceLabel string) string {
	return filepath.Join(s.root, nodeConfigStorageKey, namespaceLabel+".ansible_inventory.yml")
}

// KeypairPath is where a provider-generated ssh keypair is written.
func (s *Store) KeypairPath(namespaceLabel, suffix string) string {
	return filepath.Join(s.root, nodeConfigStorageKey, namespaceLabel+"."+suffix)
}

// Exists reports whether a namespace has persisted state.
func (s *Store) Exists(network, namespace string) bool {
	_, err := os.Stat(s.ConfigPath(network, namespace))
	return err == nil
}

// Load reads a namespace configuration.
func (s *Store) Load(network, namespace string) (*Config, error) {
	path := s.ConfigPath(network, namespace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, opserrors.WrapWithContext(opserrors.ErrCodeNotFound,
				fmt.Sprintf("namespace %q does not exist for network %q", namespace, network),
				err, map[string]any{"path": path})
		}
		return nil, fmt.Errorf("failed to read namespace config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("malformed namespace config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes a namespace configuration atomically with owner-only
// permissions; the file holds generated secrets.
func (s *Store) Save(network, namespace string, cfg *Config) error {
	path := s.ConfigPath(network, namespace)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode namespace config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write namespace config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close namespace config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to persist namespace config: %w", err)
	}
	return nil
}

// ListNamespaces returns the namespaces with state under a network.
func (s *Store) ListNamespaces(network string) ([]string, error) {
	entries, err := os.ReadDir(s.NetworkDir(network))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}

	var namespaces []string
	for _, e := range entries {
		if e.IsDir() {
			namespaces = append(namespaces, e.Name())
		}
	}
	sort.Strings(namespaces)
	return namespaces, nil
}
