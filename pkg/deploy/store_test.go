package deploy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

func TestStorePaths(t *testing.T) {
	s := NewStore("/var/lib/nucypher")

	assert.Equal(t, "/var/lib/nucypher/worker-configs/mainnet", s.NetworkDir("mainnet"))
	assert.Equal(t,
		"/var/lib/nucypher/worker-configs/mainnet/local-stakeholders/mainnet-local-stakeholders.json",
		s.ConfigPath("mainnet", "local-stakeholders"))
	assert.Equal(t,
		"/var/lib/nucypher/worker-configs/mainnet-local-stakeholders-2026-08-29.ansible_inventory.yml",
		s.InventoryPath("mainnet-local-stakeholders-2026-08-29"))
	assert.Equal(t,
		"/var/lib/nucypher/worker-configs/mainnet-local-stakeholders-2026-08-29.awsec2keypair.pem",
		s.KeypairPath("mainnet-local-stakeholders-2026-08-29", "awsec2keypair.pem"))
}

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	assert.False(t, s.Exists("lynx", "testers"))

	cfg := &Config{
		Namespace:       "lynx-testers-2026-08-29",
		KeyringPassword: "kp",
		EthPassword:     "ep",
		Image:           DefaultImage,
		SeedNetwork:     true,
		Instances: map[string]*InstanceData{
			"lynx-testers-0": {PublicAddress: "192.0.2.10", Provider: "digitalocean"},
		},
	}
	require.NoError(t, s.Save("lynx", "testers", cfg))
	assert.True(t, s.Exists("lynx", "testers"))

	info, err := os.Stat(s.ConfigPath("lynx", "testers"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := s.Load("lynx", "testers")
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestStoreLoadMissing(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Load("lynx", "nobody")
	require.Error(t, err)
	assert.Equal(t, opserrors.ErrCodeNotFound, opserrors.Code(err))
}

func TestStoreLoadMalformed(t *testing.T) {
	s := NewStore(t.TempDir())
	path := s.ConfigPath("lynx", "broken")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := s.Load("lynx", "broken")
	require.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrNotExist))
}

func TestStoreListNamespaces(t *testing.T) {
	s := NewStore(t.TempDir())

	namespaces, err := s.ListNamespaces("lynx")
	require.NoError(t, err)
	assert.Empty(t, namespaces)

	require.NoError(t, s.Save("lynx", "zeta", &Config{Namespace: "z"}))
	require.NoError(t, s.Save("lynx", "alpha", &Config{Namespace: "a"}))
	require.NoError(t, s.Save("mainnet", "other", &Config{Namespace: "o"}))

	namespaces, err = s.ListNamespaces("lynx")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, namespaces)
}

func TestDefaultConfigRootOverride(t *testing.T) {
	t.Setenv("NUCYPHER_OPS_HOME", "/tmp/ops-home")
	assert.Equal(t, "/tmp/ops-home", DefaultConfigRoot())
}
