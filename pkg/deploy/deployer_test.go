package deploy

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucypher/nucypher-ops/pkg/ansible"
	"github.com/nucypher/nucypher-ops/pkg/emitter"
	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// fakeRunner returns a canned result and records run options.
type fakeRunner struct {
	runs   []ansible.RunOptions
	result *ansible.Result
	err    error
}

func (f *fakeRunner) Run(_ context.Context, opts ansible.RunOptions) (*ansible.Result, error) {
	f.runs = append(f.runs, opts)
	if f.result == nil {
		f.result = &ansible.Result{Captured: ansible.OutputCapture{}}
	}
	return f.result, f.err
}

func emitterForTest() *emitter.Emitter { return emitter.New(io.Discard) }

func openTestDeployer(t *testing.T, opts Options) (*Deployer, *Store) {
	t.Helper()
	store := NewStore(t.TempDir())
	d, err := Open(emitterForTest(), store, "lynx", "testers", opts)
	require.NoError(t, err)
	d.SetReadyDelay(0)
	return d, store
}

func TestOpenInitializesNamespace(t *testing.T) {
	d, store := openTestDeployer(t, Options{})

	cfg := d.Config()
	assert.True(t, strings.HasPrefix(cfg.Namespace, "lynx-testers-"))
	assert.NotEmpty(t, cfg.KeyringPassword)
	assert.NotEmpty(t, cfg.EthPassword)
	assert.NotEqual(t, cfg.KeyringPassword, cfg.EthPassword)
	assert.Equal(t, DefaultImage, cfg.Image)
	assert.True(t, cfg.Decentralized())

	assert.True(t, store.Exists("lynx", "testers"))
}

func TestOpenRequireExisting(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := Open(emitterForTest(), store, "lynx", "testers", Options{RequireExisting: true})
	require.Error(t, err)
	assert.Equal(t, opserrors.ErrCodeNotFound, opserrors.Code(err))
}

func TestOpenPreservesExistingValues(t *testing.T) {
	d1, store := openTestDeployer(t, Options{
		BlockchainProvider: "https://rpc.example.com",
		GasStrategy:        "fast",
	})
	first := *d1.Config()

	// Reopen without options: explicit earlier values persist.
	d2, err := Open(emitterForTest(), store, "lynx", "testers", Options{})
	require.NoError(t, err)
	cfg := d2.Config()
	assert.Equal(t, first.Namespace, cfg.Namespace)
	assert.Equal(t, first.KeyringPassword, cfg.KeyringPassword)
	assert.Equal(t, "https://rpc.example.com", cfg.BlockchainProvider)
	assert.Equal(t, "fast", cfg.GasStrategy)

	// Reopen with a new override: the new value wins.
	d3, err := Open(emitterForTest(), store, "lynx", "testers", Options{Image: "nucypher/nucypher:v6"})
	require.NoError(t, err)
	assert.Equal(t, "nucypher/nucypher:v6", d3.Config().Image)
	assert.Equal(t, "https://rpc.example.com", d3.Config().BlockchainProvider)
}

func TestCreateNodes(t *testing.T) {
	fake := registerFake(t, "testcloud")
	seed := true
	d, _ := openTestDeployer(t, Options{SeedNetwork: &seed})

	names := []string{"lynx-testers-0", "lynx-testers-1"}
	require.NoError(t, d.CreateNodes(context.Background(), "testcloud", names))

	cfg := d.Config()
	require.Len(t, cfg.Instances, 2)
	for _, name := range names {
		inst := cfg.Instances[name]
		require.NotNil(t, inst)
		assert.Equal(t, "testcloud", inst.Provider)
		assert.NotEmpty(t, inst.PublicAddress)
	}
	assert.NotEmpty(t, cfg.SeedNode)
	assert.Equal(t, 1, fake.prepared)

	// A second run is a no-op for existing names.
	require.NoError(t, d.CreateNodes(context.Background(), "testcloud", names))
	assert.Len(t, fake.created, 2)
}

func TestAddHost(t *testing.T) {
	seed := true
	d, _ := openTestDeployer(t, Options{SeedNetwork: &seed})

	require.NoError(t, d.AddHost("node-0", "198.51.100.7", "ubuntu", "/keys/id_rsa", 2222))

	inst := d.Config().Instances["node-0"]
	require.NotNil(t, inst)
	assert.Equal(t, "generic", inst.Provider)
	assert.Equal(t, "198.51.100.7", inst.PublicAddress)
	assert.Equal(t, "ubuntu", inst.Attr("default_user"))
	assert.Equal(t, "/keys/id_rsa", inst.Attr("ansible_ssh_private_key_file"))
	assert.Equal(t, "2222", inst.Attr("ansible_port"))
	assert.Equal(t, "198.51.100.7", d.Config().SeedNode)
}

func TestDeployRunsSetupPlaybook(t *testing.T) {
	d, store := openTestDeployer(t, Options{})
	require.NoError(t, d.AddHost("node-0", "198.51.100.7", "root", "", 22))

	runner := &fakeRunner{result: &ansible.Result{
		Captured: ansible.OutputCapture{
			"worker address":   {{Host: "node-0", Value: "0xdeadbeef"}},
			"rest url":         {{Host: "node-0", Value: "https://198.51.100.7:9151"}},
			"nickname":         {{Host: "node-0", Value: "Steel Swordfish"}},
			"nucypher version": {{Host: "node-0", Value: "6.0.0"}},
		},
	}}
	d.SetRunner(runner)

	require.NoError(t, d.Deploy(context.Background(), []string{"node-0"}, true))

	require.Len(t, runner.runs, 1)
	run := runner.runs[0]
	assert.Equal(t, ansible.PlaybookSetup, run.Playbook)
	assert.Contains(t, run.CaptureKeys, "worker address")
	assert.FileExists(t, run.Inventory)

	// Captured values land in the persisted instance record.
	cfg, err := store.Load("lynx", "testers")
	require.NoError(t, err)
	inst := cfg.Instances["node-0"]
	assert.Equal(t, "0xdeadbeef", inst.WorkerAddress)
	assert.Equal(t, "https://198.51.100.7:9151", inst.RestURL)
	assert.Equal(t, "Steel Swordfish", inst.Nickname)
	assert.Equal(t, "6.0.0", inst.NucypherVersion)
}

// playbookStub stands in for ansible-playbook, replaying the stdout callback
// stream of a successful setup run against host node-0.
const playbookStub = `#!/bin/sh
cat <<'EOF'
PLAY [nucypher] ****************************************************************

TASK [Print Ursula Status Result] **********************************************
ok: [node-0] => {
    "msg": "worker address: 0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed
rest url: https://198.51.100.7:9151"
}

PLAY RECAP *********************************************************************
node-0                     : ok=1    changed=0    unreachable=0    failed=0    skipped=0
EOF
`

func TestDeployPersistsValuesFromPlaybookStream(t *testing.T) {
	d, store := openTestDeployer(t, Options{})
	require.NoError(t, d.AddHost("node-0", "198.51.100.7", "root", "", 22))

	script := filepath.Join(t.TempDir(), "ansible-playbook")
	require.NoError(t, os.WriteFile(script, []byte(playbookStub), 0o755))
	runner := ansible.NewRunner(emitterForTest())
	runner.Binary = script
	d.SetRunner(runner)

	require.NoError(t, d.Deploy(context.Background(), []string{"node-0"}, false))

	// Values announced under the inventory host name reach the persisted
	// record without any faking between runner and deployer.
	cfg, err := store.Load("lynx", "testers")
	require.NoError(t, err)
	inst := cfg.Instances["node-0"]
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", inst.WorkerAddress)
	assert.Equal(t, "https://198.51.100.7:9151", inst.RestURL)
}

func TestDeployBackfillsHostOverrides(t *testing.T) {
	d, _ := openTestDeployer(t, Options{GasStrategy: "medium"})
	require.NoError(t, d.AddHost("node-0", "198.51.100.7", "root", "", 22))
	d.SetRunner(&fakeRunner{})

	require.NoError(t, d.Deploy(context.Background(), []string{"node-0"}, false))

	inst := d.Config().Instances["node-0"]
	assert.Equal(t, "medium", inst.GasStrategy)
	assert.Equal(t, DefaultImage, inst.Image)
	assert.Equal(t, d.Config().BlockchainProvider, inst.BlockchainProvider)
}

func TestStatusFiltersTasks(t *testing.T) {
	d, _ := openTestDeployer(t, Options{})
	require.NoError(t, d.AddHost("node-0", "198.51.100.7", "root", "", 22))
	runner := &fakeRunner{}
	d.SetRunner(runner)

	require.NoError(t, d.Status(context.Background(), []string{"node-0"}))

	require.Len(t, runner.runs, 1)
	assert.Equal(t, ansible.PlaybookStatus, runner.runs[0].Playbook)
	assert.Equal(t, statusTasks, runner.runs[0].FilterTasks)
}

func TestRestorePassesPath(t *testing.T) {
	d, _ := openTestDeployer(t, Options{})
	require.NoError(t, d.AddHost("node-0", "198.51.100.7", "root", "", 22))
	runner := &fakeRunner{}
	d.SetRunner(runner)

	require.NoError(t, d.Restore(context.Background(), "node-0", "/backups/node-0"))

	require.Len(t, runner.runs, 1)
	assert.Equal(t, ansible.PlaybookRestore, runner.runs[0].Playbook)
}

func TestDestroy(t *testing.T) {
	fake := registerFake(t, "testcloud")
	seed := true
	d, _ := openTestDeployer(t, Options{SeedNetwork: &seed})
	require.NoError(t, d.CreateNodes(context.Background(), "testcloud",
		[]string{"lynx-testers-0", "lynx-testers-1"}))

	require.NoError(t, d.Destroy(context.Background(), []string{"lynx-testers-0"}))
	assert.Equal(t, []string{"lynx-testers-0"}, fake.destroyed)
	assert.Zero(t, fake.cleanedUp)
	assert.Len(t, d.Config().Instances, 1)

	require.NoError(t, d.Destroy(context.Background(), []string{"lynx-testers-1"}))
	assert.Equal(t, 1, fake.cleanedUp)
	assert.Empty(t, d.Config().Instances)
	assert.Empty(t, d.Config().SeedNode)
}

func TestWorkerDataFileMerge(t *testing.T) {
	dataFile := filepath.Join(t.TempDir(), "worker-data.json")
	require.NoError(t, os.WriteFile(dataFile,
		[]byte(`{"other_key": "preserved", "worker_data": {}}`), 0600))

	d, _ := openTestDeployer(t, Options{WorkerDataFile: dataFile})
	require.NoError(t, d.AddHost("node-0", "198.51.100.7", "root", "", 22))
	d.SetRunner(&fakeRunner{result: &ansible.Result{
		Captured: ansible.OutputCapture{
			"worker address": {{Host: "node-0", Value: "0xdeadbeef"}},
		},
	}})

	require.NoError(t, d.Deploy(context.Background(), []string{"node-0"}, false))

	raw, err := os.ReadFile(dataFile)
	require.NoError(t, err)
	var doc struct {
		OtherKey   string                   `json:"other_key"`
		WorkerData map[string]*InstanceData `json:"worker_data"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "preserved", doc.OtherKey)
	require.Contains(t, doc.WorkerData, "node-0")
	assert.Equal(t, "0xdeadbeef", doc.WorkerData["node-0"].WorkerAddress)
}

func TestListHosts(t *testing.T) {
	d, _ := openTestDeployer(t, Options{})
	require.NoError(t, d.AddHost("zeta", "198.51.100.9", "root", "", 22))
	require.NoError(t, d.AddHost("alpha", "198.51.100.8", "root", "", 22))

	records := d.ListHosts()
	require.Len(t, records, 2)
	assert.Equal(t, "alpha", records[0].Name)
	assert.Equal(t, "zeta", records[1].Name)
}

func TestFormatSSHCommand(t *testing.T) {
	inst := &InstanceData{
		PublicAddress: "198.51.100.7",
		ProviderDeployAttrs: []DeployAttr{
			{Key: "default_user", Value: "ubuntu"},
			{Key: "ansible_port", Value: "2222"},
			{Key: "ansible_ssh_private_key_file", Value: "/keys/id_rsa"},
		},
	}
	assert.Equal(t, `ssh ubuntu@198.51.100.7 -p 2222 -i "/keys/id_rsa"`, FormatSSHCommand(inst))

	bare := &InstanceData{PublicAddress: "198.51.100.7"}
	assert.Equal(t, "ssh root@198.51.100.7", FormatSSHCommand(bare))
}
