package deploy

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nucypher/nucypher-ops/pkg/ansible"
	"github.com/nucypher/nucypher-ops/pkg/emitter"
	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// DefaultNamespace groups hosts that were not given an explicit namespace.
const DefaultNamespace = "local-stakeholders"

// captureKeys are the labels the worker playbooks announce per host.
var captureKeys = []string{"worker address", "rest url", "nucypher version", "nickname"}

// statusTasks are the only tasks echoed during status runs.
var statusTasks = []string{"Print Ursula Status Result", "Print Last Log Line"}

// maxConcurrentProvisions bounds parallel instance creation per run.
const maxConcurrentProvisions = 4

// Options configure opening a namespace. Pointer fields distinguish "not
// given" from explicit false.
type Options struct {
	BlockchainProvider string
	Image              string
	SentryDSN          string
	GasStrategy        string
	SeedNetwork        *bool
	Prometheus         *bool
	WorkerDataFile     string

	// RequireExisting refuses to initialize a fresh namespace; operations
	// on existing fleets set this.
	RequireExisting bool
}

// hostOverrides are the values explicitly given on this invocation; only
// these replace already-set per-host values.
type hostOverrides struct {
	BlockchainProvider string
	Image              string
	SentryDSN          string
	GasStrategy        string
}

// playbookRunner abstracts ansible execution for tests.
type playbookRunner interface {
	Run(ctx context.Context, opts ansible.RunOptions) (*ansible.Result, error)
}

// Deployer operates one namespace of worker hosts.
type Deployer struct {
	em     *emitter.Emitter
	store  *Store
	runner playbookRunner

	network   string
	namespace string
	cfg       *Config
	overrides hostOverrides

	createdNew bool
	// readyDelay is the settle time granted to freshly created hosts
	// before the first playbook run. Tests shorten it.
	readyDelay time.Duration
}

// Open loads or initializes a namespace and applies invocation options.
func Open(em *emitter.Emitter, store *Store, network, namespace string, opts Options) (*Deployer, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	d := &Deployer{
		em:         em,
		store:      store,
		network:    network,
		namespace:  namespace,
		readyDelay: 30 * time.Second,
	}

	if store.Exists(network, namespace) {
		cfg, err := store.Load(network, namespace)
		if err != nil {
			return nil, err
		}
		d.cfg = cfg
	} else {
		if opts.RequireExisting {
			return nil, opserrors.Newf(opserrors.ErrCodeNotFound,
				"namespace %q does not exist for network %q; list namespaces with `nucypher-ops cloudworkers list-namespaces`",
				namespace, network)
		}
		label := fmt.Sprintf("%s-%s-%s", network, namespace, time.Now().UTC().Format("2006-01-02"))
		em.Echof(emitter.ColorNone, "Configuring cloud deployer with namespace: %q", label)
		d.cfg = &Config{
			Namespace:       label,
			KeyringPassword: randomSecret(),
			EthPassword:     randomSecret(),
		}
	}

	d.overrides = hostOverrides{
		BlockchainProvider: opts.BlockchainProvider,
		Image:              opts.Image,
		SentryDSN:          opts.SentryDSN,
		GasStrategy:        opts.GasStrategy,
	}
	d.applyOptions(opts)

	if err := d.save(); err != nil {
		return nil, err
	}
	em.Echof(emitter.ColorNone, "using config file: %q", store.ConfigPath(network, namespace))
	managedHosts.WithLabelValues(network, namespace).Set(float64(len(d.cfg.Instances)))
	return d, nil
}

// applyOptions folds invocation options into the namespace defaults:
// explicit values win, existing values persist, gaps get defaults.
func (d *Deployer) applyOptions(opts Options) {
	cfg := d.cfg
	if opts.BlockchainProvider != "" {
		cfg.BlockchainProvider = opts.BlockchainProvider
	}
	if cfg.BlockchainProvider == "" {
		// Nodes without a remote provider run their own geth container.
		cfg.BlockchainProvider = DefaultGethProvider(ChainName(d.network))
	}
	if opts.Image != "" {
		cfg.Image = opts.Image
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if opts.SentryDSN != "" {
		cfg.SentryDSN = opts.SentryDSN
	}
	if opts.GasStrategy != "" {
		cfg.GasStrategy = opts.GasStrategy
	}
	if opts.SeedNetwork != nil {
		cfg.SeedNetwork = *opts.SeedNetwork
	}
	if !cfg.SeedNetwork {
		cfg.SeedNode = ""
	}
	if opts.Prometheus != nil {
		cfg.Prometheus = *opts.Prometheus
	}
	if opts.WorkerDataFile != "" {
		cfg.WorkerDataFile = opts.WorkerDataFile
	}
}

// Config exposes the namespace state to list commands and the ops API.
func (d *Deployer) Config() *Config { return d.cfg }

// Network returns the namespace's network name.
func (d *Deployer) Network() string { return d.network }

// SetRunner replaces the playbook runner; tests install fakes here.
func (d *Deployer) SetRunner(r playbookRunner) { d.runner = r }

// SetReadyDelay overrides the settle time for new hosts.
func (d *Deployer) SetReadyDelay(delay time.Duration) { d.readyDelay = delay }

func (d *Deployer) save() error {
	return d.store.Save(d.network, d.namespace, d.cfg)
}

func (d *Deployer) playbookRunner() playbookRunner {
	if d.runner == nil {
		d.runner = ansible.NewRunner(d.em)
	}
	return d.runner
}

// CreateNodes ensures instances exist for every name, provisioning the
// missing ones in parallel on the named provider.
func (d *Deployer) CreateNodes(ctx context.Context, providerName string, names []string) error {
	d.em.Echof(emitter.ColorNone, "ensuring cloud nodes exist for the following %d node names:", len(names))
	for _, name := range names {
		d.em.Echo("\t" + name)
	}

	var missing []string
	for _, name := range names {
		if _, ok := d.cfg.Instances[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var mu sync.Mutex
	provider, err := NewProvider(providerName, d.em, d.cfg, func() error {
		mu.Lock()
		defer mu.Unlock()
		return d.save()
	})
	if err != nil {
		return err
	}
	if err := provider.Prepare(ctx); err != nil {
		return err
	}

	if d.cfg.Instances == nil {
		d.cfg.Instances = make(map[string]*InstanceData)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProvisions)
	for _, name := range missing {
		g.Go(func() error {
			d.em.Echof(emitter.ColorYellow, "creating new node for %s", name)
			start := time.Now()

			inst, err := provider.CreateNode(ctx, name)
			provisionDuration.WithLabelValues(providerName).Observe(time.Since(start).Seconds())
			if err != nil {
				provisionTotal.WithLabelValues(providerName, "error").Inc()
				return opserrors.WrapWithContext(opserrors.ErrCodeProvider,
					fmt.Sprintf("failed to create node %s", name), err,
					map[string]any{"provider": providerName})
			}
			provisionTotal.WithLabelValues(providerName, "success").Inc()
			inst.Provider = providerName

			mu.Lock()
			defer mu.Unlock()
			d.cfg.Instances[name] = inst
			if d.cfg.SeedNetwork && d.cfg.SeedNode == "" {
				d.cfg.SeedNode = inst.PublicAddress
			}
			d.createdNew = true
			return d.save()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	managedHosts.WithLabelValues(d.network, d.namespace).Set(float64(len(d.cfg.Instances)))
	return nil
}

// AddHost records an operator-supplied host under the generic provider.
func (d *Deployer) AddHost(name, address, login, keyPath string, sshPort int) error {
	if d.cfg.Instances == nil {
		d.cfg.Instances = make(map[string]*InstanceData)
	}

	inst, exists := d.cfg.Instances[name]
	if exists {
		d.em.Echof(emitter.ColorYellow, "host info already exists for %s; updating and proceeding", name)
	} else {
		inst = &InstanceData{}
	}

	inst.PublicAddress = address
	inst.Provider = "generic"
	attrs := []DeployAttr{{Key: "default_user", Value: login}}
	if keyPath != "" {
		attrs = append(attrs, DeployAttr{Key: "ansible_ssh_private_key_file", Value: keyPath})
	}
	if sshPort != 0 {
		attrs = append(attrs, DeployAttr{Key: "ansible_port", Value: strconv.Itoa(sshPort)})
	}
	inst.ProviderDeployAttrs = attrs

	d.cfg.Instances[name] = inst
	if d.cfg.SeedNetwork && d.cfg.SeedNode == "" {
		d.cfg.SeedNode = inst.PublicAddress
	}
	d.createdNew = true
	managedHosts.WithLabelValues(d.network, d.namespace).Set(float64(len(d.cfg.Instances)))
	return d.save()
}

// applyHostOverrides pushes invocation overrides down to the named hosts,
// backfilling unset per-host values from the namespace defaults.
func (d *Deployer) applyHostOverrides(names []string) error {
	for _, name := range names {
		inst, ok := d.cfg.Instances[name]
		if !ok {
			continue
		}
		applyOverride(&inst.BlockchainProvider, d.overrides.BlockchainProvider, d.cfg.BlockchainProvider)
		applyOverride(&inst.Image, d.overrides.Image, d.cfg.Image)
		applyOverride(&inst.SentryDSN, d.overrides.SentryDSN, d.cfg.SentryDSN)
		applyOverride(&inst.GasStrategy, d.overrides.GasStrategy, d.cfg.GasStrategy)
	}
	return d.save()
}

// applyOverride replaces a per-host value only when explicitly given this
// invocation; otherwise an unset value inherits the namespace default.
func applyOverride(field *string, explicit, fallback string) {
	if explicit != "" {
		*field = explicit
	} else if *field == "" {
		*field = fallback
	}
}

// buildInventory writes the inventory for the named hosts and returns its
// path.
func (d *Deployer) buildInventory(names []string, extras InventoryExtras) (string, error) {
	if d.cfg.SeedNetwork && d.cfg.SeedNode == "" && len(d.cfg.Instances) > 0 {
		// Seed node creation raced an earlier run; pin the first host.
		d.cfg.SeedNode = d.cfg.Instances[d.cfg.HostNames()[0]].PublicAddress
		if err := d.save(); err != nil {
			return "", err
		}
	}

	inv, err := BuildInventory(d.network, d.cfg, names, extras)
	if err != nil {
		return "", err
	}
	path := d.store.InventoryPath(d.cfg.Namespace)
	if err := inv.Write(path); err != nil {
		return "", err
	}
	d.em.Echof(emitter.ColorYellow, "using inventory file at %s", path)
	return path, nil
}

func (d *Deployer) runPlaybook(ctx context.Context, playbook string, names []string, extras InventoryExtras, filterTasks []string) error {
	if err := d.applyHostOverrides(names); err != nil {
		return err
	}

	inventory, err := d.buildInventory(names, extras)
	if err != nil {
		return err
	}

	if d.createdNew && d.readyDelay > 0 {
		d.em.Echo("--- Giving newly created nodes some time to get ready ----")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.readyDelay):
		}
		d.createdNew = false
	}

	result, err := d.playbookRunner().Run(ctx, ansible.RunOptions{
		Playbook:    playbook,
		Inventory:   inventory,
		CaptureKeys: captureKeys,
		FilterTasks: filterTasks,
	})
	if result != nil {
		if captureErr := d.updateCaptured(result.Captured); captureErr != nil {
			slog.Warn("failed to record captured host data", "error", captureErr)
		}
	}
	if err != nil {
		return err
	}

	d.sshHints(names)
	return nil
}

// Deploy installs and starts workers on the named hosts.
func (d *Deployer) Deploy(ctx context.Context, names []string, wipe bool) error {
	d.em.Echo("Running ansible deployment for all running nodes.", emitter.ColorGreen)
	return d.runPlaybook(ctx, ansible.PlaybookSetup, names, InventoryExtras{WipeNucypher: wipe}, nil)
}

// Update refreshes the worker containers on the named hosts.
func (d *Deployer) Update(ctx context.Context, names []string) error {
	d.em.Echo("Running ansible update for all running nodes.", emitter.ColorGreen)
	return d.runPlaybook(ctx, ansible.PlaybookUpdate, names, InventoryExtras{}, nil)
}

// Status queries and echoes worker status for the named hosts.
func (d *Deployer) Status(ctx context.Context, names []string) error {
	d.em.Echo("Running ansible status playbook.", emitter.ColorGreen)
	return d.runPlaybook(ctx, ansible.PlaybookStatus, names, InventoryExtras{}, statusTasks)
}

// Logs echoes recent worker logs for the named hosts.
func (d *Deployer) Logs(ctx context.Context, names []string) error {
	d.em.Echo("Running ansible logs playbook.", emitter.ColorGreen)
	return d.runPlaybook(ctx, ansible.PlaybookLogs, names, InventoryExtras{}, nil)
}

// Backup pulls worker state from the named hosts to the local backup dir.
func (d *Deployer) Backup(ctx context.Context, names []string) error {
	return d.runPlaybook(ctx, ansible.PlaybookBackup, names, InventoryExtras{}, nil)
}

// Restore pushes a backed-up worker state directory onto a single host.
func (d *Deployer) Restore(ctx context.Context, targetHost, sourcePath string) error {
	return d.runPlaybook(ctx, ansible.PlaybookRestore, []string{targetHost}, InventoryExtras{RestorePath: sourcePath}, nil)
}

// Destroy tears down the named instances via the providers that created
// them, cleaning up shared provider resources once emptied.
func (d *Deployer) Destroy(ctx context.Context, names []string) error {
	byProvider := make(map[string][]string)
	for _, name := range names {
		inst, ok := d.cfg.Instances[name]
		if !ok {
			d.em.Echof(emitter.ColorYellow, "no instance named %q in this namespace, skipping", name)
			continue
		}
		byProvider[inst.Provider] = append(byProvider[inst.Provider], name)
	}

	providerNames := make([]string, 0, len(byProvider))
	for p := range byProvider {
		providerNames = append(providerNames, p)
	}
	sort.Strings(providerNames)

	for _, providerName := range providerNames {
		provider, err := NewProvider(providerName, d.em, d.cfg, d.save)
		if err != nil {
			return err
		}

		targets := byProvider[providerName]
		sort.Strings(targets)
		d.em.Echof(emitter.ColorNone, "Destroying %s instances for nodes: %s", providerName, joinNames(targets))
		for _, name := range targets {
			inst := d.cfg.Instances[name]
			if err := provider.DestroyNode(ctx, name, inst); err != nil {
				return opserrors.WrapWithContext(opserrors.ErrCodeProvider,
					fmt.Sprintf("failed to destroy node %s", name), err,
					map[string]any{"provider": providerName})
			}
			d.em.Echof(emitter.ColorNone, "\tdestroyed instance for %s", name)
			delete(d.cfg.Instances, name)
			if d.cfg.SeedNode == inst.PublicAddress {
				d.cfg.SeedNode = ""
			}
			if err := d.save(); err != nil {
				return err
			}
		}

		if !d.hasInstancesFor(providerName) {
			if err := provider.Cleanup(ctx); err != nil {
				return err
			}
			d.em.Echof(emitter.ColorGreen,
				"deleted all requested resources for %s. We are clean. No money is being spent.", providerName)
		}
	}

	managedHosts.WithLabelValues(d.network, d.namespace).Set(float64(len(d.cfg.Instances)))
	return d.save()
}

func (d *Deployer) hasInstancesFor(providerName string) bool {
	for _, inst := range d.cfg.Instances {
		if inst.Provider == providerName {
			return true
		}
	}
	return false
}

// HostRecord pairs an instance name with its record for listings.
type HostRecord struct {
	Name string `json:"name" yaml:"name"`
	InstanceData
}

// ListHosts returns the namespace's instances sorted by name.
func (d *Deployer) ListHosts() []HostRecord {
	records := make([]HostRecord, 0, len(d.cfg.Instances))
	for _, name := range d.cfg.HostNames() {
		records = append(records, HostRecord{Name: name, InstanceData: *d.cfg.Instances[name]})
	}
	return records
}

// updateCaptured folds playbook-announced values back into the instance
// records. Ansible reports results under the inventory host name, which is
// the instance name.
func (d *Deployer) updateCaptured(captured ansible.OutputCapture) error {
	if len(captured) == 0 {
		return nil
	}

	changed := false
	for key, values := range captured {
		for _, cv := range values {
			inst, ok := d.cfg.Instances[cv.Host]
			if !ok {
				continue
			}
			switch key {
			case "worker address":
				inst.WorkerAddress = cv.Value
			case "rest url":
				inst.RestURL = cv.Value
			case "nucypher version":
				inst.NucypherVersion = cv.Value
			case "nickname":
				inst.Nickname = cv.Value
			default:
				continue
			}
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := d.save(); err != nil {
		return err
	}
	return d.updateWorkerDataFile()
}

// updateWorkerDataFile merges instance records into the configured worker
// data file, preserving unrelated content.
func (d *Deployer) updateWorkerDataFile() error {
	if d.cfg.WorkerDataFile == "" {
		return nil
	}

	doc := map[string]json.RawMessage{}
	if data, err := os.ReadFile(d.cfg.WorkerDataFile); err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("malformed worker data file %s: %w", d.cfg.WorkerDataFile, err)
		}
	}

	workerData := map[string]*InstanceData{}
	if raw, ok := doc["worker_data"]; ok {
		if err := json.Unmarshal(raw, &workerData); err != nil {
			return fmt.Errorf("malformed worker_data in %s: %w", d.cfg.WorkerDataFile, err)
		}
	}
	for name, inst := range d.cfg.Instances {
		workerData[name] = inst
	}

	merged, err := json.Marshal(workerData)
	if err != nil {
		return err
	}
	doc["worker_data"] = merged

	out, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.cfg.WorkerDataFile, out, 0600)
}

// sshHints prints ready-to-paste ssh commands for the named hosts.
func (d *Deployer) sshHints(names []string) {
	d.em.Echo("You may wish to ssh into your running hosts:")
	for _, name := range names {
		inst, ok := d.cfg.Instances[name]
		if !ok {
			continue
		}
		d.em.Echo("\t "+FormatSSHCommand(inst), emitter.ColorYellow)
	}
}

// FormatSSHCommand renders the ssh invocation for a host from its deploy
// attrs.
func FormatSSHCommand(inst *InstanceData) string {
	user := inst.Attr("default_user")
	if user == "" {
		user = "root"
	}
	cmd := fmt.Sprintf("ssh %s@%s", user, inst.PublicAddress)
	if port := inst.Attr("ansible_port"); port != "" && port != "22" {
		cmd += " -p " + port
	}
	if key := inst.Attr("ansible_ssh_private_key_file"); key != "" {
		cmd += fmt.Sprintf(" -i %q", key)
	}
	return cmd
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += " "
		}
		out += n
	}
	return out
}

// randomSecret generates the keystore and wallet passwords baked into new
// namespaces.
func randomSecret() string {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		panic("deploy: crypto/rand unavailable: " + err.Error())
	}
	return base64.StdEncoding.EncodeToString(buf)
}
