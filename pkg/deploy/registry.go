package deploy

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/nucypher/nucypher-ops/pkg/emitter"
	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// Provider provisions and tears down hosts on one cloud platform.
type Provider interface {
	// Name is the provider's registry name.
	Name() string

	// Prepare validates credentials and ensures shared resources (VPCs,
	// keypairs, regions) exist before instance creation.
	Prepare(ctx context.Context) error

	// CreateNode provisions a host and returns its instance record. The
	// record's deploy attrs must be populated.
	CreateNode(ctx context.Context, nodeName string) (*InstanceData, error)

	// DestroyNode tears down a single host.
	DestroyNode(ctx context.Context, nodeName string, inst *InstanceData) error

	// Cleanup removes shared resources once the provider has no instances
	// left in the namespace.
	Cleanup(ctx context.Context) error
}

// Factory builds a provider bound to a namespace config. The save callback
// persists config mutations made while provisioning.
type Factory func(em *emitter.Emitter, cfg *Config, save func() error) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// MustRegister adds a provider factory to the global registry. It panics on
// duplicate names and is intended for use from provider init functions.
func MustRegister(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic("deploy: provider already registered: " + name)
	}
	registry[name] = factory
}

// NewProvider instantiates a registered provider by name. Unknown names get
// a close-match suggestion when one exists.
func NewProvider(name string, em *emitter.Emitter, cfg *Config, save func() error) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		if suggestion := closestProviderName(name); suggestion != "" {
			return nil, opserrors.Newf(opserrors.ErrCodeInvalidRequest,
				"unknown cloud provider %q. Did you mean %q?", name, suggestion)
		}
		return nil, opserrors.Newf(opserrors.ErrCodeInvalidRequest,
			"unknown cloud provider %q (registered providers: %s)", name, strings.Join(ProviderNames(), ", "))
	}
	return factory(em, cfg, save)
}

// ProviderNames returns the registered provider names, sorted.
func ProviderNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func closestProviderName(name string) string {
	best, bestDistance := "", len(name)+1
	for _, candidate := range ProviderNames() {
		d := levenshtein.ComputeDistance(strings.ToLower(name), candidate)
		if d < bestDistance {
			best, bestDistance = candidate, d
		}
	}
	if best == "" || bestDistance*2 > len(best) {
		return ""
	}
	return best
}
