package deploy

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucypher/nucypher-ops/pkg/emitter"
	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// fakeProvider records provisioning calls for assertions.
type fakeProvider struct {
	name      string
	prepared  int
	created   []string
	destroyed []string
	cleanedUp int

	createErr error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Prepare(context.Context) error {
	f.prepared++
	return nil
}

func (f *fakeProvider) CreateNode(_ context.Context, nodeName string) (*InstanceData, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, nodeName)
	return &InstanceData{
		PublicAddress: fmt.Sprintf("192.0.2.%d", len(f.created)),
		InstanceID:    "i-" + nodeName,
		ProviderDeployAttrs: []DeployAttr{
			{Key: "default_user", Value: "root"},
		},
	}, nil
}

func (f *fakeProvider) DestroyNode(_ context.Context, nodeName string, _ *InstanceData) error {
	f.destroyed = append(f.destroyed, nodeName)
	return nil
}

func (f *fakeProvider) Cleanup(context.Context) error {
	f.cleanedUp++
	return nil
}

func registerFake(t *testing.T, name string) *fakeProvider {
	t.Helper()
	f := &fakeProvider{name: name}
	MustRegister(name, func(*emitter.Emitter, *Config, func() error) (Provider, error) {
		return f, nil
	})
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, name)
		registryMu.Unlock()
	})
	return f
}

func TestRegistryLookup(t *testing.T) {
	fake := registerFake(t, "testcloud")

	p, err := NewProvider("testcloud", emitterForTest(), &Config{}, func() error { return nil })
	require.NoError(t, err)
	assert.Same(t, Provider(fake), p)
}

func TestRegistryDuplicatePanics(t *testing.T) {
	registerFake(t, "dupecloud")
	assert.Panics(t, func() {
		MustRegister("dupecloud", func(*emitter.Emitter, *Config, func() error) (Provider, error) {
			return nil, nil
		})
	})
}

func TestRegistryUnknownSuggestion(t *testing.T) {
	registerFake(t, "testcloud")

	_, err := NewProvider("testclod", emitterForTest(), &Config{}, func() error { return nil })
	require.Error(t, err)
	assert.Equal(t, opserrors.ErrCodeInvalidRequest, opserrors.Code(err))
	assert.Contains(t, err.Error(), `Did you mean "testcloud"?`)
}

func TestRegistryUnknownNoSuggestion(t *testing.T) {
	registerFake(t, "testcloud")

	_, err := NewProvider("gibberish", emitterForTest(), &Config{}, func() error { return nil })
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "Did you mean")
}
