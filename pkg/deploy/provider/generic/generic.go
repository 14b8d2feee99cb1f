// Package generic covers operator-managed hosts that were registered with
// `cloudworkers add` rather than provisioned by a cloud API.
package generic

import (
	"context"

	"github.com/nucypher/nucypher-ops/pkg/deploy"
	"github.com/nucypher/nucypher-ops/pkg/emitter"
	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// ProviderName is the registry name for pre-existing hosts.
const ProviderName = "generic"

func init() {
	deploy.MustRegister(ProviderName, New)
}

// Provider is a no-op provisioner: the operator owns the machines, so
// create and destroy only touch the namespace records.
type Provider struct {
	em *emitter.Emitter
}

// New builds the provider; it ignores the config since there is no cloud
// state to manage.
func New(em *emitter.Emitter, _ *deploy.Config, _ func() error) (deploy.Provider, error) {
	return &Provider{em: em}, nil
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) Prepare(context.Context) error { return nil }

// CreateNode always fails: generic hosts carry operator-supplied addresses
// and credentials, which only `cloudworkers add` can record.
func (p *Provider) CreateNode(_ context.Context, nodeName string) (*deploy.InstanceData, error) {
	return nil, opserrors.Newf(opserrors.ErrCodeInvalidRequest,
		"cannot provision %q: register pre-existing hosts with `nucypher-ops cloudworkers add`", nodeName)
}

// DestroyNode leaves the machine alone; the caller removes the record.
func (p *Provider) DestroyNode(_ context.Context, nodeName string, _ *deploy.InstanceData) error {
	p.em.Echof(emitter.ColorYellow,
		"%s is operator-managed; removing it from the namespace without touching the machine", nodeName)
	return nil
}

func (p *Provider) Cleanup(context.Context) error { return nil }
