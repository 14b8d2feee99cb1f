// Package digitalocean provisions worker droplets through the DigitalOcean
// REST API.
package digitalocean

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"golang.org/x/time/rate"

	"github.com/nucypher/nucypher-ops/pkg/deploy"
	"github.com/nucypher/nucypher-ops/pkg/emitter"
	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// ProviderName is the registry name for DigitalOcean.
const ProviderName = "digitalocean"

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.digitalocean.com"

// DefaultRegion hosts droplets when no region is configured.
const DefaultRegion = "SFO3"

// dropletImage is the OS image for new droplets.
const dropletImage = "ubuntu-20-04-x64"

// Droplet sizes by node flavor. Decentralized nodes run a local geth and
// need the larger slug.
const (
	sizeDecentralized = "s-2vcpu-4gb"
	sizeFederated     = "s-1vcpu-2gb"
)

const regionParam = "digitalocean_region"

func init() {
	deploy.MustRegister(ProviderName, func(em *emitter.Emitter, cfg *deploy.Config, save func() error) (deploy.Provider, error) {
		return New(em, cfg, save), nil
	})
}

// Provider provisions droplets for a namespace.
type Provider struct {
	em   *emitter.Emitter
	cfg  *deploy.Config
	save func() error

	// BaseURL and Client are overridable for tests.
	BaseURL string
	Client  *http.Client

	// pollLimiter spaces out droplet status polls; the API rate-limits
	// aggressively.
	pollLimiter *rate.Limiter

	token          string
	sshFingerprint string
}

// New builds a DigitalOcean provider bound to a namespace config.
func New(em *emitter.Emitter, cfg *deploy.Config, save func() error) *Provider {
	return &Provider{
		em:          em,
		cfg:         cfg,
		save:        save,
		BaseURL:     DefaultBaseURL,
		Client:      &http.Client{Timeout: 30 * time.Second},
		pollLimiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

func (p *Provider) Name() string { return ProviderName }

// Prepare resolves the API token, ssh key fingerprint, and region,
// prompting for credentials that are not in the environment.
func (p *Provider) Prepare(ctx context.Context) error {
	token := os.Getenv("DIGITALOCEAN_ACCESS_TOKEN")
	if token == "" {
		p.em.Echo("`DIGITALOCEAN_ACCESS_TOKEN` is not set; export it to skip this prompt.", emitter.ColorYellow)
		prompt := &survey.Password{Message: "DigitalOcean API token:"}
		if err := survey.AskOne(prompt, &token, survey.WithValidator(survey.Required)); err != nil {
			return opserrors.Wrap(opserrors.ErrCodeCredentials, "a DigitalOcean API token is required", err)
		}
	}
	p.token = token

	fingerprint := os.Getenv("DIGITAL_OCEAN_KEY_FINGERPRINT")
	if fingerprint == "" {
		p.em.Echo("`DIGITAL_OCEAN_KEY_FINGERPRINT` is not set; export it to skip this prompt.", emitter.ColorYellow)
		prompt := &survey.Input{Message: "Fingerprint of the ssh key registered with DigitalOcean:"}
		if err := survey.AskOne(prompt, &fingerprint, survey.WithValidator(survey.Required)); err != nil {
			return opserrors.Wrap(opserrors.ErrCodeCredentials, "an ssh key fingerprint is required", err)
		}
	}
	p.sshFingerprint = fingerprint

	region := os.Getenv("DIGITALOCEAN_REGION")
	if region == "" {
		region = p.cfg.Param(regionParam)
	}
	if region == "" {
		region = DefaultRegion
	}
	if p.cfg.Param(regionParam) != region {
		p.cfg.SetParam(regionParam, region)
		if err := p.save(); err != nil {
			return err
		}
	}
	p.em.Echof(emitter.ColorNone, "using DigitalOcean region: %s", region)
	return nil
}

type dropletNetworks struct {
	V4 []struct {
		IPAddress string `json:"ip_address"`
		Type      string `json:"type"`
	} `json:"v4"`
}

type droplet struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Status   string          `json:"status"`
	Networks dropletNetworks `json:"networks"`
}

func (d *droplet) publicIP() string {
	for _, n := range d.Networks.V4 {
		if n.Type == "public" {
			return n.IPAddress
		}
	}
	return ""
}

// CreateNode launches a droplet and waits for its public address.
func (p *Provider) CreateNode(ctx context.Context, nodeName string) (*deploy.InstanceData, error) {
	size := sizeFederated
	if p.cfg.Decentralized() {
		size = sizeDecentralized
	}

	payload := map[string]any{
		"name":     nodeName,
		"region":   p.cfg.Param(regionParam),
		"size":     size,
		"image":    dropletImage,
		"ssh_keys": []string{p.sshFingerprint},
	}
	var created struct {
		Droplet droplet `json:"droplet"`
	}
	if err := p.do(ctx, http.MethodPost, "/v2/droplets", payload, http.StatusAccepted, &created); err != nil {
		return nil, err
	}

	p.em.Echof(emitter.ColorYellow, "waiting for droplet %s (id %d) to get an ip address...", nodeName, created.Droplet.ID)
	addr, err := p.waitForAddress(ctx, created.Droplet.ID)
	if err != nil {
		return nil, err
	}
	p.em.Echof(emitter.ColorGreen, "droplet %s is up at %s", nodeName, addr)

	return &deploy.InstanceData{
		PublicAddress: addr,
		InstanceID:    fmt.Sprintf("%d", created.Droplet.ID),
		ProviderDeployAttrs: []deploy.DeployAttr{
			{Key: "default_user", Value: "root"},
		},
	}, nil
}

func (p *Provider) waitForAddress(ctx context.Context, dropletID int) (string, error) {
	for {
		if err := p.pollLimiter.Wait(ctx); err != nil {
			return "", err
		}
		var current struct {
			Droplet droplet `json:"droplet"`
		}
		path := fmt.Sprintf("/v2/droplets/%d", dropletID)
		if err := p.do(ctx, http.MethodGet, path, nil, http.StatusOK, &current); err != nil {
			return "", err
		}
		// A droplet reports a public v4 before it finishes booting; wait for
		// both the address and the active status.
		if current.Droplet.Status != "active" {
			continue
		}
		if addr := current.Droplet.publicIP(); addr != "" {
			return addr, nil
		}
	}
}

// DestroyNode deletes the droplet behind an instance record.
func (p *Provider) DestroyNode(ctx context.Context, nodeName string, inst *deploy.InstanceData) error {
	p.em.Echof(emitter.ColorNone, "destroying droplet for %s (id %s)", nodeName, inst.InstanceID)
	path := "/v2/droplets/" + inst.InstanceID
	return p.do(ctx, http.MethodDelete, path, nil, http.StatusNoContent, nil)
}

// Cleanup drops the persisted region once no droplets remain.
func (p *Provider) Cleanup(context.Context) error {
	p.cfg.DeleteParam(regionParam)
	return p.save()
}

// do issues one authenticated API request and decodes the response.
func (p *Provider) do(ctx context.Context, method, path string, payload any, wantStatus int, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return opserrors.Wrap(opserrors.ErrCodeUnavailable, "DigitalOcean API request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return opserrors.WrapWithContext(opserrors.ErrCodeProvider,
			fmt.Sprintf("DigitalOcean API returned %d for %s %s", resp.StatusCode, method, path),
			fmt.Errorf("%s", bytes.TrimSpace(detail)),
			map[string]any{"status": resp.StatusCode})
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
