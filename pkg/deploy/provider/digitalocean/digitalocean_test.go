package digitalocean

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nucypher/nucypher-ops/pkg/deploy"
	"github.com/nucypher/nucypher-ops/pkg/emitter"
	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// fakeAPI is a minimal droplet endpoint: creation succeeds immediately,
// the droplet gets its public address after a couple of polls.
type fakeAPI struct {
	mu          sync.Mutex
	polls       int
	pollsNeeded int
	deleted     []string
	lastCreate  map[string]any
	lastAuth    string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/droplets", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &f.lastCreate)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"droplet": {"id": 4242, "name": "node-0", "networks": {"v4": []}}}`)
	})
	mux.HandleFunc("GET /v2/droplets/4242", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		if f.polls < f.pollsNeeded {
			// Still booting: the address is already assigned but the droplet
			// is not active yet.
			fmt.Fprint(w, `{"droplet": {"id": 4242, "status": "new", "networks": {"v4": [
				{"ip_address": "203.0.113.9", "type": "public"}
			]}}}`)
			return
		}
		fmt.Fprint(w, `{"droplet": {"id": 4242, "status": "active", "networks": {"v4": [
			{"ip_address": "10.0.0.5", "type": "private"},
			{"ip_address": "203.0.113.9", "type": "public"}
		]}}}`)
	})
	mux.HandleFunc("DELETE /v2/droplets/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deleted = append(f.deleted, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func testProvider(t *testing.T, cfg *deploy.Config) (*Provider, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{pollsNeeded: 3}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	p := New(emitter.New(io.Discard), cfg, func() error { return nil })
	p.BaseURL = srv.URL
	p.Client = srv.Client()
	p.pollLimiter = rate.NewLimiter(rate.Every(time.Millisecond), 1)
	p.token = "do-token"
	p.sshFingerprint = "aa:bb:cc"
	return p, api
}

func TestCreateNodePollsForAddress(t *testing.T) {
	cfg := &deploy.Config{}
	cfg.SetParam(regionParam, "SFO3")
	p, api := testProvider(t, cfg)

	inst, err := p.CreateNode(context.Background(), "node-0")
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.9", inst.PublicAddress)
	assert.Equal(t, "4242", inst.InstanceID)
	assert.Equal(t, "root", inst.Attr("default_user"))
	// All polls before the droplet turns active are waited out, even though
	// the public address shows up earlier.
	assert.GreaterOrEqual(t, api.polls, 3)

	assert.Equal(t, "Bearer do-token", api.lastAuth)
	assert.Equal(t, "node-0", api.lastCreate["name"])
	assert.Equal(t, "SFO3", api.lastCreate["region"])
	assert.Equal(t, "ubuntu-20-04-x64", api.lastCreate["image"])
}

func TestCreateNodeSizeByFlavor(t *testing.T) {
	federated := &deploy.Config{BlockchainProvider: "https://rpc.example.com"}
	p, api := testProvider(t, federated)
	_, err := p.CreateNode(context.Background(), "node-0")
	require.NoError(t, err)
	assert.Equal(t, sizeFederated, api.lastCreate["size"])

	decentralized := &deploy.Config{BlockchainProvider: deploy.DefaultGethProvider("goerli")}
	p, api = testProvider(t, decentralized)
	_, err = p.CreateNode(context.Background(), "node-0")
	require.NoError(t, err)
	assert.Equal(t, sizeDecentralized, api.lastCreate["size"])
}

func TestDestroyNode(t *testing.T) {
	p, api := testProvider(t, &deploy.Config{})

	err := p.DestroyNode(context.Background(), "node-0", &deploy.InstanceData{InstanceID: "4242"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/v2/droplets/4242"}, api.deleted)
}

func TestAPIErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"id": "Unauthorized", "message": "Unable to authenticate you"}`)
	}))
	defer srv.Close()

	p := New(emitter.New(io.Discard), &deploy.Config{}, func() error { return nil })
	p.BaseURL = srv.URL
	p.Client = srv.Client()
	p.token = "bad-token"

	_, err := p.CreateNode(context.Background(), "node-0")
	require.Error(t, err)
	assert.Equal(t, opserrors.ErrCodeProvider, opserrors.Code(err))
	assert.Contains(t, err.Error(), "Unable to authenticate you")
}

func TestPrepareReadsCredentialsFromEnvironment(t *testing.T) {
	t.Setenv("DIGITALOCEAN_ACCESS_TOKEN", "do-token")
	t.Setenv("DIGITAL_OCEAN_KEY_FINGERPRINT", "aa:bb:cc")
	t.Setenv("DIGITALOCEAN_REGION", "NYC1")

	cfg := &deploy.Config{}
	saved := false
	p := New(emitter.New(io.Discard), cfg, func() error { saved = true; return nil })

	require.NoError(t, p.Prepare(context.Background()))
	assert.Equal(t, "do-token", p.token)
	assert.Equal(t, "aa:bb:cc", p.sshFingerprint)
	assert.Equal(t, "NYC1", cfg.Param(regionParam))
	assert.True(t, saved)
}

func TestCleanupDropsRegion(t *testing.T) {
	cfg := &deploy.Config{}
	cfg.SetParam(regionParam, "SFO3")
	saved := false
	p := New(emitter.New(io.Discard), cfg, func() error { saved = true; return nil })

	require.NoError(t, p.Cleanup(context.Background()))
	assert.Empty(t, cfg.Param(regionParam))
	assert.True(t, saved)
}
