package ursula

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

const statusBody = `{
	"nickname": "Steel Swordfish",
	"checksum_address": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	"rest_url": "203.0.113.9:9151",
	"version": "6.0.0",
	"domain": "lynx",
	"fleet_state": "complete",
	"known_nodes": [
		{"nickname": "Crimson Falcon", "rest_url": "203.0.113.10:9151"},
		{"nickname": "Golden Otter", "rest_url": "203.0.113.11:9151"}
	]
}`

func TestStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("json"))
		fmt.Fprint(w, statusBody)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	status, err := c.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Steel Swordfish", status.Nickname)
	assert.Equal(t, "6.0.0", status.Version)
	assert.Equal(t, "lynx", status.Domain)
	require.Len(t, status.KnownNodes, 2)
	assert.Equal(t, "Crimson Falcon", status.KnownNodes[0].Nickname)
}

func TestKnownNodes(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, statusBody)
	}))
	defer srv.Close()

	nodes, err := NewClient(srv.URL).KnownNodes(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestStatusUnreachable(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Status(context.Background())
	require.Error(t, err)
	assert.Equal(t, opserrors.ErrCodeUnavailable, opserrors.Code(err))
}

func TestStatusServerError(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Status(context.Background())
	require.Error(t, err)
	assert.Equal(t, opserrors.ErrCodeUnavailable, opserrors.Code(err))
}
