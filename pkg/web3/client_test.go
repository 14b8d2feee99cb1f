package web3

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientVersion(t *testing.T) {
	tests := []struct {
		raw     string
		kind    Kind
		version string
		wantErr bool
	}{
		{"Geth/v1.4.11-stable-fed692f6/darwin/go1.7", KindGeth, "v1.4.11-stable-fed692f6", false},
		{"Parity//v1.5.0-unstable-9db3f38-20170103/x86_64-linux-gnu/rustc1.14.0", KindParity, "v1.5.0-unstable-9db3f38-20170103", false},
		{"EthereumJS TestRPC/v2.1.5/ethereum-js", KindGanache, "v2.1.5", false},
		{"EthereumTester/0.1.0b39/linux/python3.6.7", KindEthereumTester, "0.1.0b39", false},
		{"Besu/v21.1.0/linux-x86_64/oracle_openjdk-java-11", "", "", true},
	}
	for _, tt := range tests {
		info, err := ParseClientVersion(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.kind, info.Kind)
		assert.Equal(t, tt.version, info.Version)
	}
}

func TestKind_IsLocal(t *testing.T) {
	assert.False(t, KindGeth.IsLocal())
	assert.False(t, KindParity.IsLocal())
	assert.True(t, KindGanache.IsLocal())
	assert.True(t, KindEthereumTester.IsLocal())
}

// fakeNode serves canned JSON-RPC responses per method.
func fakeNode(t *testing.T, responses map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int    `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, ok := responses[req.Method]
		require.True(t, ok, "unexpected method %s", req.Method)
		if fn, isFn := result.(func() any); isFn {
			result = fn()
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestDial_SniffsClientKind(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"web3_clientVersion": "Geth/v1.10.8-stable/linux-amd64/go1.16.7",
		"eth_chainId":        "0x1",
	})
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, KindGeth, client.Version().Kind)
	assert.Equal(t, "v1.10.8-stable", client.Version().Version)

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestDial_UnsupportedTechnology(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"web3_clientVersion": "Nethermind/v1.10.73/linux-x64/dotnet5.0.9",
	})
	defer srv.Close()

	_, err := Dial(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nethermind")
}

func TestBalanceAndSyncProgress(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"web3_clientVersion": "Geth/v1.10.8-stable/linux-amd64/go1.16.7",
		"eth_getBalance":     "0xde0b6b3a7640000", // 1 ether
		"eth_syncing": map[string]string{
			"startingBlock": "0x0",
			"currentBlock":  "0x64",
			"highestBlock":  "0xc8",
		},
	})
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)

	wei, err := client.Balance(context.Background(), "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", wei.String())

	_, err = client.Balance(context.Background(), "not-an-address")
	assert.Error(t, err)

	progress, err := client.SyncProgress(context.Background())
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, uint64(100), progress.CurrentBlock)
	assert.Equal(t, uint64(200), progress.HighestBlock)
}

func TestWaitForSync_CompletesWhenNodeCatchesUp(t *testing.T) {
	var polls atomic.Int64
	srv := fakeNode(t, map[string]any{
		"web3_clientVersion": "Geth/v1.10.8-stable/linux-amd64/go1.16.7",
		"net_peerCount":      "0x3",
		"eth_syncing": func() any {
			if polls.Add(1) < 3 {
				return map[string]string{
					"startingBlock": "0x0",
					"currentBlock":  "0x10",
					"highestBlock":  "0x20",
				}
			}
			return false
		},
	})
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	client.PollInterval = time.Millisecond

	require.NoError(t, client.WaitForSync(context.Background(), 5*time.Second))
	assert.GreaterOrEqual(t, polls.Load(), int64(3))
}

func TestWaitForSync_ZeroTimeoutWaitsIndefinitely(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"web3_clientVersion": "Geth/v1.10.8-stable/linux-amd64/go1.16.7",
		"net_peerCount":      "0x3",
		"eth_syncing":        false,
	})
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	client.PollInterval = time.Millisecond

	// A zero timeout means no deadline, not an expired one.
	require.NoError(t, client.WaitForSync(context.Background(), 0))
}

func TestWaitForSync_LocalClientReturnsImmediately(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"web3_clientVersion": "EthereumJS TestRPC/v2.1.5/ethereum-js",
	})
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NoError(t, client.WaitForSync(context.Background(), time.Millisecond))
}
