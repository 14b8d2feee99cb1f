// Package web3 implements a minimal Ethereum JSON-RPC client: enough to
// identify the node software behind a provider endpoint, watch its sync
// progress, and read accounts and balances for deployment checks.
package web3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// Kind identifies the node software reported by web3_clientVersion.
type Kind string

const (
	KindGeth           Kind = "Geth"
	KindParity         Kind = "Parity"
	KindGanache        Kind = "EthereumJS TestRPC"
	KindEthereumTester Kind = "EthereumTester"
)

// IsLocal reports whether the client kind is an in-memory test chain that
// never syncs.
func (k Kind) IsLocal() bool {
	return k == KindGanache || k == KindEthereumTester
}

// VersionInfo is the parsed form of a web3_clientVersion string.
//
// Geth:    "Geth/v1.4.11-stable-fed692f6/darwin/go1.7"
// Parity:  "Parity//v1.5.0-unstable-9db3f38-20170103/x86_64-linux-gnu/rustc1.14.0"
// Ganache: "EthereumJS TestRPC/v2.1.5/ethereum-js"
type VersionInfo struct {
	Kind    Kind
	Version string
	Backend string
	Raw     string
}

// ParseClientVersion parses a client version string and identifies the node
// technology. Unknown technologies are an error.
func ParseClientVersion(raw string) (VersionInfo, error) {
	fields := strings.Split(raw, "/")
	info := VersionInfo{Kind: Kind(fields[0]), Raw: raw}

	switch info.Kind {
	case KindParity:
		// Parity emits an empty second field before the version.
		if len(fields) < 4 {
			return info, fmt.Errorf("unexpected client version string %q", raw)
		}
		info.Version = fields[2]
		info.Backend = fields[len(fields)-1]
	case KindGeth, KindGanache, KindEthereumTester:
		if len(fields) < 2 {
			return info, fmt.Errorf("unexpected client version string %q", raw)
		}
		info.Version = fields[1]
		info.Backend = fields[len(fields)-1]
	default:
		return info, opserrors.Newf(opserrors.ErrCodeInvalidRequest,
			"unsupported node technology %q in client version %q", fields[0], raw)
	}
	return info, nil
}

// SyncProgress describes an in-flight chain sync.
type SyncProgress struct {
	StartingBlock uint64
	CurrentBlock  uint64
	HighestBlock  uint64
}

// Client talks JSON-RPC over HTTP to a single Ethereum provider.
type Client struct {
	endpoint string
	http     *http.Client
	info     VersionInfo

	// PollInterval controls sync/peer polling cadence. Tests shorten it.
	PollInterval time.Duration
}

// Dial connects to an HTTP JSON-RPC endpoint and identifies the node
// software behind it.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	c := &Client{
		endpoint:     endpoint,
		http:         &http.Client{Timeout: 30 * time.Second},
		PollInterval: time.Second,
	}

	var raw string
	if err := c.call(ctx, "web3_clientVersion", nil, &raw); err != nil {
		return nil, opserrors.Wrap(opserrors.ErrCodeUnavailable,
			fmt.Sprintf("could not connect to provider %s", endpoint), err)
	}

	info, err := ParseClientVersion(raw)
	if err != nil {
		return nil, err
	}
	c.info = info
	slog.Debug("connected to ethereum provider",
		slog.String("endpoint", endpoint),
		slog.String("client", string(info.Kind)),
		slog.String("version", info.Version),
	)
	return c, nil
}

// Version returns the parsed client version of the connected node.
func (c *Client) Version() VersionInfo { return c.info }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc call %s returned status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode rpc response for %s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error from %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// ChainID returns the chain ID reported by the node.
func (c *Client) ChainID(ctx context.Context) (int64, error) {
	var raw string
	if err := c.call(ctx, "eth_chainId", nil, &raw); err != nil {
		return 0, err
	}
	id, err := parseHexUint(raw)
	if err != nil {
		return 0, err
	}
	return int64(id), nil
}

// Accounts returns the accounts managed by the node.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := c.call(ctx, "eth_accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Balance returns the latest balance of an address in wei.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !IsHexAddress(address) {
		return nil, opserrors.Newf(opserrors.ErrCodeInvalidRequest, "invalid ethereum address %q", address)
	}
	var raw string
	if err := c.call(ctx, "eth_getBalance", []any{address, "latest"}, &raw); err != nil {
		return nil, err
	}
	wei, ok := new(big.Int).SetString(strings.TrimPrefix(raw, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("malformed balance %q", raw)
	}
	return wei, nil
}

// PeerCount returns the number of connected peers.
func (c *Client) PeerCount(ctx context.Context) (uint64, error) {
	var raw string
	if err := c.call(ctx, "net_peerCount", nil, &raw); err != nil {
		return 0, err
	}
	return parseHexUint(raw)
}

// SyncProgress returns the current sync progress, or nil when the node is
// not syncing.
func (c *Client) SyncProgress(ctx context.Context) (*SyncProgress, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "eth_syncing", nil, &raw); err != nil {
		return nil, err
	}

	var notSyncing bool
	if err := json.Unmarshal(raw, &notSyncing); err == nil {
		return nil, nil
	}

	var progress struct {
		StartingBlock string `json:"startingBlock"`
		CurrentBlock  string `json:"currentBlock"`
		HighestBlock  string `json:"highestBlock"`
	}
	if err := json.Unmarshal(raw, &progress); err != nil {
		return nil, fmt.Errorf("malformed eth_syncing result: %w", err)
	}

	p := &SyncProgress{}
	var err error
	if p.StartingBlock, err = parseHexUint(progress.StartingBlock); err != nil {
		return nil, err
	}
	if p.CurrentBlock, err = parseHexUint(progress.CurrentBlock); err != nil {
		return nil, err
	}
	if p.HighestBlock, err = parseHexUint(progress.HighestBlock); err != nil {
		return nil, err
	}
	return p, nil
}

// peerTimeout caps the initial wait for any peer to appear.
const peerTimeout = 30 * time.Second

// WaitForSync blocks until the node has finished syncing, up to timeout.
// A zero timeout waits indefinitely. Local test chains return immediately.
func (c *Client) WaitForSync(ctx context.Context, timeout time.Duration) error {
	if c.info.Kind.IsLocal() {
		return nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	slog.Info("waiting for ethereum peers")
	peerDeadline := time.Now().Add(peerTimeout)
	for {
		peers, err := c.PeerCount(ctx)
		if err != nil {
			return err
		}
		if peers > 0 {
			break
		}
		if time.Now().After(peerDeadline) {
			return opserrors.New(opserrors.ErrCodeTimeout, "timed out waiting for ethereum peers")
		}
		if err := sleepCtx(ctx, c.PollInterval); err != nil {
			return err
		}
	}

	for {
		progress, err := c.SyncProgress(ctx)
		if err != nil {
			return err
		}
		if progress == nil {
			slog.Info("ethereum node is in sync")
			return nil
		}
		slog.Info("syncing",
			slog.Uint64("current", progress.CurrentBlock),
			slog.Uint64("highest", progress.HighestBlock),
		)
		if err := sleepCtx(ctx, c.PollInterval); err != nil {
			if ctx.Err() != nil {
				return opserrors.Wrap(opserrors.ErrCodeTimeout, "timed out waiting for chain sync", ctx.Err())
			}
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseHexUint(raw string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed hex quantity %q: %w", raw, err)
	}
	return v, nil
}
