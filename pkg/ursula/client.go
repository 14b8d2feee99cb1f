package ursula

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// KnownNode is one entry of a node's peer table.
type KnownNode struct {
	Nickname        string `json:"nickname"`
	ChecksumAddress string `json:"checksum_address"`
	RestURL         string `json:"rest_url"`
	Timestamp       string `json:"timestamp"`
}

// NodeStatus is the response of a worker's /status endpoint.
type NodeStatus struct {
	Nickname        string      `json:"nickname"`
	ChecksumAddress string      `json:"checksum_address"`
	RestURL         string      `json:"rest_url"`
	Version         string      `json:"version"`
	Domain          string      `json:"domain"`
	FleetState      string      `json:"fleet_state"`
	KnownNodes      []KnownNode `json:"known_nodes"`
}

// Client queries a running worker node's REST interface.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for a node's REST URL. Worker certificates
// are self-signed, so verification is disabled.
func NewClient(restURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(restURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Status fetches the node's status document, including its peer table.
func (c *Client) Status(ctx context.Context) (*NodeStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status?json=true", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, opserrors.Wrap(opserrors.ErrCodeUnavailable,
			fmt.Sprintf("node at %s is not reachable", c.baseURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, opserrors.Newf(opserrors.ErrCodeUnavailable,
			"node at %s returned %d for status", c.baseURL, resp.StatusCode)
	}

	var status NodeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("malformed status response from %s: %w", c.baseURL, err)
	}
	return &status, nil
}

// KnownNodes fetches the node's peer table.
func (c *Client) KnownNodes(ctx context.Context) ([]KnownNode, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	return status.KnownNodes, nil
}
