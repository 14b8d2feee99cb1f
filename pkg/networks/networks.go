// Package networks maps nucypher network names to the Ethereum chains they
// run on.
package networks

import (
	"fmt"
	"sort"
)

// DevnetChainID is the chain ID of the private development network.
const DevnetChainID = 112358

// chainIDs maps network names to Ethereum chain IDs.
var chainIDs = map[string]int{
	"mainnet": 1,
	"oryx":    3,
	"ibex":    4,
	"lynx":    5,
	"devnet":  DevnetChainID,
}

// publicChains maps chain IDs to the canonical public chain names.
var publicChains = map[int]string{
	0:  "Olympic",
	1:  "Mainnet",
	2:  "Morden",
	3:  "Ropsten",
	4:  "Rinkeby",
	5:  "Goerli",
	6:  "Kotti",
	42: "Kovan",
}

// ChainID returns the Ethereum chain ID for a network name.
func ChainID(network string) (int, error) {
	id, ok := chainIDs[network]
	if !ok {
		return 0, fmt.Errorf("unknown network %q (known networks: %v)", network, Names())
	}
	return id, nil
}

// PublicChainName returns the lowercase public chain name for a chain ID.
// The second return is false for chains without a public name, such as the
// devnet.
func PublicChainName(chainID int) (string, bool) {
	name, ok := publicChains[chainID]
	return name, ok
}

// Names returns all known network names, sorted.
func Names() []string {
	names := make([]string, 0, len(chainIDs))
	for name := range chainIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
