// Package netconfig implements the wallet's per-chain network profile:
// name, ticker, address prefix, precision, genesis challenge, AggSig
// domain, and introducer lists, with mainnet/testnet11 inheritance.
// Configuration uses struct tags + TOML; this package reads no
// environment variables.
package netconfig

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/rawblock/lightwallet/chain"
)

// Inherit names which preset's introducer lists a custom network should be
// merged on top of.
type Inherit string

const (
	InheritNone      Inherit = ""
	InheritMainnet   Inherit = "mainnet"
	InheritTestnet11 Inherit = "testnet11"
)

// Network is a chain profile.
type Network struct {
	Name                      string      `toml:"name"`
	Ticker                    string      `toml:"ticker"`
	Prefix                    string      `toml:"prefix,omitempty"`
	Precision                 uint8       `toml:"precision"`
	NetworkID                 string      `toml:"network_id,omitempty"`
	DefaultPort               uint16      `toml:"default_port"`
	GenesisChallenge          chain.Hash  `toml:"-"`
	GenesisChallengeHex       string      `toml:"genesis_challenge"`
	AggSigMe                  *chain.Hash `toml:"-"`
	AggSigMeHex               string      `toml:"agg_sig_me,omitempty"`
	AdditionalDNSIntroducers  []string    `toml:"dns_introducers,omitempty"`
	AdditionalPeerIntroducers []string    `toml:"peer_introducers,omitempty"`
	Inherit                   Inherit     `toml:"inherit,omitempty"`
}

const defaultPrecision = 12

// ResolvedPrefix returns the bech32m human-readable prefix, defaulting to
// the lowercased ticker.
func (n Network) ResolvedPrefix() string {
	if n.Prefix != "" {
		return n.Prefix
	}
	return lowercase(n.Ticker)
}

// ResolvedNetworkID returns the network id, defaulting to the network name.
func (n Network) ResolvedNetworkID() string {
	if n.NetworkID != "" {
		return n.NetworkID
	}
	return n.Name
}

// ResolvedAggSigMe returns the AggSig domain string, defaulting to the
// genesis challenge — every CLVM AggSig condition this wallet signs is
// domain-separated by this value.
func (n Network) ResolvedAggSigMe() chain.Hash {
	if n.AggSigMe != nil {
		return *n.AggSigMe
	}
	return n.GenesisChallenge
}

// DNSIntroducers returns this network's DNS introducer hostnames, merged
// with its inherited preset's list with duplicates removed.
func (n Network) DNSIntroducers() []string {
	base := presetFor(n.Inherit)
	if base == nil {
		return append([]string(nil), n.AdditionalDNSIntroducers...)
	}
	return mergeUnique(n.AdditionalDNSIntroducers, base.AdditionalDNSIntroducers)
}

// PeerIntroducers returns this network's peer introducer addresses, merged
// the same way as DNSIntroducers.
func (n Network) PeerIntroducers() []string {
	base := presetFor(n.Inherit)
	if base == nil {
		return append([]string(nil), n.AdditionalPeerIntroducers...)
	}
	return mergeUnique(n.AdditionalPeerIntroducers, base.AdditionalPeerIntroducers)
}

func mergeUnique(additional, preset []string) []string {
	out := append([]string(nil), additional...)
	seen := make(map[string]bool, len(out))
	for _, v := range out {
		seen[v] = true
	}
	for _, v := range preset {
		if !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	return out
}

func presetFor(inherit Inherit) *Network {
	switch inherit {
	case InheritMainnet:
		return &Mainnet
	case InheritTestnet11:
		return &Testnet11
	default:
		return nil
	}
}

func lowercase(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// List is the on-disk representation of the user's network config file:
// a base set of presets the user may override plus any custom networks
// they've added, looked up by name.
type List struct {
	Networks []Network `toml:"networks"`
}

// ByName finds a network by name, or reports false if none matches.
func (l List) ByName(name string) (Network, bool) {
	for _, n := range l.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return Network{}, false
}

// DefaultList returns the built-in mainnet and testnet11 presets with their
// own introducer lists left empty, since they inherit from the presets
// below anyway, so new introducers reach every wallet without a config
// migration.
func DefaultList() List {
	return List{Networks: []Network{
		withoutIntroducers(Mainnet),
		withoutIntroducers(Testnet11),
	}}
}

func withoutIntroducers(n Network) Network {
	n.AdditionalDNSIntroducers = nil
	n.AdditionalPeerIntroducers = nil
	return n
}

// LoadFile reads a TOML network-list file from path, falling back to
// DefaultList if the file does not exist: safe default over hard failure
// for non-secret configuration.
func LoadFile(path string) (List, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultList(), nil
	}
	if err != nil {
		return List{}, fmt.Errorf("netconfig: read %s: %w", path, err)
	}
	var l List
	if err := toml.Unmarshal(data, &l); err != nil {
		return List{}, fmt.Errorf("netconfig: parse %s: %w", path, err)
	}
	for i := range l.Networks {
		if err := resolveHexFields(&l.Networks[i]); err != nil {
			return List{}, fmt.Errorf("netconfig: network %q: %w", l.Networks[i].Name, err)
		}
		if l.Networks[i].Precision == 0 {
			l.Networks[i].Precision = defaultPrecision
		}
	}
	return l, nil
}

func resolveHexFields(n *Network) error {
	if n.GenesisChallengeHex != "" {
		h, err := chain.HashFromHex(n.GenesisChallengeHex)
		if err != nil {
			return fmt.Errorf("genesis_challenge: %w", err)
		}
		n.GenesisChallenge = h
	}
	if n.AggSigMeHex != "" {
		h, err := chain.HashFromHex(n.AggSigMeHex)
		if err != nil {
			return fmt.Errorf("agg_sig_me: %w", err)
		}
		n.AggSigMe = &h
	}
	return nil
}
