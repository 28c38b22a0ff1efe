// Package sync implements the peer fleet manager: DNS/peer-exchange
// discovery, batch dialing with a ban list, peak tracking, and reorg
// detection.
//
// Connect attempts fan out over goroutines reporting through a results
// channel and a WaitGroup; the ban list is a map of ban-until timestamps
// protected by the same mutex that guards the peer table, the same
// mutex-guarded-map shape eventbus's subscriber hub uses, applied here to
// peer bookkeeping instead of websocket clients.
package sync

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/netconfig"
	"github.com/rawblock/lightwallet/peer"
)

// Options tunes the sync manager's timeouts and fleet size.
type Options struct {
	TargetPeers               int
	ConnectionBatchSize       int
	ConnectionTimeout         time.Duration
	InitialPeakTimeout        time.Duration
	RequestPeersTimeout       time.Duration
	RemoveSubscriptionTimeout time.Duration
	DNSTimeout                time.Duration
	DNSBatchSize              int
	MaxPeerAgeSeconds         int64
	BanDuration               time.Duration
}

// DefaultOptions returns conservative defaults suitable for exercising the
// fleet under test.
func DefaultOptions() Options {
	return Options{
		TargetPeers:               7,
		ConnectionBatchSize:       30,
		ConnectionTimeout:         3 * time.Second,
		InitialPeakTimeout:        2 * time.Second,
		RequestPeersTimeout:       3 * time.Second,
		RemoveSubscriptionTimeout: 3 * time.Second,
		DNSTimeout:                5 * time.Second,
		DNSBatchSize:              10,
		MaxPeerAgeSeconds:         3600,
		BanDuration:               10 * time.Minute,
	}
}

// PeerInfo is one connected peer plus its claimed chain tip.
//
// SessionID is a random correlation id minted per connection attempt, not a
// protocol field: it lets the message pump's log lines and ban-candidate
// events be tied back to one TCP connection across reconnects to the same
// IP.
type PeerInfo struct {
	Peer        *peer.Peer
	SessionID   uuid.UUID
	ClaimedPeak uint32
	HeaderHash  chain.Hash
	ConnectedAt time.Time
}

// Manager owns the set of connected peers, the ban list, and the dial loop
// that keeps the fleet at Options.TargetPeers.
type Manager struct {
	network netconfig.Network
	opts    Options
	cert    tls.Certificate

	mu     sync.Mutex
	peers  map[string]*PeerInfo // keyed by ip string
	banned map[string]time.Time // ip -> ban expiry

	peak     uint32
	peakHash chain.Hash

	events chan FleetEvent
}

// FleetEvent reports a change in the peer fleet or its view of the chain
// tip, for the sync manager's caller (typically the puzzle/block queues)
// to react to.
type FleetEvent struct {
	Kind       FleetEventKind
	PeerAddr   string
	PeakHeight uint32
	PeakHash   chain.Hash
}

// FleetEventKind enumerates fleet-level occurrences.
type FleetEventKind string

const (
	FleetPeerAdded     FleetEventKind = "peer_added"
	FleetPeerRemoved   FleetEventKind = "peer_removed"
	FleetPeakAdvanced  FleetEventKind = "peak_advanced"
	FleetReorgDetected FleetEventKind = "reorg_detected"
)

// New returns a Manager with no peers connected yet. cert is presented to
// every dialed peer as this wallet's TLS client certificate.
func New(network netconfig.Network, opts Options, cert tls.Certificate) *Manager {
	return &Manager{
		network: network,
		opts:    opts,
		cert:    cert,
		peers:   make(map[string]*PeerInfo),
		banned:  make(map[string]time.Time),
		events:  make(chan FleetEvent, 64),
	}
}

// Events returns the fleet event stream.
func (m *Manager) Events() <-chan FleetEvent {
	return m.events
}

func (m *Manager) emit(evt FleetEvent) {
	select {
	case m.events <- evt:
	default:
		log.Printf("sync: fleet event channel full, dropping %s", evt.Kind)
	}
}

// PeerCount reports how many peers are currently connected.
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Peers returns a snapshot of currently connected peers.
func (m *Manager) Peers() []*PeerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*PeerInfo, 0, len(m.peers))
	for _, info := range m.peers {
		out = append(out, info)
	}
	return out
}

// Ban marks ip as unusable until duration elapses, recording reason for
// diagnostics.
func (m *Manager) Ban(ip net.IP, duration time.Duration, reason string) {
	m.mu.Lock()
	m.banned[ip.String()] = time.Now().Add(duration)
	m.mu.Unlock()
	log.Printf("sync: banned %s for %s: %s", ip, duration, reason)
}

func (m *Manager) isBanned(ip net.IP) bool {
	until, ok := m.banned[ip.String()]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(m.banned, ip.String())
		return false
	}
	return true
}

func (m *Manager) isConnected(ip net.IP) bool {
	_, ok := m.peers[ip.String()]
	return ok
}

// RankedPeer returns the connected peer with the highest claimed peak, for
// requests that should prefer the best-informed peer.
func (m *Manager) RankedPeer() *PeerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *PeerInfo
	for _, info := range m.peers {
		if best == nil || info.ClaimedPeak > best.ClaimedPeak {
			best = info
		}
	}
	return best
}

// Peak returns the fleet's currently accepted chain tip.
func (m *Manager) Peak() (uint32, chain.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak, m.peakHash
}

// observePeak folds one peer's claimed tip into the fleet's accepted peak:
// a higher claim advances it, an equal-height claim with a different header
// hash is a reorg signal, and a lower claim is ignored (the target height
// is the maximum claim across the fleet).
func (m *Manager) observePeak(height uint32, headerHash chain.Hash) {
	m.mu.Lock()
	if height < m.peak {
		m.mu.Unlock()
		return
	}
	var prior *chain.Hash
	if height == m.peak && m.peakHash != (chain.Hash{}) {
		h := m.peakHash
		prior = &h
	}
	m.mu.Unlock()
	m.AdvancePeak(height, headerHash, prior)
}

// AdvancePeak updates the fleet's accepted tip, detecting a reorg when the
// new header hash at a previously-seen height disagrees with what was
// recorded.
func (m *Manager) AdvancePeak(height uint32, headerHash chain.Hash, priorHashAtHeight *chain.Hash) {
	m.mu.Lock()
	reorg := priorHashAtHeight != nil && *priorHashAtHeight != headerHash
	m.peak = height
	m.peakHash = headerHash
	m.mu.Unlock()

	if reorg {
		m.emit(FleetEvent{Kind: FleetReorgDetected, PeakHeight: height, PeakHash: headerHash})
		return
	}
	m.emit(FleetEvent{Kind: FleetPeakAdvanced, PeakHeight: height, PeakHash: headerHash})
}

// ClearSubscriptions asks every connected peer to drop this wallet's coin
// and puzzle subscriptions, used before a full resync. Each peer gets its
// own bounded timeout so one slow peer can't stall the others.
func (m *Manager) ClearSubscriptions(ctx context.Context) {
	var wg sync.WaitGroup
	for _, info := range m.Peers() {
		wg.Add(1)
		go func(info *PeerInfo) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, m.opts.RemoveSubscriptionTimeout)
			defer cancel()
			if err := info.Peer.RemovePuzzleSubscriptions(cctx, nil); err != nil {
				log.Printf("sync: clear puzzle subscriptions from %s: %v", info.Peer.Addr(), err)
			}
			if err := info.Peer.RemoveCoinSubscriptions(cctx, nil); err != nil {
				log.Printf("sync: clear coin subscriptions from %s: %v", info.Peer.Addr(), err)
			}
		}(info)
	}
	wg.Wait()
}

// CloseAll disconnects every peer at once, failing their outstanding
// requests, used when the wallet logs out or switches networks.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*PeerInfo)
	m.mu.Unlock()
	for ip, info := range peers {
		info.Peer.Close()
		m.emit(FleetEvent{Kind: FleetPeerRemoved, PeerAddr: ip})
	}
}

// RemovePeer drops a peer from the fleet, e.g. after its connection closed.
// ip must be the bare IP string (net.IP.String()), the same key ConnectBatch
// inserts peers under, not Peer.Addr()'s "ip:port" form.
func (m *Manager) RemovePeer(ip string) {
	m.mu.Lock()
	_, ok := m.peers[ip]
	delete(m.peers, ip)
	m.mu.Unlock()
	if ok {
		m.emit(FleetEvent{Kind: FleetPeerRemoved, PeerAddr: ip})
	}
}
