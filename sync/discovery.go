package sync

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// connectResult pairs a dial attempt's address with its outcome.
type connectResult struct {
	addr string
	info *PeerInfo
	err  error
}

// DNSDiscovery resolves the network's configured DNS introducers and
// dials the results in batches until the fleet reaches its target size.
func (m *Manager) DNSDiscovery(ctx context.Context, introducers []string) {
	var addrs []string
	for _, host := range introducers {
		cctx, cancel := context.WithTimeout(ctx, m.opts.DNSTimeout)
		ips, err := net.DefaultResolver.LookupIPAddr(cctx, host)
		cancel()
		if err != nil {
			continue
		}
		for i, ip := range ips {
			if i >= m.opts.DNSBatchSize {
				break
			}
			addrs = append(addrs, net.JoinHostPort(ip.IP.String(), defaultPortString(m.network.DefaultPort)))
		}
	}

	for i := 0; i < len(addrs); i += m.opts.ConnectionBatchSize {
		end := i + m.opts.ConnectionBatchSize
		if end > len(addrs) {
			end = len(addrs)
		}
		if m.ConnectBatch(ctx, addrs[i:end]) {
			return
		}
	}
}

func defaultPortString(port uint16) string {
	return fmt.Sprintf("%d", port)
}

// PeerDiscovery asks every connected peer for their known peers and dials
// the freshest results. Returns true once the fleet reaches its target
// size.
func (m *Manager) PeerDiscovery(ctx context.Context) bool {
	peers := m.Peers()
	if len(peers) == 0 {
		return false
	}

	type reply struct {
		ip    string
		addrs []string
		err   error
	}
	results := make(chan reply, len(peers))
	var wg sync.WaitGroup
	for _, info := range peers {
		wg.Add(1)
		go func(info *PeerInfo) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, m.opts.RequestPeersTimeout)
			defer cancel()
			resp, err := info.Peer.RequestPeers(cctx)
			if err != nil {
				results <- reply{ip: info.Peer.Addr(), err: err}
				return
			}
			results <- reply{ip: info.Peer.Addr(), addrs: resp.Addresses}
		}(info)
	}
	go func() { wg.Wait(); close(results) }()

	var candidates []string
	for r := range results {
		if r.err != nil {
			if host, _, err := net.SplitHostPort(r.ip); err == nil {
				m.Ban(net.ParseIP(host), 5*time.Minute, "failed to request peers")
			}
			continue
		}
		candidates = append(candidates, r.addrs...)
	}

	for i := 0; i < len(candidates); i += m.opts.ConnectionBatchSize {
		end := i + m.opts.ConnectionBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		if m.ConnectBatch(ctx, candidates[i:end]) {
			return true
		}
	}
	return false
}

// ConnectBatch dials every address concurrently, adding peers that
// complete the initial handshake within the configured timeout and
// banning ones that fail or time out. Returns true once the fleet reaches
// its target size.
func (m *Manager) ConnectBatch(ctx context.Context, addrs []string) bool {
	var toTry []string
	m.mu.Lock()
	for _, addr := range addrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			continue
		}
		ip := net.ParseIP(host)
		if m.isConnected(ip) || m.isBanned(ip) {
			continue
		}
		toTry = append(toTry, addr)
	}
	m.mu.Unlock()

	results := make(chan connectResult, len(toTry))
	var wg sync.WaitGroup
	for _, addr := range toTry {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			results <- m.dialOne(ctx, addr)
		}(addr)
	}
	go func() { wg.Wait(); close(results) }()

	for r := range results {
		host, _, _ := net.SplitHostPort(r.addr)
		ip := net.ParseIP(host)
		if r.err != nil {
			m.Ban(ip, m.opts.BanDuration, r.err.Error())
			continue
		}
		m.mu.Lock()
		m.peers[ip.String()] = r.info
		m.mu.Unlock()
		m.emit(FleetEvent{Kind: FleetPeerAdded, PeerAddr: r.addr, PeakHeight: r.info.ClaimedPeak})
		m.observePeak(r.info.ClaimedPeak, r.info.HeaderHash)
		if m.PeerCount() >= m.opts.TargetPeers {
			return true
		}
	}
	return m.PeerCount() >= m.opts.TargetPeers
}
