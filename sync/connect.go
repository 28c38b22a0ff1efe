package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/peer"
)

// newPeakWalletPayload is the body of the handshake's initial
// TypeNewPeakWallet push, the first message try_add_peer waits for before
// accepting a connection.
type newPeakWalletPayload struct {
	Height     uint32     `json:"height"`
	HeaderHash chain.Hash `json:"header_hash"`
}

// dialOne connects to addr and waits for its initial peak announcement,
// mirroring try_add_peer: a connection that doesn't announce its tip
// within InitialPeakTimeout is treated as a failed connection attempt, not
// a slow-but-good one.
func (m *Manager) dialOne(ctx context.Context, addr string) connectResult {
	cctx, cancel := context.WithTimeout(ctx, m.opts.ConnectionTimeout)
	defer cancel()

	p, events, err := peer.Connect(cctx, addr, m.cert)
	if err != nil {
		return connectResult{addr: addr, err: fmt.Errorf("connect: %w", err)}
	}

	if _, err := p.Handshake(cctx, m.network.ResolvedNetworkID(), peer.ProtocolVersion); err != nil {
		p.Close()
		return connectResult{addr: addr, err: fmt.Errorf("handshake: %w", err)}
	}

	peakCtx, peakCancel := context.WithTimeout(ctx, m.opts.InitialPeakTimeout)
	defer peakCancel()

	select {
	case evt, ok := <-events:
		if !ok || evt.Type != peer.TypeNewPeakWallet {
			p.Close()
			return connectResult{addr: addr, err: fmt.Errorf("did not announce a peak")}
		}
		var payload newPeakWalletPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			p.Close()
			return connectResult{addr: addr, err: fmt.Errorf("invalid peak announcement: %w", err)}
		}
		info := &PeerInfo{
			Peer:        p,
			SessionID:   uuid.New(),
			ClaimedPeak: payload.Height,
			HeaderHash:  payload.HeaderHash,
			ConnectedAt: time.Now(),
		}
		go m.pumpEvents(p, events, info.SessionID)
		return connectResult{addr: addr, info: info}
	case <-peakCtx.Done():
		p.Close()
		return connectResult{addr: addr, err: fmt.Errorf("timed out waiting for peak announcement")}
	}
}

// pumpEvents forwards a peer's post-handshake events to the log (until a
// real queue subscriber is wired in) and removes the peer from the fleet
// once its event channel closes: forward until closed, then signal
// removal.
func (m *Manager) pumpEvents(p *peer.Peer, events <-chan peer.Event, session uuid.UUID) {
	for evt := range events {
		log.Printf("sync: event from %s [session %s]: type=%v bytes=%d", p.Addr(), session, evt.Type, len(evt.Data))
	}
	m.RemovePeer(p.IP.String())
}

// RevalidatePeaks re-handshakes every connected peer and bans any whose
// claimed peak has decreased since it was last observed: a peer's tip only
// moving forward is the liveness property try_add_peer's initial handshake
// alone can't verify, since it only samples the tip once.
func (m *Manager) RevalidatePeaks(ctx context.Context) {
	for _, info := range m.Peers() {
		cctx, cancel := context.WithTimeout(ctx, m.opts.ConnectionTimeout)
		resp, err := info.Peer.Handshake(cctx, m.network.ResolvedNetworkID(), peer.ProtocolVersion)
		cancel()
		if err != nil {
			log.Printf("sync: re-handshake with %s failed: %v", info.Peer.Addr(), err)
			continue
		}
		if resp.PeakHeight < info.ClaimedPeak {
			m.Ban(info.Peer.IP, m.opts.BanDuration, fmt.Sprintf("peak decreased from %d to %d", info.ClaimedPeak, resp.PeakHeight))
			info.Peer.Close()
			m.RemovePeer(info.Peer.IP.String())
			continue
		}
		m.mu.Lock()
		info.ClaimedPeak = resp.PeakHeight
		info.HeaderHash = resp.PeakHash
		m.mu.Unlock()
		m.observePeak(resp.PeakHeight, resp.PeakHash)
	}
}
