package sync

import (
	"context"
	"time"
)

// Run keeps the fleet topped up to Options.TargetPeers until ctx is
// cancelled: an initial DNS bootstrap, then on every tick ask already-
// connected peers for fresher addresses (PeerDiscovery) and fall back to
// DNS again if that doesn't reach target.
func (m *Manager) Run(ctx context.Context) {
	m.DNSDiscovery(ctx, m.network.DNSIntroducers())

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RevalidatePeaks(ctx)
			if m.PeerCount() >= m.opts.TargetPeers {
				continue
			}
			if !m.PeerDiscovery(ctx) {
				m.DNSDiscovery(ctx, m.network.DNSIntroducers())
			}
		}
	}
}
