package queues

import (
	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/sync"
)

// managerAdapter wraps *sync.Manager to satisfy BroadcastPool, HeaderSource
// and PeakSource, the same unwrapping trick puzzlequeue.ManagerPool uses:
// sync.Manager already returns *peer.Peer values that satisfy these
// narrower interfaces, so there is nothing to translate beyond the slice
// shape.
type managerAdapter struct {
	m *sync.Manager
}

// ManagerAdapter wraps a fleet manager for the mempool, block-time and
// offer queues, so they can be handed a live *sync.Manager without
// depending on its full API surface.
func ManagerAdapter(m *sync.Manager) interface {
	BroadcastPool
	HeaderSource
	PeakSource
} {
	return managerAdapter{m: m}
}

func (a managerAdapter) Peers() []BroadcastPeer {
	infos := a.m.Peers()
	out := make([]BroadcastPeer, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Peer)
	}
	return out
}

func (a managerAdapter) RankedPeer() HeaderPeer {
	info := a.m.RankedPeer()
	if info == nil {
		return nil
	}
	return info.Peer
}

func (a managerAdapter) Peak() (uint32, chain.Hash) {
	return a.m.Peak()
}
