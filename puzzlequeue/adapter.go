package puzzlequeue

import "github.com/rawblock/lightwallet/sync"

// managerPool adapts *sync.Manager to PeerPool: Manager's Peers() returns
// its own *PeerInfo rows, so the only job here is unwrapping down to the
// *peer.Peer each row carries, which already satisfies PeerLike.
type managerPool struct {
	m *sync.Manager
}

// ManagerPool wraps a fleet manager as a PeerPool, so New can be handed a
// live *sync.Manager without the two packages needing to know about each
// other's internals.
func ManagerPool(m *sync.Manager) PeerPool {
	return managerPool{m: m}
}

func (p managerPool) Peers() []PeerLike {
	infos := p.m.Peers()
	out := make([]PeerLike, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Peer)
	}
	return out
}
