package queues

import (
	"context"
	"fmt"
	"log"

	"github.com/rawblock/lightwallet/peer"
	"github.com/rawblock/lightwallet/store"
)

// HeaderPeer is the subset of *peer.Peer the block-time queue needs.
type HeaderPeer interface {
	RequestBlockHeader(ctx context.Context, height uint32) (peer.BlockHeaderResponse, error)
	Addr() string
}

// HeaderSource is the subset of sync.Manager the block-time queue needs:
// any one currently-connected peer, preferring the best-informed one the
// same way puzzlequeue prefers a live fleet.
type HeaderSource interface {
	RankedPeer() HeaderPeer
}

// BlockTimeQueue walks rows where blocks.timestamp IS NULL, filling them in
// from the single peer source.RankedPeer returns and back-propagating the
// timestamp to the coin rows created or spent at that height.
type BlockTimeQueue struct {
	store  *store.Store
	source HeaderSource

	batchSize int
}

// NewBlockTimeQueue returns a BlockTimeQueue reading from st and asking source for a
// peer to query.
func NewBlockTimeQueue(st *store.Store, source HeaderSource) *BlockTimeQueue {
	return &BlockTimeQueue{store: st, source: source, batchSize: 64}
}

// RunOnce backfills up to one batch of missing block timestamps. Idempotent:
// a height already filled in by a concurrent run is simply absent from the
// next read.
func (q *BlockTimeQueue) RunOnce(ctx context.Context) (int, error) {
	p := q.source.RankedPeer()
	if p == nil {
		return 0, nil
	}

	heights, err := q.store.MissingBlockTimes(ctx, q.batchSize)
	if err != nil {
		return 0, fmt.Errorf("queues: missing block times: %w", err)
	}

	filled := 0
	for _, height := range heights {
		resp, err := p.RequestBlockHeader(ctx, height)
		if err != nil {
			log.Printf("queues: request block header %d from %s: %v", height, p.Addr(), err)
			continue
		}
		if err := q.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.InsertBlockTimestamp(ctx, height, resp.Timestamp)
		}); err != nil {
			log.Printf("queues: insert block timestamp %d: %v", height, err)
			continue
		}
		filled++
	}
	return filled, nil
}
