package sync

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/eventbus"
	"github.com/rawblock/lightwallet/peer"
	"github.com/rawblock/lightwallet/store"
)

// reorgRewindHeight bounds how far RejectReasonReorg rewinds the
// subscription baseline on a single rejection: rather than guessing how
// deep the reorg goes, step back a fixed window and let a peer that is
// still behind reject again next tick.
const reorgRewindHeight = 32

// maxSubscriptionAttempts bounds how many different peers one RunOnce call
// tries before giving up for this tick, so a fleet full of peers at their
// subscription limit doesn't spin forever inside a single call.
const maxSubscriptionAttempts = 4

// SubscriptionQueue fans out this wallet's derived puzzle hashes to a
// connected peer and writes back every coin state the peer reports,
// the write path store.UpsertCoinState otherwise has no caller for.
type SubscriptionQueue struct {
	store *store.Store
	mgr   *Manager
	bus   *eventbus.Bus

	mu             sync.Mutex
	baselineHeight *uint32
	baselineHash   *chain.Hash
}

// NewSubscriptionQueue returns a queue with no subscription baseline yet:
// the first RunOnce call subscribes from genesis.
func NewSubscriptionQueue(st *store.Store, mgr *Manager, bus *eventbus.Bus) *SubscriptionQueue {
	return &SubscriptionQueue{store: st, mgr: mgr, bus: bus}
}

// RunOnce fetches this wallet's derived puzzle hashes and subscribes to
// them against a connected peer, persisting every reported coin state.
// A peer that rejects the request for RejectReasonReorg rewinds the
// baseline and is excluded from retry this tick; RejectReasonSubscriptionLimit
// (and any other/unknown rejection) simply moves on to the next peer.
func (q *SubscriptionQueue) RunOnce(ctx context.Context) (int, error) {
	puzzleHashes, err := q.store.AllPuzzleHashes(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync: subscription queue: %w", err)
	}
	if len(puzzleHashes) == 0 {
		return 0, nil
	}

	excluded := make(map[string]bool)
	var lastErr error
	for attempt := 0; attempt < maxSubscriptionAttempts; attempt++ {
		info := q.pickPeer(excluded)
		if info == nil {
			if lastErr != nil {
				return 0, lastErr
			}
			return 0, nil
		}
		ip := info.Peer.IP.String()

		req := peer.PuzzleStateRequest{PuzzleHashes: puzzleHashes}
		q.mu.Lock()
		req.PreviousHeight = q.baselineHeight
		req.PreviousHeaderHash = q.baselineHash
		q.mu.Unlock()

		cctx, cancel := context.WithTimeout(ctx, q.mgr.opts.RequestPeersTimeout)
		resp, reason, err := info.Peer.RequestPuzzleState(cctx, req)
		cancel()
		if err != nil {
			log.Printf("sync: puzzle state request to %s: %v", info.Peer.Addr(), err)
			excluded[ip] = true
			lastErr = err
			continue
		}
		switch reason {
		case peer.RejectReasonReorg:
			log.Printf("sync: %s rejected puzzle state request for reorg, rewinding baseline", info.Peer.Addr())
			q.rewindBaseline()
			excluded[ip] = true
			continue
		case peer.RejectReasonSubscriptionLimit:
			log.Printf("sync: %s rejected puzzle state request, at subscription limit", info.Peer.Addr())
			excluded[ip] = true
			continue
		case peer.RejectReasonUnknown:
			excluded[ip] = true
			continue
		}

		return q.writeCoinStates(ctx, resp.CoinStates)
	}
	if lastErr != nil {
		return 0, lastErr
	}
	return 0, fmt.Errorf("sync: no peer accepted puzzle state subscription this tick")
}

func (q *SubscriptionQueue) writeCoinStates(ctx context.Context, remote []peer.RemoteCoinState) (int, error) {
	n := 0
	var coinIDs []string
	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, rc := range remote {
			cs := store.CoinState{
				Coin: chain.Coin{
					ParentCoinID: rc.ParentCoinID,
					PuzzleHash:   rc.PuzzleHash,
					Amount:       rc.Amount,
				},
				CreatedHeight: rc.CreatedHeight,
				SpentHeight:   rc.SpentHeight,
				Owned:         true,
			}
			if err := tx.UpsertCoinState(ctx, cs); err != nil {
				return err
			}
			coinIDs = append(coinIDs, cs.Coin.ID().String())
			n++
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("sync: write subscribed coin states: %w", err)
	}

	height, hash := q.mgr.Peak()
	q.mu.Lock()
	q.baselineHeight = &height
	q.baselineHash = &hash
	q.mu.Unlock()
	if n > 0 && q.bus != nil {
		q.bus.Publish(eventbus.Event{Kind: eventbus.CoinsUpdated, Payload: eventbus.CoinsUpdatedPayload{CoinIDs: coinIDs}})
	}
	return n, nil
}

func (q *SubscriptionQueue) pickPeer(excluded map[string]bool) *PeerInfo {
	for _, info := range q.mgr.Peers() {
		if !excluded[info.Peer.IP.String()] {
			return info
		}
	}
	return nil
}

func (q *SubscriptionQueue) rewindBaseline() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.baselineHeight == nil {
		return
	}
	if *q.baselineHeight <= reorgRewindHeight {
		q.baselineHeight = nil
		q.baselineHash = nil
		return
	}
	h := *q.baselineHeight - reorgRewindHeight
	q.baselineHeight = &h
	q.baselineHash = nil
}
