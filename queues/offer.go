package queues

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/eventbus"
	"github.com/rawblock/lightwallet/offers"
	"github.com/rawblock/lightwallet/peer"
	"github.com/rawblock/lightwallet/store"
)

// CoinStatePeer is the subset of *peer.Peer the offer queue needs to check
// whether an offer's committed coins are still unspent.
type CoinStatePeer interface {
	RequestCoinState(ctx context.Context, req peer.CoinStateRequest) (peer.CoinStateResponse, error)
}

// PeakSource reports the fleet's currently accepted chain tip, for the
// offer queue's height-based expiry check.
type PeakSource interface {
	Peak() (uint32, chain.Hash)
	RankedPeer() HeaderPeer
}

// OfferQueue sweeps every Active offer, expiring or resolving it against
// the fleet's current view of its committed coins.
type OfferQueue struct {
	store *store.Store
	peak  PeakSource
	coins CoinStatePeer
	bus   *eventbus.Bus
}

// NewOfferQueue returns an OfferQueue reading from st, using peak for the
// expiry snapshot and coins (typically the same peer peak's RankedPeer) for
// the coin-state poll.
func NewOfferQueue(st *store.Store, peak PeakSource, coins CoinStatePeer, bus *eventbus.Bus) *OfferQueue {
	return &OfferQueue{store: st, peak: peak, coins: coins, bus: bus}
}

// RunOnce sweeps every Active offer once, reporting how many changed state.
func (q *OfferQueue) RunOnce(ctx context.Context) (int, error) {
	height, _ := q.peak.Peak()
	now := time.Now().Unix()

	active, err := q.store.ActiveOffers(ctx)
	if err != nil {
		return 0, fmt.Errorf("queues: active offers: %w", err)
	}

	changed := 0
	for _, o := range active {
		if q.sweepOne(ctx, o, height, now) {
			changed++
		}
	}
	return changed, nil
}

func (q *OfferQueue) sweepOne(ctx context.Context, o store.Offer, height uint32, now int64) bool {
	// step 2: expiry by height or wall-clock time.
	if (o.ExpirationHeight != nil && height >= *o.ExpirationHeight) ||
		(o.ExpirationTimestamp != nil && now >= *o.ExpirationTimestamp) {
		return q.transition(ctx, o, store.OfferExpired)
	}

	// step 3: poll the offered coins' current state.
	bundle, err := offers.Decode(o.Blob)
	if err != nil {
		log.Printf("queues: decode offer %s: %v", o.ID, err)
		return false
	}
	coinIDs := offers.OfferedCoinIDs(bundle)
	if len(coinIDs) == 0 {
		return false
	}

	p := q.offerPeer()
	if p == nil {
		return false
	}
	resp, err := p.RequestCoinState(ctx, peer.CoinStateRequest{CoinIDs: coinIDs})
	if err != nil {
		log.Printf("queues: poll offer %s coin states: %v", o.ID, err)
		return false
	}

	spent := make(map[chain.Hash]bool, len(resp.CoinStates))
	for _, rc := range resp.CoinStates {
		c := chain.Coin{ParentCoinID: rc.ParentCoinID, PuzzleHash: rc.PuzzleHash, Amount: rc.Amount}
		if rc.SpentHeight != nil {
			spent[c.ID()] = true
		}
	}

	allSpent := true
	anySpent := false
	for _, id := range coinIDs {
		if spent[id] {
			anySpent = true
		} else {
			allSpent = false
		}
	}

	switch {
	case allSpent:
		// Every offered coin was consumed; since this wallet only ever
		// builds the settlement spend itself (no other puzzle can unlock
		// it), consumption here means a taker completed it.
		return q.transition(ctx, o, store.OfferCompleted)
	case anySpent:
		return q.transition(ctx, o, store.OfferCancelled)
	default:
		return false
	}
}

func (q *OfferQueue) offerPeer() CoinStatePeer {
	if q.coins != nil {
		return q.coins
	}
	p := q.peak.RankedPeer()
	if p == nil {
		return nil
	}
	if cs, ok := p.(CoinStatePeer); ok {
		return cs
	}
	return nil
}

func (q *OfferQueue) transition(ctx context.Context, o store.Offer, newStatus store.OfferStatus) bool {
	if err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.SetOfferStatus(ctx, o.ID, newStatus)
	}); err != nil {
		log.Printf("queues: transition offer %s -> %s: %v", o.ID, newStatus, err)
		return false
	}
	if q.bus != nil {
		q.bus.Publish(eventbus.Event{Kind: eventbus.OfferUpdated, Payload: eventbus.OfferUpdatedPayload{
			OfferID: o.ID.String(), Status: string(newStatus),
		}})
	}
	return true
}
