// Package queues implements the wallet's presentation and submission
// queues: independent cooperative tasks that each run a single entry loop
// over the persistent store and the peer fleet, sharing no mutable memory
// with each other — coordination is entirely via the store and the event
// bus.
//
// Every queue in this package follows the same loop shape: ticker ->
// batch-read -> fan-out -> batch-write -> broadcast.
package queues

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/eventbus"
	"github.com/rawblock/lightwallet/peer"
	"github.com/rawblock/lightwallet/store"
)

// BroadcastPeer is the subset of *peer.Peer the mempool queue needs to
// submit a bundle and learn how the peer's own mempool handled it.
type BroadcastPeer interface {
	SendTransaction(ctx context.Context, bundle chain.SpendBundle) (peer.TransactionAck, error)
	Addr() string
}

// BroadcastPool is the subset of sync.Manager the mempool queue needs:
// every currently connected peer, to broadcast each pending bundle to all
// of them in parallel.
type BroadcastPool interface {
	Peers() []BroadcastPeer
}

// MempoolQueue drives the submission cycle: load pending bundles,
// broadcast, and interpret the fleet's acks into the mempool item's next
// state.
type MempoolQueue struct {
	store *store.Store
	pool  BroadcastPool
	bus   *eventbus.Bus

	batchSize       int
	debounceSeconds int64
	maxAttempts     int
}

// New returns a MempoolQueue with fixed defaults: batches of up to 32
// items, a 120 second debounce between retries, and at most 10 submission
// attempts per item.
func New(st *store.Store, pool BroadcastPool, bus *eventbus.Bus) *MempoolQueue {
	return &MempoolQueue{
		store:           st,
		pool:            pool,
		bus:             bus,
		batchSize:       32,
		debounceSeconds: 120,
		maxAttempts:     10,
	}
}

// RunOnce drains one batch of pending mempool items and reports how many
// changed state.
func (q *MempoolQueue) RunOnce(ctx context.Context) (int, error) {
	peers := q.pool.Peers()
	if len(peers) == 0 {
		return 0, nil
	}

	now := time.Now().Unix()
	items, err := q.store.PendingMempoolItems(ctx, q.batchSize, now, q.debounceSeconds, q.maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("queues: pending mempool items: %w", err)
	}

	changed := 0
	for _, item := range items {
		if q.processOne(ctx, peers, item, now) {
			changed++
		}
	}
	return changed, nil
}

// processOne broadcasts one bundle to every peer and applies the
// ack-interpretation rules below, reporting whether the item's state
// changed.
func (q *MempoolQueue) processOne(ctx context.Context, peers []BroadcastPeer, item store.MempoolItem, now int64) bool {
	bundle := chain.SpendBundle{CoinSpends: item.Spends, AggregatedSignature: item.AggregatedSignature}

	acks := make([]peer.TransactionAck, len(peers))
	gotAck := make([]bool, len(peers))
	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Add(1)
		go func(i int, p BroadcastPeer) {
			defer wg.Done()
			ack, err := p.SendTransaction(ctx, bundle)
			if err != nil {
				log.Printf("queues: submit %s to %s: %v", item.SpendBundleID, p.Addr(), err)
				return
			}
			acks[i] = ack
			gotAck[i] = true
		}(i, p)
	}
	wg.Wait()

	outcome, reason := interpretAcks(acks, gotAck)
	switch outcome {
	case outcomeConfirmed:
		if err := q.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.RemoveMempoolItem(ctx, item.SpendBundleID)
		}); err != nil {
			log.Printf("queues: remove confirmed mempool item %s: %v", item.SpendBundleID, err)
			return false
		}
		q.publish(eventbus.TransactionUpdated, eventbus.TransactionUpdatedPayload{
			SpendBundleID: item.SpendBundleID.String(), Status: "confirmed",
		})
		return true

	case outcomeFailed:
		inputs, outputs := splitByRole(item)
		if err := q.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.FailMempoolItem(ctx, item.SpendBundleID, inputs, outputs)
		}); err != nil {
			log.Printf("queues: fail mempool item %s: %v", item.SpendBundleID, err)
			return false
		}
		q.publish(eventbus.TransactionFailed, eventbus.TransactionFailedPayload{
			SpendBundleID: item.SpendBundleID.String(), Reason: reason,
		})
		return true

	case outcomePending:
		if err := q.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.UpdateMempoolStatus(ctx, item.SpendBundleID, store.MempoolSubmitted, now)
		}); err != nil {
			log.Printf("queues: update mempool status %s: %v", item.SpendBundleID, err)
			return false
		}
		q.publish(eventbus.TransactionUpdated, eventbus.TransactionUpdatedPayload{
			SpendBundleID: item.SpendBundleID.String(), Status: string(store.MempoolSubmitted),
		})
		return true

	default:
		// No peer responded at all: ambiguous, leave as-is for the next cycle.
		return false
	}
}

func (q *MempoolQueue) publish(kind eventbus.Kind, payload any) {
	if q.bus != nil {
		q.bus.Publish(eventbus.Event{Kind: kind, Payload: payload})
	}
}

func splitByRole(item store.MempoolItem) (inputs, outputs []chain.Hash) {
	for _, cs := range item.Spends {
		coinID := cs.Coin.ID()
		if item.SpendRoles[coinID] == store.RoleOutput {
			outputs = append(outputs, coinID)
		} else {
			inputs = append(inputs, coinID)
		}
	}
	return inputs, outputs
}
