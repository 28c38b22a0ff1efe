// Package eventbus implements the bounded wallet event channel: every
// subsystem that changes observable wallet state publishes one of a closed
// set of event variants, and any number of external observers (the
// websocket bridge, a CLI follower, tests) can subscribe without slowing
// down the publisher.
//
// The fan-out shape is a mutex-guarded set of subscriber channels fed from a
// single broadcast loop, with typed Event values and an explicit per-
// subscriber capacity and documented overflow policy.
package eventbus

import (
	"log"
	"sync"
)

// Kind enumerates the closed set of event variants.
type Kind string

const (
	Start              Kind = "start"
	Stop               Kind = "stop"
	Subscribed         Kind = "subscribed"
	Derivation         Kind = "derivation"
	CoinsUpdated       Kind = "coins_updated"
	PuzzleBatchSynced  Kind = "puzzle_batch_synced"
	NftData            Kind = "nft_data"
	OfferUpdated       Kind = "offer_updated"
	TransactionUpdated Kind = "transaction_updated"
	TransactionFailed  Kind = "transaction_failed"
)

// Event is the envelope every subsystem publishes. Payload is one of the
// Kind-specific structs below, or nil for variants that carry no data
// (Start, Stop).
type Event struct {
	Kind    Kind
	Payload any
}

// SubscribedPayload reports a new puzzle-hash or coin-id subscription
// taking effect.
type SubscribedPayload struct {
	PuzzleHashes int
	CoinIDs      int
}

// DerivationPayload reports the derivation engine extending the gap.
type DerivationPayload struct {
	Index    uint32
	Hardened bool
}

// CoinsUpdatedPayload reports newly observed or newly spent coin ids.
type CoinsUpdatedPayload struct {
	CoinIDs []string
}

// PuzzleBatchSyncedPayload reports the puzzle queue finishing a batch.
type PuzzleBatchSyncedPayload struct {
	Count int
}

// NftDataPayload reports fresh off-chain metadata for an NFT.
type NftDataPayload struct {
	LauncherID string
}

// OfferUpdatedPayload reports an offer's FSM transition.
type OfferUpdatedPayload struct {
	OfferID string
	Status  string
}

// TransactionUpdatedPayload reports a mempool item's status transition.
type TransactionUpdatedPayload struct {
	SpendBundleID string
	Status        string
}

// TransactionFailedPayload reports a mempool item's terminal failure.
type TransactionFailedPayload struct {
	SpendBundleID string
	Reason        string
}

// subscriberCapacity bounds each subscriber's backlog. A subscriber this far
// behind is considered unable to keep up rather than momentarily busy.
const subscriberCapacity = 256

// Bus is a bounded multi-producer, multi-consumer event fan-out. The zero
// value is not usable; construct with New.
type Bus struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// New returns a ready Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a new observer and returns its channel plus an
// unsubscribe function. Callers must keep draining the channel until they
// unsubscribe, or risk tripping the overflow policy below.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberCapacity)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	b.Publish(Event{Kind: Subscribed, Payload: SubscribedPayload{}})
	log.Printf("eventbus: subscriber added, total=%d", n)
	return ch, func() { b.unsubscribe(ch) }
}

func (b *Bus) unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish fans an event out to every live subscriber. A subscriber whose
// buffer is full is dropped and closed rather than allowed to stall the
// publisher, keeping the channel bounded and non-blocking from the
// perspective of the subsystem emitting events.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			log.Printf("eventbus: subscriber overflowed on %s, dropping", evt.Kind)
			delete(b.subscribers, ch)
			close(ch)
		}
	}
}

// Close shuts down every subscriber channel. Use when the wallet is
// stopping; publish a Stop event before calling this so it's the last thing
// observers see.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}
