package queues

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rawblock/lightwallet/eventbus"
	"github.com/rawblock/lightwallet/store"
)

// MetadataFetcher retrieves the off-chain metadata document an NFT's
// on-chain metadata program points at. The actual HTTP/content-addressed-
// storage fetch mechanics are out of scope for this core, so this queue
// only orchestrates when a coin needs fetching and records that it
// happened; the fetch itself is injected by whatever edge the caller wires
// in (an HTTP client, a local cache, a test double).
type MetadataFetcher interface {
	Fetch(ctx context.Context, sc store.SingletonCoin) (extra map[string]any, err error)
}

// NftUriQueue sweeps singleton_coins for NFTs whose metadata has never been
// resolved and hands each to a MetadataFetcher, using the same
// sweep-then-mutate loop shape as the mempool and block-time queues.
type NftUriQueue struct {
	store   *store.Store
	fetcher MetadataFetcher
	bus     *eventbus.Bus

	batchSize int
}

// NewNftUriQueue returns an NftUriQueue reading from st and resolving
// metadata through fetcher.
func NewNftUriQueue(st *store.Store, fetcher MetadataFetcher, bus *eventbus.Bus) *NftUriQueue {
	return &NftUriQueue{store: st, fetcher: fetcher, bus: bus, batchSize: 32}
}

// RunOnce resolves up to one batch of unfetched NFT metadata, reporting how
// many coins were updated.
func (q *NftUriQueue) RunOnce(ctx context.Context) (int, error) {
	coins, err := q.store.UnfetchedNftCoins(ctx, q.batchSize)
	if err != nil {
		return 0, fmt.Errorf("queues: unfetched nft coins: %w", err)
	}

	fetched := 0
	now := time.Now().Unix()
	for _, sc := range coins {
		extra, err := q.fetcher.Fetch(ctx, sc)
		if err != nil {
			log.Printf("queues: fetch nft metadata %s: %v", sc.CoinID, err)
			continue
		}
		if err := q.store.WithTx(ctx, func(tx *store.Tx) error {
			if extra != nil {
				sc.Extra = extra
				if err := tx.UpsertSingletonCoin(ctx, sc); err != nil {
					return err
				}
			}
			return tx.MarkNftMetadataFetched(ctx, sc.CoinID, now)
		}); err != nil {
			log.Printf("queues: record nft metadata %s: %v", sc.CoinID, err)
			continue
		}
		if q.bus != nil {
			q.bus.Publish(eventbus.Event{Kind: eventbus.NftData, Payload: eventbus.NftDataPayload{
				LauncherID: sc.LauncherID.String(),
			}})
		}
		fetched++
	}
	return fetched, nil
}
