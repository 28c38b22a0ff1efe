package store

import (
	"context"
	"testing"

	"github.com/rawblock/lightwallet/chain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleCoin() chain.Coin {
	return chain.Coin{
		ParentCoinID: chain.Sha256([]byte("parent")),
		PuzzleHash:   chain.Sha256([]byte("puzzle")),
		Amount:       1000,
	}
}

func TestUpsertCoinStateIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	coin := sampleCoin()
	height := uint32(100)

	for i := 0; i < 2; i++ {
		err := st.WithTx(ctx, func(tx *Tx) error {
			return tx.UpsertCoinState(ctx, CoinState{Coin: coin, CreatedHeight: &height})
		})
		if err != nil {
			t.Fatalf("UpsertCoinState (attempt %d): %v", i, err)
		}
	}

	rows, err := st.UnsyncedCoinStates(ctx, 10)
	if err != nil {
		t.Fatalf("UnsyncedCoinStates: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows after two identical upserts, want 1", len(rows))
	}
}

func TestMarkSpentRequiresSpentHeightAfterCreated(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	coin := sampleCoin()
	created := uint32(100)
	spent := uint32(150)

	err := st.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertCoinState(ctx, CoinState{Coin: coin, CreatedHeight: &created}); err != nil {
			return err
		}
		return tx.MarkSpent(ctx, coin.ID(), spent, nil, nil)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	cs, err := st.CoinStateByID(ctx, coin.ID())
	if err != nil {
		t.Fatalf("CoinStateByID: %v", err)
	}
	if cs == nil {
		t.Fatal("expected a coin state row to exist")
	}
	if cs.SpentHeight == nil || *cs.SpentHeight < *cs.CreatedHeight {
		t.Fatalf("SpentHeight = %v, want >= CreatedHeight %v", cs.SpentHeight, cs.CreatedHeight)
	}
}

func TestDerivationIndexEmptyStoreReturnsNegativeOne(t *testing.T) {
	st := openTestStore(t)
	idx, err := st.DerivationIndex(context.Background(), false)
	if err != nil {
		t.Fatalf("DerivationIndex: %v", err)
	}
	if idx != -1 {
		t.Fatalf("DerivationIndex on empty store = %d, want -1", idx)
	}
}
