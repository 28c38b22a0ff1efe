package derive

import (
	"context"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
)

// Store is the subset of *store.Store the gap-filling engine needs. Defined
// here rather than imported directly so derive never depends on store's
// full surface (store already depends on chain, not the reverse).
type Store interface {
	DerivationIndex(ctx context.Context, hardened bool) (int64, error)
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional half Store.WithTx hands the batch insert.
type Tx interface {
	InsertDerivation(ctx context.Context, d Derivation) error
}

// Derivation is the batch insert's row shape, structurally identical to
// store.Derivation; callers adapt between the two since derive cannot
// import store without an import cycle.
type Derivation struct {
	PuzzleHash      chain.Hash
	Index           uint32
	Hardened        bool
	SyntheticPubkey chain.PublicKey
}

// EnsureGap implements the on-demand gap extension: when activity is
// observed at derivation index i, at least i+gap derivations must exist.
// Called from the puzzle queue whenever a coin resolves to an owned
// derivation; a no-op when the store already has enough headroom.
func EnsureGap(ctx context.Context, st Store, master *MasterKey, hardened bool, activityIndex uint32, gap int) error {
	if gap < MinDurableGap {
		gap = MinDurableGap
	}
	highest, err := st.DerivationIndex(ctx, hardened)
	if err != nil {
		return fmt.Errorf("derive: ensure gap: %w", err)
	}
	target := int64(activityIndex) + int64(gap)
	if highest >= target {
		return nil
	}
	return GenerateBatch(ctx, st, master, hardened, uint32(highest+1), uint32(target-highest))
}

// GenerateBatch derives `count` consecutive derivations starting at
// startIndex and inserts them in a single transaction. Run as a background
// task so a sync loop never blocks on bulk BLS scalar arithmetic.
func GenerateBatch(ctx context.Context, st Store, master *MasterKey, hardened bool, startIndex, count uint32) error {
	return st.WithTx(ctx, func(tx Tx) error {
		for i := uint32(0); i < count; i++ {
			index := startIndex + i
			child := master.ChildPublicKey(index, hardened)
			synthetic := SyntheticPublicKey(child)
			puzzleHash := P2PuzzleHash(synthetic)
			d := Derivation{PuzzleHash: puzzleHash, Index: index, Hardened: hardened, SyntheticPubkey: synthetic}
			if err := tx.InsertDerivation(ctx, d); err != nil {
				return fmt.Errorf("derive: insert derivation %d/%v: %w", index, hardened, err)
			}
		}
		return nil
	})
}
