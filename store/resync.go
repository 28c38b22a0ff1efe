package store

import (
	"context"
	"fmt"
)

// ResyncOptions selects which tables a resync operation atomically clears.
type ResyncOptions struct {
	DropDerivations bool
	DropOffers      bool
}

// Resync atomically drops coin states, mempool items and block timestamps,
// and optionally derivations and offers, per the flags in opts. Assets are
// never dropped: they're re-derivable metadata, not wallet-owned state.
func (s *Store) Resync(ctx context.Context, opts ResyncOptions) error {
	return s.WithTx(ctx, func(t *Tx) error {
		stmts := []string{
			`DELETE FROM transaction_spends`,
			`DELETE FROM mempool_items`,
			`DELETE FROM singleton_coins`,
			`DELETE FROM coin_states`,
			`UPDATE blocks SET timestamp = NULL, is_peak = 0`,
		}
		if opts.DropDerivations {
			stmts = append(stmts, `DELETE FROM derivations`)
		}
		if opts.DropOffers {
			stmts = append(stmts, `DELETE FROM offers`)
		}
		for _, stmt := range stmts {
			if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store: resync: %w", err)
			}
		}
		return nil
	})
}
