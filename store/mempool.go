package store

import (
	"context"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
)

// MempoolStatus is the submission cycle: new -> submitted -> {confirmed, failed}.
type MempoolStatus string

const (
	MempoolNew       MempoolStatus = "new"
	MempoolSubmitted MempoolStatus = "submitted"
	MempoolConfirmed MempoolStatus = "confirmed"
	MempoolFailed    MempoolStatus = "failed"
)

// SpendRole distinguishes a transaction_spends row's side of the bundle.
type SpendRole string

const (
	RoleInput  SpendRole = "input"
	RoleOutput SpendRole = "output"
)

// MempoolItem is the store's row shape for a pending or in-flight bundle.
type MempoolItem struct {
	SpendBundleID       chain.Hash
	AggregatedSignature chain.Signature
	SubmittedAt         int64
	LastAttemptAt       *int64
	Attempts            int
	Fee                 uint64
	ExpirationHeight    *uint32
	Status              MempoolStatus
	Spends              []chain.CoinSpend
	SpendRoles          map[chain.Hash]SpendRole
}

// InsertMempoolItem inserts a pending bundle and its coin-spend rows in one
// transaction, keeping insert -> submit -> update-status linearized.
// Submitting the same bundle twice recognizes the existing id via INSERT OR
// IGNORE semantics.
func (t *Tx) InsertMempoolItem(ctx context.Context, item MempoolItem) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO mempool_items
			(spend_bundle_id, aggregated_signature, submitted_at, fee, expiration_height, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(spend_bundle_id) DO NOTHING
	`, item.SpendBundleID[:], item.AggregatedSignature[:], item.SubmittedAt, item.Fee, item.ExpirationHeight, string(item.Status))
	if err != nil {
		return fmt.Errorf("store: insert mempool item %s: %w", item.SpendBundleID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // already present: no-op
	}
	for _, cs := range item.Spends {
		coinID := cs.Coin.ID()
		role := item.SpendRoles[coinID]
		if role == "" {
			role = RoleInput
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO transaction_spends (spend_bundle_id, coin_id, puzzle_reveal, solution, role)
			VALUES (?, ?, ?, ?, ?)
		`, item.SpendBundleID[:], coinID[:], []byte(cs.PuzzleReveal), []byte(cs.Solution), string(role)); err != nil {
			return fmt.Errorf("store: insert transaction spend %s: %w", coinID, err)
		}
	}
	return nil
}

// RemoveMempoolItem deletes a mempool row and its spend rows (on
// confirmation, failure, or explicit cancel).
func (t *Tx) RemoveMempoolItem(ctx context.Context, id chain.Hash) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM transaction_spends WHERE spend_bundle_id = ?`, id[:]); err != nil {
		return fmt.Errorf("store: remove transaction spends %s: %w", id, err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM mempool_items WHERE spend_bundle_id = ?`, id[:]); err != nil {
		return fmt.Errorf("store: remove mempool item %s: %w", id, err)
	}
	return nil
}

// FailMempoolItem unwinds a bundle every peer rejected: its input coins
// resurface as spendable again (clearing whatever spent marker this wallet
// had speculatively applied), any of its output coins already observed on
// chain are flagged for reclassification, and the mempool row itself is
// dropped.
func (t *Tx) FailMempoolItem(ctx context.Context, id chain.Hash, inputCoinIDs, outputCoinIDs []chain.Hash) error {
	for _, coinID := range inputCoinIDs {
		if _, err := t.tx.ExecContext(ctx, `
			UPDATE coin_states SET spent_height = NULL, spent_timestamp = NULL, transaction_id = NULL
			WHERE coin_id = ? AND transaction_id = ?
		`, coinID[:], id[:]); err != nil {
			return fmt.Errorf("store: resurface input %s: %w", coinID, err)
		}
	}
	for _, coinID := range outputCoinIDs {
		if _, err := t.tx.ExecContext(ctx, `
			UPDATE coin_states SET synced = 0 WHERE coin_id = ?
		`, coinID[:]); err != nil {
			return fmt.Errorf("store: unsync child %s: %w", coinID, err)
		}
	}
	return t.RemoveMempoolItem(ctx, id)
}

// UpdateMempoolStatus advances the status and bumps last_attempt_at/attempts.
func (t *Tx) UpdateMempoolStatus(ctx context.Context, id chain.Hash, status MempoolStatus, attemptedAt int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE mempool_items SET status = ?, last_attempt_at = ?, attempts = attempts + 1 WHERE spend_bundle_id = ?
	`, string(status), attemptedAt, id[:])
	if err != nil {
		return fmt.Errorf("store: update mempool status %s: %w", id, err)
	}
	return nil
}

// PendingMempoolItems returns up to m rows older than debounceSeconds since
// their last attempt, with fewer than maxAttempts attempts.
func (s *Store) PendingMempoolItems(ctx context.Context, m int, nowUnix, debounceSeconds int64, maxAttempts int) ([]MempoolItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT spend_bundle_id, aggregated_signature, submitted_at, last_attempt_at, attempts, fee, expiration_height, status
		FROM mempool_items
		WHERE status IN ('new', 'submitted')
		  AND attempts < ?
		  AND (last_attempt_at IS NULL OR ? - last_attempt_at >= ?)
		ORDER BY submitted_at
		LIMIT ?
	`, maxAttempts, nowUnix, debounceSeconds, m)
	if err != nil {
		return nil, fmt.Errorf("store: pending mempool items: %w", err)
	}
	var out []MempoolItem
	for rows.Next() {
		var item MempoolItem
		var id, sig []byte
		var status string
		if err := rows.Scan(&id, &sig, &item.SubmittedAt, &item.LastAttemptAt, &item.Attempts,
			&item.Fee, &item.ExpirationHeight, &status); err != nil {
			rows.Close()
			return nil, err
		}
		item.SpendBundleID, _ = chain.HashFromBytes(id)
		copy(item.AggregatedSignature[:], sig)
		item.Status = MempoolStatus(status)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close the cursor before the per-item spend queries: the store runs on
	// a single pooled connection, which an open result set would keep held.
	rows.Close()

	for i := range out {
		spends, roles, err := s.transactionSpends(ctx, out[i].SpendBundleID)
		if err != nil {
			return nil, err
		}
		out[i].Spends = spends
		out[i].SpendRoles = roles
	}
	return out, nil
}

func (s *Store) transactionSpends(ctx context.Context, bundleID chain.Hash) ([]chain.CoinSpend, map[chain.Hash]SpendRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts.puzzle_reveal, ts.solution, ts.role, cs.parent_coin_id, cs.puzzle_hash, cs.amount
		FROM transaction_spends ts JOIN coin_states cs ON cs.coin_id = ts.coin_id
		WHERE ts.spend_bundle_id = ?
	`, bundleID[:])
	if err != nil {
		return nil, nil, fmt.Errorf("store: transaction spends %s: %w", bundleID, err)
	}
	defer rows.Close()
	var spends []chain.CoinSpend
	roles := make(map[chain.Hash]SpendRole)
	for rows.Next() {
		var reveal, solution, role string
		var parent, puzzle []byte
		var amount uint64
		if err := rows.Scan(&reveal, &solution, &role, &parent, &puzzle, &amount); err != nil {
			return nil, nil, err
		}
		var cs chain.CoinSpend
		cs.PuzzleReveal = chain.Program(reveal)
		cs.Solution = chain.Program(solution)
		cs.Coin.ParentCoinID, _ = chain.HashFromBytes(parent)
		cs.Coin.PuzzleHash, _ = chain.HashFromBytes(puzzle)
		cs.Coin.Amount = amount
		spends = append(spends, cs)
		roles[cs.Coin.ID()] = SpendRole(role)
	}
	return spends, roles, rows.Err()
}
