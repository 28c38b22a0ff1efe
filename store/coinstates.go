package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
)

// ChildKind mirrors puzzlequeue's classification sum type, stored as text
// so ad-hoc SQL queries and dashboard-style read paths stay readable.
type ChildKind string

const (
	KindLauncher ChildKind = "launcher"
	KindToken    ChildKind = "token"
	KindNft      ChildKind = "nft"
	KindDid      ChildKind = "did"
	KindOption   ChildKind = "option"
	KindUnknown  ChildKind = "unknown"
	KindOrphaned ChildKind = "orphaned"
)

// CoinState is the store's row shape for an observed coin.
type CoinState struct {
	Coin             chain.Coin
	CreatedHeight    *uint32
	SpentHeight      *uint32
	CreatedTimestamp *int64
	SpentTimestamp   *int64
	Kind             ChildKind
	AssetHash        *chain.Hash
	Hint             *chain.Hash
	Owned            bool
	TransactionID    *chain.Hash
	Synced           bool
}

// UpsertCoinState inserts a newly observed coin state or updates the
// heights/timestamps of an existing one. A coin state received twice
// (network retransmission) produces one row, never a duplicate.
func (t *Tx) UpsertCoinState(ctx context.Context, cs CoinState) error {
	coinID := cs.Coin.ID()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO coin_states
			(coin_id, parent_coin_id, puzzle_hash, amount, created_height, spent_height,
			 created_timestamp, spent_timestamp, kind, asset_hash, hint, owned, transaction_id, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(coin_id) DO UPDATE SET
			created_height    = COALESCE(excluded.created_height, coin_states.created_height),
			spent_height      = COALESCE(excluded.spent_height, coin_states.spent_height),
			created_timestamp = COALESCE(excluded.created_timestamp, coin_states.created_timestamp),
			spent_timestamp   = COALESCE(excluded.spent_timestamp, coin_states.spent_timestamp),
			transaction_id    = COALESCE(excluded.transaction_id, coin_states.transaction_id)
	`,
		coinID[:], cs.Coin.ParentCoinID[:], cs.Coin.PuzzleHash[:], cs.Coin.Amount,
		cs.CreatedHeight, cs.SpentHeight, cs.CreatedTimestamp, cs.SpentTimestamp,
		string(cs.Kind), hashPtrBytes(cs.AssetHash), hashPtrBytes(cs.Hint), boolInt(cs.Owned), hashPtrBytes(cs.TransactionID), boolInt(cs.Synced),
	)
	if err != nil {
		return fmt.Errorf("store: upsert coin state %s: %w", coinID, err)
	}
	return nil
}

// MarkSpent records the height (and optionally timestamp) a coin was spent
// at, and the spend bundle responsible, enforcing spent_height >=
// created_height by construction: callers only ever learn a spent height
// from a peer response for a coin whose created_height is already known to
// be <= the chain tip.
func (t *Tx) MarkSpent(ctx context.Context, coinID chain.Hash, spentHeight uint32, timestamp *int64, txID *chain.Hash) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE coin_states SET spent_height = ?, spent_timestamp = ?, transaction_id = COALESCE(?, transaction_id)
		WHERE coin_id = ?
	`, spentHeight, timestamp, hashPtrBytes(txID), coinID[:])
	if err != nil {
		return fmt.Errorf("store: mark spent %s: %w", coinID, err)
	}
	return nil
}

// MarkProcessed flips the synced flag once the puzzle queue has written a
// structured row for this coin. assetHash is nil for XCH and Unknown coins,
// and the asset's hash (CAT tail hash or singleton launcher id) otherwise —
// it is what SpendableCoinsFor filters on.
func (t *Tx) MarkProcessed(ctx context.Context, coinID chain.Hash, kind ChildKind, assetHash, hint *chain.Hash, owned bool) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE coin_states SET synced = 1, kind = ?, asset_hash = ?, hint = ?, owned = ? WHERE coin_id = ?
	`, string(kind), hashPtrBytes(assetHash), hashPtrBytes(hint), boolInt(owned), coinID[:])
	if err != nil {
		return fmt.Errorf("store: mark processed %s: %w", coinID, err)
	}
	return nil
}

// CoinStateByID looks up a single coin state, used by the puzzle queue to
// fetch a parent's current row.
func (s *Store) CoinStateByID(ctx context.Context, coinID chain.Hash) (*CoinState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT parent_coin_id, puzzle_hash, amount, created_height, spent_height,
		       created_timestamp, spent_timestamp, kind, asset_hash, hint, owned, transaction_id, synced
		FROM coin_states WHERE coin_id = ?
	`, coinID[:])
	return scanCoinState(row)
}

// UnsyncedCoinStates returns up to n rows the puzzle queue has not yet
// classified. Ordering is unspecified but stable within a transaction — we
// order by rowid, sqlite's natural insertion order, satisfying that
// requirement trivially.
func (s *Store) UnsyncedCoinStates(ctx context.Context, n int) ([]CoinState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_coin_id, puzzle_hash, amount, created_height, spent_height,
		       created_timestamp, spent_timestamp, kind, asset_hash, hint, owned, transaction_id, synced
		FROM coin_states WHERE synced = 0 ORDER BY rowid LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("store: unsynced coin states: %w", err)
	}
	defer rows.Close()
	var out []CoinState
	for rows.Next() {
		cs, err := scanCoinState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, rows.Err()
}

// SpendableCoinsFor returns unspent, non-mempool-locked coins for an asset
// hash. A coin is mempool-locked if it appears as an input in any
// non-terminal mempool row. kind must be KindUnknown for
// native XCH (plain p2 coins never match a CAT/NFT/DID/option template, so
// they classify as Unknown) — in that case assetHash is ignored and every
// owned, asset-hash-less Unknown coin qualifies; for every other kind,
// assetHash pins the query to that one asset's coins.
func (s *Store) SpendableCoinsFor(ctx context.Context, assetHash chain.Hash, kind ChildKind) ([]CoinState, error) {
	assetFilter := "cs.asset_hash = ?"
	args := []any{string(kind), assetHash[:]}
	if kind == KindUnknown {
		assetFilter = "cs.asset_hash IS NULL"
		args = []any{string(kind)}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT cs.parent_coin_id, cs.puzzle_hash, cs.amount, cs.created_height, cs.spent_height,
		       cs.created_timestamp, cs.spent_timestamp, cs.kind, cs.asset_hash, cs.hint, cs.owned, cs.transaction_id, cs.synced
		FROM coin_states cs
		WHERE cs.spent_height IS NULL
		  AND cs.owned = 1
		  AND cs.kind = ?
		  AND `+assetFilter+`
		  AND NOT EXISTS (
		    SELECT 1 FROM transaction_spends ts
		    JOIN mempool_items mi ON mi.spend_bundle_id = ts.spend_bundle_id
		    WHERE ts.coin_id = cs.coin_id
		      AND ts.role = 'input'
		      AND mi.status NOT IN ('confirmed', 'failed')
		  )
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: spendable coins for %s: %w", assetHash, err)
	}
	defer rows.Close()
	var out []CoinState
	for rows.Next() {
		cs, err := scanCoinState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, rows.Err()
}

// CoinStatesByPuzzleHash returns every unspent coin state whose puzzle hash
// matches puzzleHash, used by the transaction engine to find a maker's own
// settlement-locked coins when cancelling an offer: CancelOffer has no
// stored offer-to-coin index to join against, so this is the same shape of
// scan SpendableCoinsFor does, keyed on puzzle hash instead of asset hash.
func (s *Store) CoinStatesByPuzzleHash(ctx context.Context, puzzleHash chain.Hash) ([]CoinState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_coin_id, puzzle_hash, amount, created_height, spent_height,
		       created_timestamp, spent_timestamp, kind, asset_hash, hint, owned, transaction_id, synced
		FROM coin_states WHERE puzzle_hash = ? AND spent_height IS NULL
	`, puzzleHash[:])
	if err != nil {
		return nil, fmt.Errorf("store: coin states by puzzle hash %s: %w", puzzleHash, err)
	}
	defer rows.Close()
	var out []CoinState
	for rows.Next() {
		cs, err := scanCoinState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoinState(row rowScanner) (*CoinState, error) {
	var cs CoinState
	var parentBytes, puzzleBytes []byte
	var kind string
	var assetHashBytes, hintBytes, txIDBytes []byte
	var owned, synced int
	err := row.Scan(&parentBytes, &puzzleBytes, &cs.Coin.Amount, &cs.CreatedHeight, &cs.SpentHeight,
		&cs.CreatedTimestamp, &cs.SpentTimestamp, &kind, &assetHashBytes, &hintBytes, &owned, &txIDBytes, &synced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan coin state: %w", err)
	}
	cs.Coin.ParentCoinID, _ = chain.HashFromBytes(parentBytes)
	cs.Coin.PuzzleHash, _ = chain.HashFromBytes(puzzleBytes)
	cs.Kind = ChildKind(kind)
	cs.Owned = owned != 0
	cs.Synced = synced != 0
	if len(assetHashBytes) == 32 {
		h, _ := chain.HashFromBytes(assetHashBytes)
		cs.AssetHash = &h
	}
	if len(hintBytes) == 32 {
		h, _ := chain.HashFromBytes(hintBytes)
		cs.Hint = &h
	}
	if len(txIDBytes) == 32 {
		h, _ := chain.HashFromBytes(txIDBytes)
		cs.TransactionID = &h
	}
	return &cs, nil
}

func hashPtrBytes(h *chain.Hash) []byte {
	if h == nil {
		return nil
	}
	return h[:]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
