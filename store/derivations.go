package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
)

// Derivation is the store's row shape for a generated child key.
type Derivation struct {
	PuzzleHash      chain.Hash
	Index           uint32
	Hardened        bool
	SyntheticPubkey chain.PublicKey
}

// InsertDerivation records a batch-generated derivation. (index, hardened)
// is unique.
func (t *Tx) InsertDerivation(ctx context.Context, d Derivation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO derivations (derivation_index, hardened, puzzle_hash, synthetic_pubkey)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(derivation_index, hardened) DO NOTHING
	`, d.Index, boolInt(d.Hardened), d.PuzzleHash[:], d.SyntheticPubkey[:])
	if err != nil {
		return fmt.Errorf("store: insert derivation %d/%v: %w", d.Index, d.Hardened, err)
	}
	return nil
}

// DerivationIndex returns the highest generated index for the given
// hardened mode, or -1 if none exist yet.
func (s *Store) DerivationIndex(ctx context.Context, hardened bool) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT MAX(derivation_index) FROM derivations WHERE hardened = ?
	`, boolInt(hardened))
	var max sql.NullInt64
	if err := row.Scan(&max); err != nil {
		return -1, fmt.Errorf("store: derivation index: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return max.Int64, nil
}

// DerivationAt looks up the derivation at a specific (index, hardened), or
// nil if that index hasn't been generated yet. Used by callers that need a
// concrete spendable address for change outputs rather than an ownership
// check keyed by puzzle hash.
func (s *Store) DerivationAt(ctx context.Context, index uint32, hardened bool) (*Derivation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT puzzle_hash, synthetic_pubkey FROM derivations WHERE derivation_index = ? AND hardened = ?
	`, index, boolInt(hardened))
	d := Derivation{Index: index, Hardened: hardened}
	var ph, pk []byte
	if err := row.Scan(&ph, &pk); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: derivation at %d/%v: %w", index, hardened, err)
	}
	d.PuzzleHash, _ = chain.HashFromBytes(ph)
	copy(d.SyntheticPubkey[:], pk)
	return &d, nil
}

// AllPuzzleHashes returns every generated derivation's puzzle hash, the
// full set the sync manager fans out to peers as on-chain activity
// subscriptions.
func (s *Store) AllPuzzleHashes(ctx context.Context) ([]chain.Hash, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT puzzle_hash FROM derivations`)
	if err != nil {
		return nil, fmt.Errorf("store: all puzzle hashes: %w", err)
	}
	defer rows.Close()
	var out []chain.Hash
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("store: scan puzzle hash: %w", err)
		}
		h, err := chain.HashFromBytes(b)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DerivationByPuzzleHash looks up the derivation owning a puzzle hash, used
// by the puzzle queue to decide whether a coin is owned.
func (s *Store) DerivationByPuzzleHash(ctx context.Context, puzzleHash chain.Hash) (*Derivation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT derivation_index, hardened, synthetic_pubkey FROM derivations WHERE puzzle_hash = ?
	`, puzzleHash[:])
	var d Derivation
	d.PuzzleHash = puzzleHash
	var hardened int
	var pk []byte
	if err := row.Scan(&d.Index, &hardened, &pk); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	d.Hardened = hardened != 0
	copy(d.SyntheticPubkey[:], pk)
	return &d, nil
}
