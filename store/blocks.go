package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
)

// Block is the store's row shape for a known block height.
type Block struct {
	Height     uint32
	HeaderHash chain.Hash
	Timestamp  *int64
	IsPeak     bool
}

// RecordPeak upserts the new chain tip, clearing is_peak from any previous
// row so at most one row ever carries it.
func (t *Tx) RecordPeak(ctx context.Context, b Block) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE blocks SET is_peak = 0 WHERE is_peak = 1`); err != nil {
		return fmt.Errorf("store: clear previous peak: %w", err)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO blocks (height, header_hash, timestamp, is_peak)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(height) DO UPDATE SET header_hash = excluded.header_hash, is_peak = 1
	`, b.Height, b.HeaderHash[:], b.Timestamp)
	if err != nil {
		return fmt.Errorf("store: record peak %d: %w", b.Height, err)
	}
	return nil
}

// LatestPeak returns the current chain tip, or nil if none recorded yet.
func (s *Store) LatestPeak(ctx context.Context) (*Block, error) {
	row := s.db.QueryRowContext(ctx, `SELECT height, header_hash, timestamp FROM blocks WHERE is_peak = 1`)
	var b Block
	var headerHash []byte
	if err := row.Scan(&b.Height, &headerHash, &b.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: latest peak: %w", err)
	}
	b.HeaderHash, _ = chain.HashFromBytes(headerHash)
	b.IsPeak = true
	return &b, nil
}

// InsertBlockTimestamp backfills a block's timestamp and back-propagates it
// to every coin_states row created or spent at that height. This is the
// only cascade performed: already-classified NFT/DID rows read the
// timestamp through a join to coin_states rather than duplicating it.
func (t *Tx) InsertBlockTimestamp(ctx context.Context, height uint32, timestamp int64) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO blocks (height, header_hash, timestamp, is_peak)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(height) DO UPDATE SET timestamp = excluded.timestamp
	`, height, chain.ZeroHash[:], timestamp); err != nil {
		return fmt.Errorf("store: insert block timestamp %d: %w", height, err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE coin_states SET created_timestamp = ? WHERE created_height = ? AND created_timestamp IS NULL
	`, timestamp, height); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE coin_states SET spent_timestamp = ? WHERE spent_height = ? AND spent_timestamp IS NULL
	`, timestamp, height); err != nil {
		return err
	}
	return nil
}

// MissingBlockTimes returns heights referenced by a coin_states row
// (created or spent) that have no timestamp recorded yet.
func (s *Store) MissingBlockTimes(ctx context.Context, limit int) ([]uint32, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT h FROM (
			SELECT created_height AS h FROM coin_states WHERE created_height IS NOT NULL
			UNION
			SELECT spent_height AS h FROM coin_states WHERE spent_height IS NOT NULL
		)
		WHERE h NOT IN (SELECT height FROM blocks WHERE timestamp IS NOT NULL)
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: missing block times: %w", err)
	}
	defer rows.Close()
	var out []uint32
	for rows.Next() {
		var h uint32
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
