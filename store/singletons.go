package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
)

// SingletonKind distinguishes the three singleton lineages the wallet
// tracks as an ownership graph.
type SingletonKind string

const (
	SingletonNft    SingletonKind = "nft"
	SingletonDid    SingletonKind = "did"
	SingletonOption SingletonKind = "option"
)

// SingletonCoin is the structured row written by the puzzle queue for an
// NFT, DID or option coin — keyed by the immutable launcher id with the
// mutable current coin reached by lookup.
type SingletonCoin struct {
	CoinID             chain.Hash
	LauncherID         chain.Hash
	Kind               SingletonKind
	Lineage            chain.LineageProof
	P2PuzzleHash       chain.Hash
	Metadata           []byte
	OwnerDID           *chain.Hash
	RoyaltyPuzzleHash  *chain.Hash
	RoyaltyBasisPoints *uint16
	Extra              map[string]any
}

// UpsertSingletonCoin writes a classified NFT/DID/option row, keyed on the
// coin id with a secondary index on launcher id.
func (t *Tx) UpsertSingletonCoin(ctx context.Context, sc SingletonCoin) error {
	var extraJSON []byte
	if sc.Extra != nil {
		var err error
		extraJSON, err = json.Marshal(sc.Extra)
		if err != nil {
			return fmt.Errorf("store: marshal singleton extra: %w", err)
		}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO singleton_coins
			(coin_id, launcher_id, kind, parent_parent_coin_id, parent_inner_puzzle_hash, parent_amount,
			 is_eve, p2_puzzle_hash, metadata, owner_did, royalty_puzzle_hash, royalty_basis_points, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(coin_id) DO UPDATE SET
			owner_did = excluded.owner_did,
			extra     = excluded.extra
	`,
		sc.CoinID[:], sc.LauncherID[:], string(sc.Kind),
		hashPtrBytes(&sc.Lineage.ParentParentCoinID), hashPtrBytes(&sc.Lineage.ParentInnerPuzzleHash), sc.Lineage.ParentAmount,
		boolInt(sc.Lineage.IsEve), sc.P2PuzzleHash[:], sc.Metadata,
		hashPtrBytes(sc.OwnerDID), hashPtrBytes(sc.RoyaltyPuzzleHash), sc.RoyaltyBasisPoints, extraJSON,
	)
	if err != nil {
		return fmt.Errorf("store: upsert singleton coin %s: %w", sc.CoinID, err)
	}
	return nil
}

// UnfetchedNftCoins returns up to limit NFT singleton rows whose off-chain
// metadata has never been fetched, for the NFT-URI queue's sweep.
func (s *Store) UnfetchedNftCoins(ctx context.Context, limit int) ([]SingletonCoin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT coin_id, kind, parent_parent_coin_id, parent_inner_puzzle_hash, parent_amount,
		       is_eve, p2_puzzle_hash, metadata, owner_did, royalty_puzzle_hash, royalty_basis_points, extra, launcher_id
		FROM singleton_coins WHERE kind = 'nft' AND metadata_fetched_at IS NULL LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: unfetched nft coins: %w", err)
	}
	defer rows.Close()
	var out []SingletonCoin
	for rows.Next() {
		var sc SingletonCoin
		var coinID, parentParent, parentInner, p2, ownerDID, royaltyPH, extraJSON, launcherID []byte
		var kind string
		var isEve int
		var royaltyBP sql.NullInt64
		if err := rows.Scan(&coinID, &kind, &parentParent, &parentInner, &sc.Lineage.ParentAmount,
			&isEve, &p2, &sc.Metadata, &ownerDID, &royaltyPH, &royaltyBP, &extraJSON, &launcherID); err != nil {
			return nil, err
		}
		sc.CoinID, _ = chain.HashFromBytes(coinID)
		sc.LauncherID, _ = chain.HashFromBytes(launcherID)
		sc.Kind = SingletonKind(kind)
		sc.Lineage.ParentParentCoinID, _ = chain.HashFromBytes(parentParent)
		sc.Lineage.ParentInnerPuzzleHash, _ = chain.HashFromBytes(parentInner)
		sc.Lineage.IsEve = isEve != 0
		sc.P2PuzzleHash, _ = chain.HashFromBytes(p2)
		if len(ownerDID) == 32 {
			h, _ := chain.HashFromBytes(ownerDID)
			sc.OwnerDID = &h
		}
		if len(royaltyPH) == 32 {
			h, _ := chain.HashFromBytes(royaltyPH)
			sc.RoyaltyPuzzleHash = &h
		}
		if royaltyBP.Valid {
			bp := uint16(royaltyBP.Int64)
			sc.RoyaltyBasisPoints = &bp
		}
		if len(extraJSON) > 0 {
			_ = json.Unmarshal(extraJSON, &sc.Extra)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// MarkNftMetadataFetched records that a coin's off-chain metadata has been
// retrieved, so UnfetchedNftCoins stops returning it.
func (t *Tx) MarkNftMetadataFetched(ctx context.Context, coinID chain.Hash, fetchedAt int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE singleton_coins SET metadata_fetched_at = ? WHERE coin_id = ?`, fetchedAt, coinID[:])
	if err != nil {
		return fmt.Errorf("store: mark nft metadata fetched %s: %w", coinID, err)
	}
	return nil
}

// SingletonsByLauncher returns every recorded coin in a launcher's lineage,
// most-recently-observed first (the wallet's view of "current" state is the
// row whose coin_id's coin_state has no spent_height).
func (s *Store) SingletonsByLauncher(ctx context.Context, launcherID chain.Hash) ([]SingletonCoin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT coin_id, kind, parent_parent_coin_id, parent_inner_puzzle_hash, parent_amount,
		       is_eve, p2_puzzle_hash, metadata, owner_did, royalty_puzzle_hash, royalty_basis_points, extra
		FROM singleton_coins WHERE launcher_id = ? ORDER BY rowid DESC
	`, launcherID[:])
	if err != nil {
		return nil, fmt.Errorf("store: singletons by launcher %s: %w", launcherID, err)
	}
	defer rows.Close()
	var out []SingletonCoin
	for rows.Next() {
		sc := SingletonCoin{LauncherID: launcherID}
		var coinID, parentParent, parentInner, p2, ownerDID, royaltyPH, extraJSON []byte
		var kind string
		var isEve int
		var royaltyBP sql.NullInt64
		if err := rows.Scan(&coinID, &kind, &parentParent, &parentInner, &sc.Lineage.ParentAmount,
			&isEve, &p2, &sc.Metadata, &ownerDID, &royaltyPH, &royaltyBP, &extraJSON); err != nil {
			return nil, err
		}
		sc.CoinID, _ = chain.HashFromBytes(coinID)
		sc.Kind = SingletonKind(kind)
		sc.Lineage.ParentParentCoinID, _ = chain.HashFromBytes(parentParent)
		sc.Lineage.ParentInnerPuzzleHash, _ = chain.HashFromBytes(parentInner)
		sc.Lineage.IsEve = isEve != 0
		sc.P2PuzzleHash, _ = chain.HashFromBytes(p2)
		if len(ownerDID) == 32 {
			h, _ := chain.HashFromBytes(ownerDID)
			sc.OwnerDID = &h
		}
		if len(royaltyPH) == 32 {
			h, _ := chain.HashFromBytes(royaltyPH)
			sc.RoyaltyPuzzleHash = &h
		}
		if royaltyBP.Valid {
			bp := uint16(royaltyBP.Int64)
			sc.RoyaltyBasisPoints = &bp
		}
		if len(extraJSON) > 0 {
			_ = json.Unmarshal(extraJSON, &sc.Extra)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
