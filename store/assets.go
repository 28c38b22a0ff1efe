package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
)

// AssetKind is the closed set of asset kinds a coin can classify to.
type AssetKind string

const (
	AssetToken  AssetKind = "token"
	AssetNft    AssetKind = "nft"
	AssetDid    AssetKind = "did"
	AssetOption AssetKind = "option"
)

// Asset is the store's row shape for a classified token/nft/did/option.
type Asset struct {
	Hash             chain.Hash
	Kind             AssetKind
	Name             string
	Ticker           string
	IconURL          string
	Description      string
	Precision        int
	IsSensitive      bool
	IsVisible        bool
	HiddenPuzzleHash *chain.Hash
	FeePolicy        string
}

// UpsertAsset inserts or enriches an asset row. (hash, kind) uniquely
// identifies an asset.
func (t *Tx) UpsertAsset(ctx context.Context, a Asset) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO assets (asset_hash, kind, name, ticker, icon_url, description, precision,
		                     is_sensitive, is_visible, hidden_puzzle_hash, fee_policy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_hash, kind) DO UPDATE SET
			name        = CASE WHEN excluded.name <> '' THEN excluded.name ELSE assets.name END,
			ticker      = CASE WHEN excluded.ticker <> '' THEN excluded.ticker ELSE assets.ticker END,
			icon_url    = CASE WHEN excluded.icon_url <> '' THEN excluded.icon_url ELSE assets.icon_url END,
			description = CASE WHEN excluded.description <> '' THEN excluded.description ELSE assets.description END
	`, a.Hash[:], string(a.Kind), a.Name, a.Ticker, a.IconURL, a.Description, a.Precision,
		boolInt(a.IsSensitive), boolInt(a.IsVisible), hashPtrBytes(a.HiddenPuzzleHash), a.FeePolicy)
	if err != nil {
		return fmt.Errorf("store: upsert asset %s: %w", a.Hash, err)
	}
	return nil
}

// AssetByHash returns the asset row for a hash/kind pair, or nil if absent
// (coin rows may reference an asset not yet enriched).
func (s *Store) AssetByHash(ctx context.Context, hash chain.Hash, kind AssetKind) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, ticker, icon_url, description, precision, is_sensitive, is_visible, hidden_puzzle_hash, fee_policy
		FROM assets WHERE asset_hash = ? AND kind = ?
	`, hash[:], string(kind))
	a := Asset{Hash: hash, Kind: kind}
	var isSensitive, isVisible int
	var hiddenPH []byte
	if err := row.Scan(&a.Name, &a.Ticker, &a.IconURL, &a.Description, &a.Precision,
		&isSensitive, &isVisible, &hiddenPH, &a.FeePolicy); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: asset %s: %w", hash, err)
	}
	a.IsSensitive = isSensitive != 0
	a.IsVisible = isVisible != 0
	if len(hiddenPH) == 32 {
		h, _ := chain.HashFromBytes(hiddenPH)
		a.HiddenPuzzleHash = &h
	}
	return &a, nil
}
