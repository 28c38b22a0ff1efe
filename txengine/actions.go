// Package txengine implements the transaction engine: the action-based
// spend builder that compiles a list of high-level requests into a set of
// signed coin spends.
//
// Compilation runs in six stages — summarize, preselect, select, assign,
// emit, sign — mirroring the same job-per-item fan-out shape the mempool
// queue uses to drain what this package produces. Condition values are
// built with package clvm; signing walks package derive's synthetic key
// derivation.
package txengine

import "github.com/rawblock/lightwallet/chain"

// AssetRefKind distinguishes how an action names the asset it moves.
type AssetRefKind string

const (
	AssetXch      AssetRefKind = "xch"
	AssetExisting AssetRefKind = "existing"
	AssetNew      AssetRefKind = "new"
)

// AssetRef is the `id` field shared by several actions: `Xch |
// Existing(asset_hash) | New(index)`.
type AssetRef struct {
	Kind  AssetRefKind
	Hash  chain.Hash // AssetExisting
	Index uint32     // AssetNew: refers to an asset minted earlier in the same action list
}

// Xch refers to the chain's native coin.
func Xch() AssetRef { return AssetRef{Kind: AssetXch} }

// ExistingAsset refers to an already-known asset by hash (CAT tail hash,
// NFT/DID/option launcher id).
func ExistingAsset(hash chain.Hash) AssetRef { return AssetRef{Kind: AssetExisting, Hash: hash} }

// NewAsset refers to an asset minted by an earlier action in the same
// compilation (e.g. issue_cat followed by send_cat in one action list).
func NewAsset(index uint32) AssetRef { return AssetRef{Kind: AssetNew, Index: index} }

// Action is the sum type of every request the engine can compile. Each
// concrete action type below implements it; Engine.Compile type-switches
// over the list.
type Action interface{ isAction() }

// Fee reserves amount as an absolute transaction fee.
type Fee struct{ Amount uint64 }

// Send moves amount of an asset to puzzleHash, hinting memos for non-XCH
// assets and optionally clawback-wrapping the output.
type Send struct {
	Asset           AssetRef
	PuzzleHash      chain.Hash
	Amount          uint64
	Memos           [][]byte
	ClawbackSeconds *int64
}

// IssueCat mints a brand-new CAT asset, establishing its eve coin under
// P2PuzzleHash (an address this wallet already controls).
type IssueCat struct {
	Name         string
	Ticker       string
	Amount       uint64
	Precision    int
	P2PuzzleHash chain.Hash
}

// MintNft mints one NFT, with the new singleton's p2 layer assigned to
// P2PuzzleHash. The launcher is funded from a coin the engine selects from
// the wallet's own XCH; ParentID is not read.
type MintNft struct {
	ParentID           chain.Hash
	P2PuzzleHash       chain.Hash
	Metadata           []byte
	RoyaltyAddress     *chain.Hash
	RoyaltyBasisPoints uint16
	OwnerDID           *chain.Hash
}

// UpdateNft reassigns an NFT's owning DID when TransferTargetDID is set.
// NewURISpends is not read: no URIs are added.
type UpdateNft struct {
	ID                chain.Hash // launcher id
	NewURISpends      [][]byte
	TransferTargetDID *chain.Hash
}

// CreateDid mints a new DID singleton under P2PuzzleHash.
type CreateDid struct {
	Name         string
	P2PuzzleHash chain.Hash
}

// TransferDid reassigns a DID's p2 ownership to target.
type TransferDid struct {
	ID     chain.Hash // launcher id
	Target chain.Hash
}

// NormalizeDid re-spends a DID to itself, clearing any stale metadata
// update left over from an interrupted prior spend.
type NormalizeDid struct {
	ID chain.Hash
}

// OfferedAsset is one line of an offer's maker or taker side.
type OfferedAsset struct {
	Asset  AssetRef
	Amount uint64
	// NftLauncherID is set instead of Amount/Asset for a singleton leg.
	NftLauncherID *chain.Hash
}

// MakeOffer constructs (but does not broadcast) a new offer trading
// makerSide for takerSide.
type MakeOffer struct {
	MakerSide []OfferedAsset
	TakerSide []OfferedAsset
	ExpiresAt *int64
}

// TakeOffer accepts an imported offer blob, paying fee on top.
type TakeOffer struct {
	Bundle chain.SpendBundle
	Fee    uint64
}

// CancelOffer withdraws a maker's own unfulfilled offer by re-spending its
// locked coins back to the wallet.
type CancelOffer struct {
	ID chain.Hash
}

// MintOption creates a new option-contract singleton over underlying,
// exercisable within seconds for strike, owned by owner.
type MintOption struct {
	Underlying chain.Hash
	Strike     OfferedAsset
	Seconds    int64
	Owner      chain.Hash
}

// ExerciseOption exercises an option contract before its expiration.
type ExerciseOption struct {
	ID chain.Hash // launcher id
}

// TransferOption reassigns an option contract's owner.
type TransferOption struct {
	ID     chain.Hash
	Target chain.Hash
}

// Combine merges several coins of the same asset into one output coin.
type Combine struct {
	CoinIDs []chain.Hash
	Fee     uint64
}

// Split divides the combined value of several coins into outputCount equal
// new coins.
type Split struct {
	CoinIDs     []chain.Hash
	OutputCount int
	Fee         uint64
}

func (Fee) isAction()            {}
func (Send) isAction()           {}
func (IssueCat) isAction()       {}
func (MintNft) isAction()        {}
func (UpdateNft) isAction()      {}
func (CreateDid) isAction()      {}
func (TransferDid) isAction()    {}
func (NormalizeDid) isAction()   {}
func (MakeOffer) isAction()      {}
func (TakeOffer) isAction()      {}
func (CancelOffer) isAction()    {}
func (MintOption) isAction()     {}
func (ExerciseOption) isAction() {}
func (TransferOption) isAction() {}
func (Combine) isAction()        {}
func (Split) isAction()          {}
