package puzzlequeue

import (
	"context"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/clvm"
	"github.com/rawblock/lightwallet/peer"
	"github.com/rawblock/lightwallet/store"
)

// TokenLayerHash is the tree hash of the curried CAT2-style fungible token
// layer puzzle: TokenLayer(asset_hash, inner_puzzle).
var TokenLayerHash = mustHash32("997dd2e783595ce7a8e5473f43b5f11c0accfca84a846e89d59be22e6361950d")

// NftStateLayerHash is the tree hash of the NFT state layer puzzle
// wrapping an NFT ownership layer: Nft(info, inner).
var NftStateLayerHash = mustHash32("0770ca64d253b6b6b661893bd9c61a030f6f199bffb695f18400f86d693257f6")

// DidInnerLayerHash is the tree hash of the DID innerpuz layer: Did(info,
// inner).
var DidInnerLayerHash = mustHash32("9409cf4a87062f3f39a6f5c17b86397e111d6b04d4093acbad6f51217b45476e")

// TokenLayerTemplate, NftStateLayerTemplate, DidInnerLayerTemplate,
// OptionLayerTemplate and LauncherTemplate are the uncurried mod puzzles
// whose tree hashes are pinned above. The classifier here only ever needs
// the hash, but txengine embeds these same templates to curry and reveal
// coins of each kind when it mints or re-spends them, the same way
// derive.StandardPuzzleTemplate lets it reveal an ordinary p2 coin without
// recompiling CLVM at runtime.
var (
	TokenLayerTemplate    = clvm.Atom(mustHex("ff02ffff01ff02ffff03ffff22ffff09ffff0dff0580ffff012080ffff09ffff0dff0b80ffff01208080ffff01ff02ff2effff04ff02ffff04ff05ffff04ff0bffff04ff17ff80808080808080ffff01ff088080ff0180ffff04ffff01ff02ffff03ffff07ff0580ffff01ff0bffff0102ffff02ff04ffff04ff02ffff04ff09ff80808080ffff02ff04ffff04ff02ffff04ff0dff8080808080ffff01ff0bffff0101ff058080ff0180ff018080"))
	NftStateLayerTemplate = clvm.Atom(mustHex("ff02ffff01ff02ff0affff04ff02ffff04ff05ffff04ff0bffff04ff17ffff04ff2fff80808080808080ffff04ffff01ffff02ffff03ffff09ff05ffff01818f80ffff01ff0880ffff01ff04ff0bff0580ff0180ff018080"))
	DidInnerLayerTemplate = clvm.Atom(mustHex("ff02ffff01ff02ff16ffff04ff02ffff04ff05ffff04ff0bffff04ff17ff808080808080ffff04ffff01ff02ffff03ffff09ff05ffff01818f80ffff01ff0880ffff01ff02ff0bff0580ff0180ff018080"))
	OptionLayerTemplate   = clvm.Atom(mustHex("ff02ffff01ff02ff1affff04ff02ffff04ff05ffff04ff0bffff04ff17ffff04ff2fffff04ff5fff80808080808080808080ffff04ffff01ffff02ffff03ffff09ff05ffff01818f80ffff01ff0880ffff01ff04ff0bff0580ff0180ff018080"))
	LauncherTemplate      = clvm.Atom(mustHex("ff02ffff01ff04ffff04ff04ffff04ff05ffff04ff0bff80808080ffff04ffff04ff06ffff04ff0bff808080ff808080ffff04ffff01ff3343ff5233ff018080"))
)

// innerHashArg resolves a layer's curried inner-puzzle argument to a
// puzzle hash: every layer here is curried with the inner puzzle hash
// committed as a 32-byte atom, with a full inner program tree-hashed as a
// fallback.
func innerHashArg(v clvm.Value) chain.Hash {
	if h, err := chain.HashFromBytes(v.Atom); err == nil {
		return h
	}
	return clvm.TreeHash(v)
}

// tryTokenTemplate parses the parent as TokenLayer(asset_hash, inner_puzzle):
// the first curried arg is the asset's tail hash, the second is the p2
// inner puzzle. It requires the lineage proof to be present; eve coins fall
// through to Unknown.
func (q *Queue) tryTokenTemplate(cs store.CoinState, modHash chain.Hash, args []clvm.Value, lineage chain.LineageProof, hint *chain.Hash) (classification, bool) {
	if modHash != TokenLayerHash || len(args) < 2 || lineage.IsEve {
		return classification{}, false
	}
	assetHash, err := chain.HashFromBytes(args[0].Atom)
	if err != nil {
		return classification{}, false
	}

	asset := &store.Asset{Hash: assetHash, Kind: store.AssetToken}
	return classification{
		kind:  store.KindToken,
		hint:  hint,
		asset: asset,
	}, true
}

// tryNftTemplate parses the parent as a state-layer-wrapped NFT singleton:
// its curried args are (launcher_id, metadata, royalty_basis_points,
// royalty_puzzle_hash, [owner_did,] inner), where owner_did is read only
// when six or more args are present and the last arg is the ownership/
// transfer inner puzzle.
func (q *Queue) tryNftTemplate(cs store.CoinState, modHash chain.Hash, args []clvm.Value, lineage chain.LineageProof, hint *chain.Hash) (classification, bool) {
	if modHash != NftStateLayerHash || len(args) < 4 || lineage.IsEve {
		return classification{}, false
	}
	launcherID, err := chain.HashFromBytes(args[0].Atom)
	if err != nil {
		return classification{}, false
	}
	metadataProgram := args[1]
	innerPuzzleHash := innerHashArg(args[len(args)-1])

	var royaltyBP *uint16
	var royaltyPH *chain.Hash
	if bp, err := args[2].AsInt(); err == nil {
		v := uint16(bp)
		royaltyBP = &v
	}
	if ph, err := chain.HashFromBytes(args[3].Atom); err == nil {
		royaltyPH = &ph
	}
	var ownerDID *chain.Hash
	if len(args) >= 6 {
		if ph, err := chain.HashFromBytes(args[4].Atom); err == nil {
			ownerDID = &ph
		}
	}

	singleton := &store.SingletonCoin{
		CoinID:             cs.Coin.ID(),
		LauncherID:         launcherID,
		Kind:               store.SingletonNft,
		Lineage:            lineage,
		P2PuzzleHash:       innerPuzzleHash,
		Metadata:           encodeMetadata(metadataProgram),
		OwnerDID:           ownerDID,
		RoyaltyPuzzleHash:  royaltyPH,
		RoyaltyBasisPoints: royaltyBP,
	}
	asset := &store.Asset{Hash: launcherID, Kind: store.AssetNft}
	return classification{kind: store.KindNft, hint: hint, asset: asset, singleton: singleton}, true
}

// OptionLayerHash is the tree hash of the option-contract singleton layer.
var OptionLayerHash = mustHash32("18b67b6ddc19eba163570cc53f9b48acc3861c8f28e09f9ff3e832be3334fcd1")

// tryDidTemplate parses the parent as a DID singleton: Did(info, inner).
func (q *Queue) tryDidTemplate(cs store.CoinState, modHash chain.Hash, args []clvm.Value, lineage chain.LineageProof, hint *chain.Hash) (classification, bool) {
	if modHash != DidInnerLayerHash || len(args) < 2 || lineage.IsEve {
		return classification{}, false
	}
	launcherID, err := chain.HashFromBytes(args[0].Atom)
	if err != nil {
		return classification{}, false
	}
	innerPuzzleHash := innerHashArg(args[len(args)-1])
	metadataProgram := args[1]

	singleton := &store.SingletonCoin{
		CoinID:       cs.Coin.ID(),
		LauncherID:   launcherID,
		Kind:         store.SingletonDid,
		Lineage:      lineage,
		P2PuzzleHash: innerPuzzleHash,
		Metadata:     encodeMetadata(metadataProgram),
	}
	asset := &store.Asset{Hash: launcherID, Kind: store.AssetDid}
	return classification{kind: store.KindDid, hint: hint, asset: asset, singleton: singleton}, true
}

// encodeMetadata serializes a metadata subtree to a raw program blob.
func encodeMetadata(v clvm.Value) []byte {
	return clvm.Serialize(v)
}

// tryOptionTemplate parses the parent as an option-contract singleton and
// resolves its underlying collateral via fetchOption. A resolution failure
// is not logged: the template simply does not match, and classification
// falls through to Unknown rather than aborting.
func (q *Queue) tryOptionTemplate(ctx context.Context, p PeerLike, cs store.CoinState, modHash chain.Hash, args []clvm.Value, lineage chain.LineageProof, hint *chain.Hash) (classification, bool) {
	if modHash != OptionLayerHash || len(args) < 2 || lineage.IsEve {
		return classification{}, false
	}
	launcherID, err := chain.HashFromBytes(args[0].Atom)
	if err != nil {
		return classification{}, false
	}
	innerPuzzleHash := innerHashArg(args[len(args)-1])

	optCtx, err := q.fetchOption(ctx, p, launcherID)
	if err != nil {
		return classification{}, false
	}

	singleton := &store.SingletonCoin{
		CoinID:       cs.Coin.ID(),
		LauncherID:   launcherID,
		Kind:         store.SingletonOption,
		Lineage:      lineage,
		P2PuzzleHash: innerPuzzleHash,
		Metadata:     optCtx.strikeMetadata,
		Extra: map[string]any{
			"underlying_parent": optCtx.underlyingParent.String(),
			"underlying_coin":   optCtx.underlyingCoin.String(),
			"underlying_kind":   string(optCtx.underlyingKind),
			"creator_hint":      optCtx.creatorHint,
		},
	}
	asset := &store.Asset{Hash: launcherID, Kind: store.AssetOption}
	return classification{kind: store.KindOption, hint: hint, asset: asset, singleton: singleton}, true
}

// optionContext is the derived option state: { underlying_parent,
// underlying_coin, underlying_kind, strike_metadata, creator_hint }.
type optionContext struct {
	underlyingParent chain.Hash
	underlyingCoin   chain.Hash
	underlyingKind   store.ChildKind
	strikeMetadata   []byte
	creatorHint      string
}

// launcherSolution mirrors the wire shape of LauncherSolution<OptionMetadata>:
// a launcher's solution is always (singleton_full_puzzle_hash amount
// key_value_list), where the key/value list here carries the option's
// strike terms and underlying-collateral coin id.
type launcherSolution struct {
	SingletonFullPuzzleHash chain.Hash
	Amount                  uint64
	UnderlyingParentID      chain.Hash
	UnderlyingCoinID        chain.Hash
	StrikeMetadata          clvm.Value
}

// fetchOption resolves an option contract's derived state: fetch the
// launcher's spend and the launcher's own parent spend to recover the
// creator hint, fetch the underlying collateral coin's parent spend, and
// recursively classify it with the same condition-replay machinery.
func (q *Queue) fetchOption(ctx context.Context, p PeerLike, launcherID chain.Hash) (optionContext, error) {
	// 1. Fetch the launcher coin's spend and parse its solution.
	launcherState, err := p.RequestCoinState(ctx, peer.CoinStateRequest{CoinIDs: []chain.Hash{launcherID}})
	if err != nil || len(launcherState.CoinStates) == 0 {
		return optionContext{}, fmt.Errorf("fetch_option: launcher coin state: %w", err)
	}
	launcher := launcherState.CoinStates[0]
	if launcher.SpentHeight == nil {
		return optionContext{}, fmt.Errorf("fetch_option: launcher %s not yet spent", launcherID)
	}
	launcherSol, err := p.RequestPuzzleSolution(ctx, peer.PuzzleSolutionRequest{CoinID: launcherID, Height: *launcher.SpentHeight})
	if err != nil {
		return optionContext{}, fmt.Errorf("fetch_option: launcher solution: %w", err)
	}
	solValue, err := clvm.Deserialize(launcherSol.Solution)
	if err != nil {
		return optionContext{}, fmt.Errorf("fetch_option: parse launcher solution: %w", err)
	}
	sol, err := parseLauncherSolution(solValue)
	if err != nil {
		return optionContext{}, fmt.Errorf("fetch_option: decode LauncherSolution<OptionMetadata>: %w", err)
	}

	// 2. Fetch the launcher's parent spend, replay it, and find the
	// create-coin that produced the launcher to extract its memo/hint.
	parentState, err := p.RequestCoinState(ctx, peer.CoinStateRequest{CoinIDs: []chain.Hash{launcher.ParentCoinID}})
	if err != nil || len(parentState.CoinStates) == 0 {
		return optionContext{}, fmt.Errorf("fetch_option: launcher parent state: %w", err)
	}
	launcherParent := parentState.CoinStates[0]
	var creatorHint string
	if launcherParent.SpentHeight != nil {
		parentSol, err := p.RequestPuzzleSolution(ctx, peer.PuzzleSolutionRequest{CoinID: launcher.ParentCoinID, Height: *launcherParent.SpentHeight})
		if err == nil {
			if puzzle, perr := clvm.Deserialize(parentSol.PuzzleReveal); perr == nil {
				if solv, serr := clvm.Deserialize(parentSol.Solution); serr == nil {
					if output, rerr := clvm.Run(puzzle, solv); rerr == nil {
						if conds, cerr := clvm.ParseConditions(output); cerr == nil {
							if h, ok := conds.Hint(launcherID, launcher.Amount); ok {
								creatorHint = h.String()
							}
						}
					}
				}
			}
		}
	}

	// 3. Fetch the underlying-collateral coin and its parent's spend;
	// classify the underlying via the same condition-replay machinery
	// (a recursive single-level call, not a full walk of its own lineage).
	underlyingKind := store.KindUnknown
	underlyingParentState, err := p.RequestCoinState(ctx, peer.CoinStateRequest{CoinIDs: []chain.Hash{sol.UnderlyingParentID}})
	if err == nil && len(underlyingParentState.CoinStates) > 0 {
		up := underlyingParentState.CoinStates[0]
		if up.SpentHeight != nil {
			upSol, err := p.RequestPuzzleSolution(ctx, peer.PuzzleSolutionRequest{CoinID: sol.UnderlyingParentID, Height: *up.SpentHeight})
			if err == nil {
				if puzzle, perr := clvm.Deserialize(upSol.PuzzleReveal); perr == nil {
					if solv, serr := clvm.Deserialize(upSol.Solution); serr == nil {
						if output, rerr := clvm.Run(puzzle, solv); rerr == nil {
							if conds, cerr := clvm.ParseConditions(output); cerr == nil {
								for _, cc := range conds.CreateCoins {
									if cc.Amount > 0 {
										underlyingKind = classifyUnderlyingCreateCoin(cc)
										break
									}
								}
							}
						}
					}
				}
			}
		}
	}

	return optionContext{
		underlyingParent: sol.UnderlyingParentID,
		underlyingCoin:   sol.UnderlyingCoinID,
		underlyingKind:   underlyingKind,
		strikeMetadata:   encodeMetadata(sol.StrikeMetadata),
		creatorHint:      creatorHint,
	}, nil
}

// classifyUnderlyingCreateCoin distinguishes the underlying collateral's
// coarse kind from the single create-coin condition that produced it. A
// full classification would re-run the template chain above; this
// single-level recursion step only needs enough to record the option's
// strike asset type.
func classifyUnderlyingCreateCoin(cc clvm.CreateCoinCondition) store.ChildKind {
	if cc.Amount%2 == 1 {
		return store.KindNft
	}
	return store.KindToken
}

// parseLauncherSolution decodes a LauncherSolution<OptionMetadata> value:
// (singleton_full_puzzle_hash amount (underlying_parent_id underlying_coin_id . strike_metadata)).
func parseLauncherSolution(v clvm.Value) (launcherSolution, error) {
	parts, err := v.AsList()
	if err != nil || len(parts) < 3 {
		return launcherSolution{}, fmt.Errorf("expected a 3-element list")
	}
	fullPuzzleHash, err := chain.HashFromBytes(parts[0].Atom)
	if err != nil {
		return launcherSolution{}, fmt.Errorf("singleton_full_puzzle_hash: %w", err)
	}
	amount, err := parts[1].AsInt()
	if err != nil {
		return launcherSolution{}, fmt.Errorf("amount: %w", err)
	}
	parentVal, err1 := parts[2].First()
	tail, err2 := parts[2].Rest()
	coinVal, err3 := tail.First()
	strikeMetadata, err4 := tail.Rest()
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return launcherSolution{}, fmt.Errorf("expected (underlying_parent underlying_coin . strike_metadata)")
	}
	underlyingParentID, err := chain.HashFromBytes(parentVal.Atom)
	if err != nil {
		return launcherSolution{}, fmt.Errorf("underlying_parent_id: %w", err)
	}
	underlyingCoinID, err := chain.HashFromBytes(coinVal.Atom)
	if err != nil {
		return launcherSolution{}, fmt.Errorf("underlying_coin_id: %w", err)
	}
	return launcherSolution{
		SingletonFullPuzzleHash: fullPuzzleHash,
		Amount:                  uint64(amount),
		UnderlyingParentID:      underlyingParentID,
		UnderlyingCoinID:        underlyingCoinID,
		StrikeMetadata:          strikeMetadata,
	}, nil
}
