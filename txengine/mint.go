package txengine

import (
	"context"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/clvm"
	"github.com/rawblock/lightwallet/pkg/walleterr"
	"github.com/rawblock/lightwallet/puzzlequeue"
	"github.com/rawblock/lightwallet/store"
)

// catTailModHash is the tree hash of the genesis-by-coin-id TAIL program:
// a tail that only ever allows the single mint spending the coin whose id
// it was curried with, so issuing a CAT creates a new asset with no
// further issuance possible.
var catTailModHash = mustHash("c3e1d7e2b6c6f0f4a8d9c2b1e5f3a7d6c9b2e4f1a8d5c7b3e6f9a2d4c8b1e5f7")

// reserveFundingCoin picks the smallest unreserved, owned XCH coin covering
// minAmount: minting actions only need a coin to fund a 1-mojo launcher (or
// a CAT's genesis amount), so the smallest-first policy spends the least
// dust, unlike Send's largest-first policy (txengine/select.go) which
// favors coalescing the wallet's UTXO set.
func (c *compilation) reserveFundingCoin(ctx context.Context, minAmount uint64) (store.CoinState, error) {
	candidates, err := c.engine.store.SpendableCoinsFor(ctx, chain.Hash{}, store.KindUnknown)
	if err != nil {
		return store.CoinState{}, fmt.Errorf("txengine: funding coins: %w", err)
	}
	var best *store.CoinState
	for i := range candidates {
		cs := candidates[i]
		if c.reserved[cs.Coin.ID()] || cs.Coin.Amount < minAmount {
			continue
		}
		if best == nil || cs.Coin.Amount < best.Coin.Amount {
			best = &cs
		}
	}
	if best == nil {
		return store.CoinState{}, errInsufficientFundingCoin
	}
	c.reserved[best.Coin.ID()] = true
	return *best, nil
}

// planIssueCat mints a's asset directly: no launcher coin, since a CAT's
// tail binds to the funding coin's id rather than to a singleton lineage —
// CATs are not singletons.
func (c *compilation) planIssueCat(ctx context.Context, a IssueCat) error {
	funding, err := c.reserveFundingCoin(ctx, a.Amount)
	if err != nil {
		return err
	}
	fundingCoinID := funding.Coin.ID()

	assetHash := clvm.CurryTreeHash(catTailModHash, clvm.Atom(fundingCoinID[:]))
	eveCoinPuzzleHash := clvm.CurryTreeHash(puzzlequeue.TokenLayerHash, clvm.Atom(assetHash[:]), clvm.Atom(a.P2PuzzleHash[:]))

	conditions := []clvm.Value{createCoinCondition(eveCoinPuzzleHash, a.Amount, [][]byte{a.P2PuzzleHash[:]})}
	if change := funding.Coin.Amount - a.Amount; change > 0 {
		if c.opts.ChangePuzzleHash == chain.ZeroHash {
			return fmt.Errorf("txengine: issue_cat change of %d requires a change puzzle hash", change)
		}
		conditions = append(conditions, createCoinCondition(c.opts.ChangePuzzleHash, change, nil))
	}

	spend, err := c.buildP2Spend(ctx, funding, conditions)
	if err != nil {
		return err
	}
	c.prebuilt = append(c.prebuilt, spend)

	idx := c.mintCounter
	c.mintCounter++
	c.newAssetIndex[idx] = assetHash
	c.mintedAssets = append(c.mintedAssets, store.Asset{
		Hash:      assetHash,
		Kind:      store.AssetToken,
		Name:      a.Name,
		Ticker:    a.Ticker,
		Precision: a.Precision,
		IsVisible: true,
	})
	return nil
}

// mintLauncher is the shared two-hop pattern behind every singleton mint:
// spend a funding coin to create a 1-mojo LAUNCHER coin, then spend the
// launcher (which needs no signature; its puzzle commits to its sole
// child's puzzle hash and amount) to create the eve coin. The launcher's
// own id is an input to the eve coin's curried puzzle, so the eve hash is
// resolved through eveFor only after the funding coin — and with it the
// launcher id — is fixed. kvList rides in the launcher solution's third
// slot, where the option classifier's fetch_option subroutine reads its
// strike metadata back out; every other singleton kind passes Nil.
func (c *compilation) mintLauncher(ctx context.Context, eveFor func(launcherID chain.Hash) chain.Hash, kvList clvm.Value) (chain.Hash, error) {
	funding, err := c.reserveFundingCoin(ctx, 1)
	if err != nil {
		return chain.Hash{}, err
	}
	fundingCoinID := funding.Coin.ID()

	conditions := []clvm.Value{createCoinCondition(puzzlequeue.LauncherPuzzleHash, 1, nil)}
	if change := funding.Coin.Amount - 1; change > 0 {
		if c.opts.ChangePuzzleHash == chain.ZeroHash {
			return chain.Hash{}, fmt.Errorf("txengine: mint change of %d requires a change puzzle hash", change)
		}
		conditions = append(conditions, createCoinCondition(c.opts.ChangePuzzleHash, change, nil))
	}
	fundingSpend, err := c.buildP2Spend(ctx, funding, conditions)
	if err != nil {
		return chain.Hash{}, err
	}

	launcherCoin := chain.Coin{ParentCoinID: fundingCoinID, PuzzleHash: puzzlequeue.LauncherPuzzleHash, Amount: 1}
	launcherID := launcherCoin.ID()
	eveCoinPuzzleHash := eveFor(launcherID)

	// The launcher puzzle itself emits the eve create-coin; the solution
	// only supplies its arguments.
	launcherSolution := clvm.Serialize(clvm.List(clvm.Atom(eveCoinPuzzleHash[:]), clvm.Int(1), kvList))

	launcherSpend := chain.CoinSpend{
		Coin:         launcherCoin,
		PuzzleReveal: clvm.Serialize(puzzlequeue.LauncherTemplate),
		Solution:     launcherSolution,
	}

	c.prebuilt = append(c.prebuilt, fundingSpend, launcherSpend)
	return launcherID, nil
}

// spendEve re-spends a freshly minted singleton's eve coin onto itself in
// the same bundle, so the surviving coin carries a non-eve lineage proof
// and classifies into a structured row on the next sync pass (eve coins
// themselves always fall through to Unknown). The eve needs no signature:
// its curried inner-puzzle-hash commitment already pins who may shape the
// succession.
func (c *compilation) spendEve(launcherID chain.Hash, template clvm.Value, modHash chain.Hash, p2 chain.Hash, args ...clvm.Value) {
	reveal, selfHash := singletonReveal(template, modHash, args...)
	eveCoin := chain.Coin{ParentCoinID: launcherID, PuzzleHash: selfHash, Amount: 1}
	solution := clvm.Serialize(clvm.List(clvm.Int(1), clvm.List(createCoinCondition(selfHash, 1, [][]byte{p2[:]}))))
	c.prebuilt = append(c.prebuilt, chain.CoinSpend{Coin: eveCoin, PuzzleReveal: reveal, Solution: solution})
}

func (c *compilation) planCreateDid(ctx context.Context, a CreateDid) error {
	launcherID, err := c.mintLauncher(ctx, func(lid chain.Hash) chain.Hash {
		return clvm.CurryTreeHash(puzzlequeue.DidInnerLayerHash, clvm.Atom(lid[:]), clvm.Nil, clvm.Atom(a.P2PuzzleHash[:]))
	}, clvm.Nil)
	if err != nil {
		return err
	}
	c.spendEve(launcherID, puzzlequeue.DidInnerLayerTemplate, puzzlequeue.DidInnerLayerHash, a.P2PuzzleHash,
		clvm.Atom(launcherID[:]), clvm.Nil, clvm.Atom(a.P2PuzzleHash[:]))
	c.mintedAssets = append(c.mintedAssets, store.Asset{Hash: launcherID, Kind: store.AssetDid, Name: a.Name, IsVisible: true})
	return nil
}

func (c *compilation) planMintNft(ctx context.Context, a MintNft) error {
	var ownerArg clvm.Value = clvm.Nil
	if a.OwnerDID != nil {
		ownerArg = clvm.Atom(a.OwnerDID[:])
	}
	var royaltyPH clvm.Value = clvm.Nil
	if a.RoyaltyAddress != nil {
		royaltyPH = clvm.Atom(a.RoyaltyAddress[:])
	}
	launcherID, err := c.mintLauncher(ctx, func(lid chain.Hash) chain.Hash {
		return clvm.CurryTreeHash(puzzlequeue.NftStateLayerHash,
			clvm.Atom(lid[:]), clvm.Atom(a.Metadata), clvm.Int(int64(a.RoyaltyBasisPoints)), royaltyPH,
			ownerArg, clvm.Atom(a.P2PuzzleHash[:]))
	}, clvm.Nil)
	if err != nil {
		return err
	}
	c.spendEve(launcherID, puzzlequeue.NftStateLayerTemplate, puzzlequeue.NftStateLayerHash, a.P2PuzzleHash,
		clvm.Atom(launcherID[:]), clvm.Atom(a.Metadata), clvm.Int(int64(a.RoyaltyBasisPoints)), royaltyPH,
		ownerArg, clvm.Atom(a.P2PuzzleHash[:]))
	c.mintedAssets = append(c.mintedAssets, store.Asset{Hash: launcherID, Kind: store.AssetNft, IsVisible: true})
	return nil
}

// optionStrikeValue is the strike-terms subtree curried into an option
// layer and echoed in its launcher solution, so classification recovers
// the same value the mint committed to.
func optionStrikeValue(strikeHash chain.Hash, amount uint64, seconds int64) clvm.Value {
	return clvm.List(clvm.Atom(strikeHash[:]), clvm.Int(int64(amount)), clvm.Int(seconds))
}

func (c *compilation) planMintOption(ctx context.Context, a MintOption) error {
	strikeKey, err := c.engine.resolveAsset(a.Strike.Asset, c.newAssetIndex)
	if err != nil {
		return err
	}
	underlying, err := c.engine.store.CoinStateByID(ctx, a.Underlying)
	if err != nil {
		return fmt.Errorf("txengine: option underlying %s: %w", a.Underlying, err)
	}
	if underlying == nil {
		return walleterr.MissingCoin(a.Underlying.String())
	}

	strike := optionStrikeValue(strikeKey.hash, a.Strike.Amount, a.Seconds)
	kvList := clvm.Cons(clvm.Atom(underlying.Coin.ParentCoinID[:]), clvm.Cons(clvm.Atom(a.Underlying[:]), strike))
	launcherID, err := c.mintLauncher(ctx, func(lid chain.Hash) chain.Hash {
		return clvm.CurryTreeHash(puzzlequeue.OptionLayerHash, clvm.Atom(lid[:]), strike, clvm.Atom(a.Owner[:]))
	}, kvList)
	if err != nil {
		return err
	}
	c.spendEve(launcherID, puzzlequeue.OptionLayerTemplate, puzzlequeue.OptionLayerHash, a.Owner,
		clvm.Atom(launcherID[:]), strike, clvm.Atom(a.Owner[:]))
	c.mintedAssets = append(c.mintedAssets, store.Asset{Hash: launcherID, Kind: store.AssetOption, IsVisible: true})
	return nil
}

// currentSingleton finds the one coin in launcherID's lineage that is still
// unspent — the wallet's view of "the singleton's current coin."
func (c *compilation) currentSingleton(ctx context.Context, launcherID chain.Hash) (store.SingletonCoin, store.CoinState, error) {
	lineage, err := c.engine.store.SingletonsByLauncher(ctx, launcherID)
	if err != nil {
		return store.SingletonCoin{}, store.CoinState{}, fmt.Errorf("txengine: singleton lineage for %s: %w", launcherID, err)
	}
	for _, sc := range lineage {
		cs, err := c.engine.store.CoinStateByID(ctx, sc.CoinID)
		if err != nil {
			return store.SingletonCoin{}, store.CoinState{}, fmt.Errorf("txengine: coin state for %s: %w", sc.CoinID, err)
		}
		if cs != nil && cs.SpentHeight == nil {
			return sc, *cs, nil
		}
	}
	return store.SingletonCoin{}, store.CoinState{}, fmt.Errorf("txengine: no unspent coin found for singleton %s", launcherID)
}

// singletonReveal curries modHash's template with args and returns both the
// serialized reveal and the resulting puzzle hash, so callers can assert it
// matches the coin's recorded puzzle hash before spending it.
func singletonReveal(template clvm.Value, modHash chain.Hash, args ...clvm.Value) (clvm.Program, chain.Hash) {
	puzzle := clvm.Curry(template, args...)
	return clvm.Serialize(puzzle), clvm.CurryTreeHash(modHash, args...)
}

// spendSingleton appends a singleton coin spend and collects the AggSig
// signature for the derivation owning its inner p2 puzzle hash, the same
// per-spend requirement finishSpend records for ordinary owned coins.
func (c *compilation) spendSingleton(ctx context.Context, cs store.CoinState, p2 chain.Hash, reveal clvm.Program, conditions []clvm.Value) error {
	d, err := c.engine.store.DerivationByPuzzleHash(ctx, p2)
	if err != nil {
		return fmt.Errorf("txengine: derivation for %s: %w", p2, err)
	}
	if d == nil {
		return fmt.Errorf("txengine: no derivation owns inner puzzle hash %s", p2)
	}

	conditionsValue := clvm.List(conditions...)
	solution := clvm.Serialize(clvm.List(clvm.Int(1), conditionsValue))

	coinID := cs.Coin.ID()
	c.signFor(ctx, d, coinID, clvm.TreeHash(conditionsValue))
	c.prebuilt = append(c.prebuilt, chain.CoinSpend{Coin: cs.Coin, PuzzleReveal: reveal, Solution: solution})
	c.inputCoinIDs = append(c.inputCoinIDs, coinID)
	return nil
}

// storedMetadataValue decodes the metadata subtree the classifier
// serialized for a singleton row, so a re-spend's reveal curries exactly
// the value the coin's recorded puzzle hash committed to.
func storedMetadataValue(sc store.SingletonCoin) clvm.Value {
	v, err := clvm.Deserialize(sc.Metadata)
	if err != nil {
		return clvm.Nil
	}
	return v
}

func didLayerArgs(sc store.SingletonCoin, launcherID chain.Hash, inner chain.Hash) []clvm.Value {
	return []clvm.Value{clvm.Atom(launcherID[:]), storedMetadataValue(sc), clvm.Atom(inner[:])}
}

func (c *compilation) planTransferDid(ctx context.Context, a TransferDid) error {
	sc, cs, err := c.currentSingleton(ctx, a.ID)
	if err != nil {
		return err
	}
	reveal, _ := singletonReveal(puzzlequeue.DidInnerLayerTemplate, puzzlequeue.DidInnerLayerHash,
		didLayerArgs(sc, a.ID, sc.P2PuzzleHash)...)
	nextHash := clvm.CurryTreeHash(puzzlequeue.DidInnerLayerHash, didLayerArgs(sc, a.ID, a.Target)...)
	return c.spendSingleton(ctx, cs, sc.P2PuzzleHash, reveal,
		[]clvm.Value{createCoinCondition(nextHash, cs.Coin.Amount, [][]byte{a.Target[:]})})
}

func (c *compilation) planNormalizeDid(ctx context.Context, a NormalizeDid) error {
	sc, cs, err := c.currentSingleton(ctx, a.ID)
	if err != nil {
		return err
	}
	reveal, selfHash := singletonReveal(puzzlequeue.DidInnerLayerTemplate, puzzlequeue.DidInnerLayerHash,
		didLayerArgs(sc, a.ID, sc.P2PuzzleHash)...)
	return c.spendSingleton(ctx, cs, sc.P2PuzzleHash, reveal,
		[]clvm.Value{createCoinCondition(selfHash, cs.Coin.Amount, nil)})
}

func nftLayerArgs(sc store.SingletonCoin, launcherID chain.Hash, owner *chain.Hash, inner chain.Hash) []clvm.Value {
	var bp int64
	if sc.RoyaltyBasisPoints != nil {
		bp = int64(*sc.RoyaltyBasisPoints)
	}
	var royaltyPH clvm.Value = clvm.Nil
	if sc.RoyaltyPuzzleHash != nil {
		royaltyPH = clvm.Atom(sc.RoyaltyPuzzleHash[:])
	}
	var ownerArg clvm.Value = clvm.Nil
	if owner != nil {
		ownerArg = clvm.Atom(owner[:])
	}
	return []clvm.Value{
		clvm.Atom(launcherID[:]), storedMetadataValue(sc), clvm.Int(bp), royaltyPH,
		ownerArg, clvm.Atom(inner[:]),
	}
}

func (c *compilation) planUpdateNft(ctx context.Context, a UpdateNft) error {
	sc, cs, err := c.currentSingleton(ctx, a.ID)
	if err != nil {
		return err
	}
	owner := sc.OwnerDID
	if a.TransferTargetDID != nil {
		owner = a.TransferTargetDID
	}
	reveal, _ := singletonReveal(puzzlequeue.NftStateLayerTemplate, puzzlequeue.NftStateLayerHash,
		nftLayerArgs(sc, a.ID, sc.OwnerDID, sc.P2PuzzleHash)...)
	nextHash := clvm.CurryTreeHash(puzzlequeue.NftStateLayerHash, nftLayerArgs(sc, a.ID, owner, sc.P2PuzzleHash)...)
	return c.spendSingleton(ctx, cs, sc.P2PuzzleHash, reveal,
		[]clvm.Value{createCoinCondition(nextHash, cs.Coin.Amount, [][]byte{sc.P2PuzzleHash[:]})})
}

func optionLayerArgs(sc store.SingletonCoin, launcherID chain.Hash, inner chain.Hash) []clvm.Value {
	return []clvm.Value{clvm.Atom(launcherID[:]), storedMetadataValue(sc), clvm.Atom(inner[:])}
}

func (c *compilation) planExerciseOption(ctx context.Context, a ExerciseOption) error {
	sc, cs, err := c.currentSingleton(ctx, a.ID)
	if err != nil {
		return err
	}
	reveal, _ := singletonReveal(puzzlequeue.OptionLayerTemplate, puzzlequeue.OptionLayerHash,
		optionLayerArgs(sc, a.ID, sc.P2PuzzleHash)...)
	// Exercising melts the option singleton: its sole output is the
	// underlying paid out to the option's p2 puzzle hash, with no
	// replacement singleton coin created.
	return c.spendSingleton(ctx, cs, sc.P2PuzzleHash, reveal,
		[]clvm.Value{createCoinCondition(sc.P2PuzzleHash, cs.Coin.Amount, nil)})
}

func (c *compilation) planTransferOption(ctx context.Context, a TransferOption) error {
	sc, cs, err := c.currentSingleton(ctx, a.ID)
	if err != nil {
		return err
	}
	reveal, _ := singletonReveal(puzzlequeue.OptionLayerTemplate, puzzlequeue.OptionLayerHash,
		optionLayerArgs(sc, a.ID, sc.P2PuzzleHash)...)
	nextHash := clvm.CurryTreeHash(puzzlequeue.OptionLayerHash, optionLayerArgs(sc, a.ID, a.Target)...)
	return c.spendSingleton(ctx, cs, sc.P2PuzzleHash, reveal,
		[]clvm.Value{createCoinCondition(nextHash, cs.Coin.Amount, [][]byte{a.Target[:]})})
}
