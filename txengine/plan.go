package txengine

import (
	"context"
	"fmt"
	"sort"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/clvm"
	"github.com/rawblock/lightwallet/pkg/walleterr"
	"github.com/rawblock/lightwallet/puzzlequeue"
	"github.com/rawblock/lightwallet/store"
)

// plannedOutput is one CREATE_COIN this compilation owes to some asset's
// selected inputs, assigned once selection has run.
type plannedOutput struct {
	PuzzleHash chain.Hash
	Amount     uint64
	Memos      [][]byte
}

// compilation is Engine.Compile's working state: the compilation pipeline
// threaded through one struct so each step's helper methods stay small.
type compilation struct {
	engine *Engine
	opts   CompileOptions

	fee           uint64
	needed        map[assetKey]uint64
	outputs       map[assetKey][]plannedOutput
	newAssetIndex map[uint32]chain.Hash
	mintCounter   uint32
	mintedAssets  []store.Asset

	reserved map[chain.Hash]bool // coin ids already claimed by a prebuilt (mint/singleton) spend
	prebuilt []chain.CoinSpend   // spends built outside the generic select/assign pass
	selected map[assetKey][]store.CoinState

	inputCoinIDs []chain.Hash
	signatures   []chain.Signature
	missingKeys  []chain.PublicKey

	// offer-specific bookkeeping (planMakeOffer/planTakeOffer/planCancelOffer)
	offerID           *chain.Hash
	offerExpiresAt    *int64
	importedSpends    []chain.CoinSpend
	importedSignature chain.Signature
}

func newCompilation(e *Engine, opts CompileOptions) *compilation {
	return &compilation{
		engine:        e,
		opts:          opts,
		needed:        make(map[assetKey]uint64),
		outputs:       make(map[assetKey][]plannedOutput),
		newAssetIndex: make(map[uint32]chain.Hash),
		reserved:      make(map[chain.Hash]bool),
		selected:      make(map[assetKey][]store.CoinState),
	}
}

// summarize dispatches one action to its planning method. Fee and Send
// only accumulate totals; every other action
// builds its spend immediately since each touches a single, already
// identified coin (a singleton's current coin, an explicit funding coin,
// or an imported offer bundle) rather than participating in generic coin
// selection.
func (c *compilation) summarize(ctx context.Context, a Action) error {
	switch v := a.(type) {
	case Fee:
		c.fee += v.Amount
		return nil
	case Send:
		return c.planSend(ctx, v)
	case Combine:
		return c.planCombine(ctx, v)
	case Split:
		return c.planSplit(ctx, v)
	case IssueCat:
		return c.planIssueCat(ctx, v)
	case MintNft:
		return c.planMintNft(ctx, v)
	case UpdateNft:
		return c.planUpdateNft(ctx, v)
	case CreateDid:
		return c.planCreateDid(ctx, v)
	case TransferDid:
		return c.planTransferDid(ctx, v)
	case NormalizeDid:
		return c.planNormalizeDid(ctx, v)
	case MintOption:
		return c.planMintOption(ctx, v)
	case ExerciseOption:
		return c.planExerciseOption(ctx, v)
	case TransferOption:
		return c.planTransferOption(ctx, v)
	case MakeOffer:
		return c.planMakeOffer(ctx, v)
	case TakeOffer:
		return c.planTakeOffer(ctx, v)
	case CancelOffer:
		return c.planCancelOffer(ctx, v)
	default:
		return fmt.Errorf("txengine: unsupported action %T", a)
	}
}

func (c *compilation) planSend(ctx context.Context, a Send) error {
	key, err := c.engine.resolveAsset(a.Asset, c.newAssetIndex)
	if err != nil {
		return err
	}
	memos := a.Memos
	if !key.xch && len(memos) == 0 {
		memos = [][]byte{a.PuzzleHash[:]}
	}
	puzzleHash := a.PuzzleHash
	if a.ClawbackSeconds != nil {
		puzzleHash = clawbackWrappedPuzzleHash(a.PuzzleHash, *a.ClawbackSeconds)
		memos = append([][]byte{clawbackMemoTag}, memos...)
	}
	if !key.xch {
		puzzleHash = tokenWrappedPuzzleHash(key.hash, puzzleHash)
	}
	c.outputs[key] = append(c.outputs[key], plannedOutput{PuzzleHash: puzzleHash, Amount: a.Amount, Memos: memos})
	c.needed[key] += a.Amount
	return nil
}

// planCombine merges several p2 coins of the same owner into one output.
// Combine/Split apply to plain owned coins only (the action carries no
// asset reference), matching how every CAT/NFT/DID/option move instead
// goes through a dedicated action.
func (c *compilation) planCombine(ctx context.Context, a Combine) error {
	if len(a.CoinIDs) == 0 {
		return fmt.Errorf("txengine: combine requires at least one coin")
	}
	coins, total, err := c.lookupCoins(ctx, a.CoinIDs)
	if err != nil {
		return err
	}
	if total <= a.Fee {
		return walleterr.ErrInsufficientFunds
	}
	c.fee += a.Fee
	out := total - a.Fee
	return c.spendCombined(ctx, coins, []plannedOutput{{PuzzleHash: coins[0].Coin.PuzzleHash, Amount: out}}, a.Fee)
}

// planSplit divides several coins' combined value into outputCount equal
// new coins at the same owner puzzle hash.
func (c *compilation) planSplit(ctx context.Context, a Split) error {
	if a.OutputCount < 1 {
		return fmt.Errorf("txengine: split requires a positive output count")
	}
	coins, total, err := c.lookupCoins(ctx, a.CoinIDs)
	if err != nil {
		return err
	}
	if total <= a.Fee {
		return walleterr.ErrInsufficientFunds
	}
	c.fee += a.Fee
	remaining := total - a.Fee
	each := remaining / uint64(a.OutputCount)
	if each == 0 {
		return walleterr.ErrInsufficientFunds
	}
	outs := make([]plannedOutput, 0, a.OutputCount)
	assigned := uint64(0)
	for i := 0; i < a.OutputCount; i++ {
		amt := each
		if i == a.OutputCount-1 {
			amt = remaining - assigned // last output absorbs the remainder
		}
		outs = append(outs, plannedOutput{PuzzleHash: coins[0].Coin.PuzzleHash, Amount: amt})
		assigned += amt
	}
	return c.spendCombined(ctx, coins, outs, a.Fee)
}

func (c *compilation) lookupCoins(ctx context.Context, ids []chain.Hash) ([]store.CoinState, uint64, error) {
	coins := make([]store.CoinState, 0, len(ids))
	var total uint64
	for _, id := range ids {
		cs, err := c.engine.store.CoinStateByID(ctx, id)
		if err != nil {
			return nil, 0, fmt.Errorf("txengine: lookup coin %s: %w", id, err)
		}
		if cs == nil {
			return nil, 0, walleterr.MissingCoin(id.String())
		}
		coins = append(coins, *cs)
		total += cs.Coin.Amount
		c.reserved[id] = true
	}
	return coins, total, nil
}

// spendCombined builds one standard-puzzle spend per input coin: the first
// carries every requested output plus the fee reservation, the rest spend
// with no conditions, contributing their value to the bundle's balance
// with nothing asserted about where it goes.
func (c *compilation) spendCombined(ctx context.Context, coins []store.CoinState, outs []plannedOutput, fee uint64) error {
	for i, cs := range coins {
		var conditions []clvm.Value
		if i == 0 {
			for _, o := range outs {
				conditions = append(conditions, createCoinCondition(o.PuzzleHash, o.Amount, o.Memos))
			}
			if fee > 0 {
				conditions = append(conditions, reserveFeeCondition(fee))
			}
		}
		spend, err := c.buildP2Spend(ctx, cs, conditions)
		if err != nil {
			return err
		}
		c.prebuilt = append(c.prebuilt, spend)
	}
	return nil
}

// selectAndAssign runs selection and assignment: for every asset with an
// outstanding need, pull its spendable coins, select the smallest
// sufficient subset, and assign the leftover as a change output.
func (c *compilation) selectAndAssign(ctx context.Context) error {
	for key, target := range c.needed {
		candidates, err := c.engine.store.SpendableCoinsFor(ctx, key.hash, kindForAssetKey(key))
		if err != nil {
			return fmt.Errorf("txengine: spendable coins: %w", err)
		}
		available := candidates[:0:0]
		for _, cs := range candidates {
			if !c.reserved[cs.Coin.ID()] {
				available = append(available, cs)
			}
		}
		chosen, err := selectCoins(available, target)
		if err != nil {
			return err
		}
		var sum uint64
		for _, cs := range chosen {
			sum += cs.Coin.Amount
			c.reserved[cs.Coin.ID()] = true
		}
		if change := sum - target; change > 0 {
			if c.opts.ChangePuzzleHash == chain.ZeroHash {
				return fmt.Errorf("txengine: change of %d requires a change puzzle hash", change)
			}
			changePH := c.opts.ChangePuzzleHash
			var memos [][]byte
			if !key.xch {
				memos = [][]byte{c.opts.ChangePuzzleHash[:]}
				changePH = tokenWrappedPuzzleHash(key.hash, changePH)
			}
			c.outputs[key] = append(c.outputs[key], plannedOutput{PuzzleHash: changePH, Amount: change, Memos: memos})
		}
		c.selected[key] = chosen
	}
	return nil
}

func kindForAssetKey(key assetKey) store.ChildKind {
	if key.xch {
		return store.KindUnknown
	}
	return store.KindToken
}

// emit turns every selected coin group into
// standard-puzzle spends carrying its planned outputs (and, for XCH,
// the reserved fee), appended to whatever singleton/mint actions already
// prebuilt.
func (c *compilation) emit(ctx context.Context) ([]chain.CoinSpend, error) {
	spends := append([]chain.CoinSpend(nil), c.prebuilt...)
	spends = append(spends, c.importedSpends...)

	keys := make([]assetKey, 0, len(c.selected))
	for key := range c.selected {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return assetKeyLess(keys[i], keys[j]) })

	for _, key := range keys {
		chosen := c.selected[key]
		outs := c.outputs[key]
		// Chain a multi-input group through a puzzle announcement: the lead
		// coin announces, every other input asserts it, so no single input
		// can be stripped out of the bundle and mined alone.
		var groupMsg []byte
		if len(chosen) > 1 {
			id := chosen[0].Coin.ID()
			groupMsg = id[:]
		}
		for i, cs := range chosen {
			var conditions []clvm.Value
			if i == 0 {
				for _, o := range outs {
					conditions = append(conditions, createCoinCondition(o.PuzzleHash, o.Amount, o.Memos))
				}
				if key.xch && c.fee > 0 {
					conditions = append(conditions, reserveFeeCondition(c.fee))
				}
				if groupMsg != nil {
					conditions = append(conditions, createPuzzleAnnouncementCondition(groupMsg))
				}
			} else if groupMsg != nil {
				conditions = append(conditions, assertPuzzleAnnouncementCondition(chosen[0].Coin.PuzzleHash, groupMsg))
			}
			spend, err := c.buildAssetSpend(ctx, key, cs, conditions)
			if err != nil {
				return nil, err
			}
			spends = append(spends, spend)
		}
	}
	return spends, nil
}

func assetKeyLess(a, b assetKey) bool {
	if a.xch != b.xch {
		return a.xch
	}
	return lessHash(a.hash, b.hash)
}

// buildAssetSpend dispatches to the right per-coin spend builder for an
// asset group: plain p2 for XCH, the token layer for everything else.
func (c *compilation) buildAssetSpend(ctx context.Context, key assetKey, cs store.CoinState, conditions []clvm.Value) (chain.CoinSpend, error) {
	if key.xch {
		return c.buildP2Spend(ctx, cs, conditions)
	}
	return c.buildTokenSpend(ctx, key.hash, cs, conditions)
}

// buildP2Spend constructs the reveal and solution for an ordinary owned
// coin, records its AggSig signing requirement, and tracks it as a bundle
// input.
func (c *compilation) buildP2Spend(ctx context.Context, cs store.CoinState, conditions []clvm.Value) (chain.CoinSpend, error) {
	d, err := c.engine.store.DerivationByPuzzleHash(ctx, cs.Coin.PuzzleHash)
	if err != nil {
		return chain.CoinSpend{}, fmt.Errorf("txengine: derivation for %s: %w", cs.Coin.PuzzleHash, err)
	}
	if d == nil {
		return chain.CoinSpend{}, fmt.Errorf("txengine: no derivation owns puzzle hash %s", cs.Coin.PuzzleHash)
	}
	reveal := p2PuzzleReveal(d.SyntheticPubkey)
	return c.finishSpend(ctx, cs, d, reveal, conditions)
}

// buildTokenSpend constructs the reveal and solution for a token-layer
// coin: the layer is re-curried from its asset hash and the inner p2
// puzzle hash the classifier recorded as the coin's hint, and the
// signature is owed by the derivation owning that inner hash.
func (c *compilation) buildTokenSpend(ctx context.Context, assetHash chain.Hash, cs store.CoinState, conditions []clvm.Value) (chain.CoinSpend, error) {
	if cs.Hint == nil {
		return chain.CoinSpend{}, fmt.Errorf("txengine: token coin %s has no recorded inner puzzle hash", cs.Coin.ID())
	}
	d, err := c.engine.store.DerivationByPuzzleHash(ctx, *cs.Hint)
	if err != nil {
		return chain.CoinSpend{}, fmt.Errorf("txengine: derivation for %s: %w", cs.Hint, err)
	}
	if d == nil {
		return chain.CoinSpend{}, fmt.Errorf("txengine: no derivation owns inner puzzle hash %s", cs.Hint)
	}
	reveal := clvm.Serialize(clvm.Curry(puzzlequeue.TokenLayerTemplate, clvm.Atom(assetHash[:]), clvm.Atom(cs.Hint[:])))
	return c.finishSpend(ctx, cs, d, reveal, conditions)
}

// finishSpend is the shared tail of every owned-coin spend: solution,
// AggSig signing requirement, and bundle-input bookkeeping.
func (c *compilation) finishSpend(ctx context.Context, cs store.CoinState, d *store.Derivation, reveal chain.Program, conditions []clvm.Value) (chain.CoinSpend, error) {
	conditionsValue := clvm.List(conditions...)
	solution := standardSolution(conditionsValue)

	coinID := cs.Coin.ID()
	c.signFor(ctx, d, coinID, clvm.TreeHash(conditionsValue))
	c.inputCoinIDs = append(c.inputCoinIDs, coinID)

	return chain.CoinSpend{Coin: cs.Coin, PuzzleReveal: reveal, Solution: solution}, nil
}

// signFor collects one spend's AggSig signature for the derivation that
// owns it, recording a missing key instead when the signer cannot produce
// one (surfaced as a fatal error later unless partial signatures were
// requested).
func (c *compilation) signFor(ctx context.Context, d *store.Derivation, coinID chain.Hash, conditionsHash chain.Hash) {
	message := c.engine.aggSigMessage(coinID, conditionsHash)
	sig, err := c.engine.signer.Sign(ctx, d.Index, d.Hardened, message)
	if err != nil {
		c.missingKeys = append(c.missingKeys, d.SyntheticPubkey)
	} else {
		c.signatures = append(c.signatures, sig)
	}
}

// tokenWrappedPuzzleHash wraps an inner p2 puzzle hash in the token layer,
// producing the on-chain puzzle hash a CAT output actually lives at. The
// inner hash travels alongside it as the create-coin's hint memo, which is
// how the recipient's classifier recovers ownership.
func tokenWrappedPuzzleHash(assetHash, inner chain.Hash) chain.Hash {
	return clvm.CurryTreeHash(puzzlequeue.TokenLayerHash, clvm.Atom(assetHash[:]), clvm.Atom(inner[:]))
}

// clawbackMemoTag marks a clawback-wrapped send's memo list, ahead of the
// recipient hint.
var clawbackMemoTag = []byte("clawback")

// clawbackWrappedPuzzleHash wraps a puzzle hash for clawback: the tree
// hash is derived the same way every other layer here is, from a mod hash
// this wallet treats as opaque plus its curried timeout and inner puzzle
// hash.
func clawbackWrappedPuzzleHash(inner chain.Hash, seconds int64) chain.Hash {
	return clvm.CurryTreeHash(clawbackLayerHash, clvm.Int(seconds), clvm.Atom(inner[:]))
}

var clawbackLayerHash = mustHash(clawbackLayerHashHex)

const clawbackLayerHashHex = "a8d3c6d6c83f1ef3c0ab5c28d3a46c7c9acb6e65cb3ef0e51e5a7e5a5cf6b972"

func mustHash(hexStr string) chain.Hash {
	h, err := chain.HashFromHex(hexStr)
	if err != nil {
		panic(err)
	}
	return h
}
