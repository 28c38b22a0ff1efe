package txengine

import (
	"context"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/clvm"
	"github.com/rawblock/lightwallet/derive"
	"github.com/rawblock/lightwallet/netconfig"
	"github.com/rawblock/lightwallet/pkg/walleterr"
	"github.com/rawblock/lightwallet/store"
)

// Signer produces the signature for one AggSig condition, addressed by the
// derivation (index, hardened) that owns its public key. Engine never sees
// key material directly: cmd/walletd wires this to a signer over the
// derive.MasterKey it unlocked, keeping signing out of the compilation
// pipeline itself.
type Signer interface {
	Sign(ctx context.Context, index uint32, hardened bool, message []byte) (chain.Signature, error)
}

// Engine compiles action lists into signed spend bundles. It is stateless
// beyond its dependencies: every Compile call reads the store fresh, so two
// concurrent compilations of non-overlapping actions never interfere
// (overlapping ones race on coin selection the same way two users of a
// single UTXO wallet would; resolving that race is left to the mempool
// queue's submission ordering).
type Engine struct {
	store   *store.Store
	network netconfig.Network
	signer  Signer
}

// New returns an Engine bound to st for reads, net for address/signature
// domain parameters, and signer for producing AggSig signatures.
func New(st *store.Store, net netconfig.Network, signer Signer) *Engine {
	return &Engine{store: st, network: net, signer: signer}
}

// CompileOptions adjusts the compilation pipeline for partial-bundle and
// dry-run callers.
type CompileOptions struct {
	// AllowPartialSignatures lets Compile return a bundle missing some
	// AggSig signatures (e.g. to hand to an offline co-signer) instead of
	// failing on the first unknown public key.
	AllowPartialSignatures bool

	// ChangePuzzleHash receives any leftover value from coin selection.
	// Required whenever an asset's selected coins sum to more than the
	// requested total; cmd/walletd fills this with the puzzle hash of the
	// highest-index unhardened derivation generated so far before calling
	// Compile.
	ChangePuzzleHash chain.Hash
}

// Result is the outcome of a successful compilation: the bundle ready for
// mempool submission, plus bookkeeping the caller persists alongside it.
type Result struct {
	Bundle     chain.SpendBundle
	Fee        uint64
	NewAssets  []store.Asset
	InputCoins []chain.Hash

	// OfferID and OfferExpiresAt are set when the action list included a
	// MakeOffer, for the caller to persist as a store.Offer row.
	OfferID        *chain.Hash
	OfferExpiresAt *int64
}

// Compile runs the compilation pipeline: summarize the requested
// totals per asset, preselect any explicitly pinned coins, select
// additional coins to cover the remainder, assign outputs (including
// change), emit each input's puzzle reveal and solution, apply royalty and
// offer bookkeeping, set memo/hint policy, collect required signatures, and
// sign.
func (e *Engine) Compile(ctx context.Context, actions []Action, opts CompileOptions) (*Result, error) {
	c := newCompilation(e, opts)
	for _, a := range actions {
		if err := c.summarize(ctx, a); err != nil {
			return nil, err
		}
	}
	if err := c.selectAndAssign(ctx); err != nil {
		return nil, err
	}
	spends, err := c.emit(ctx)
	if err != nil {
		return nil, err
	}
	if !opts.AllowPartialSignatures && len(c.missingKeys) > 0 {
		return nil, walleterr.ErrUnknownPublicKey
	}

	sigs := c.signatures
	if c.importedSignature != (chain.Signature{}) {
		sigs = append(append([]chain.Signature(nil), sigs...), c.importedSignature)
	}
	bundle := chain.SpendBundle{
		CoinSpends:          spends,
		AggregatedSignature: aggregate(sigs),
	}
	return &Result{
		Bundle:         bundle,
		Fee:            c.fee,
		NewAssets:      c.mintedAssets,
		InputCoins:     c.inputCoinIDs,
		OfferID:        c.offerID,
		OfferExpiresAt: c.offerExpiresAt,
	}, nil
}

// assetKey distinguishes native XCH from a specific CAT/NFT/DID/option
// asset for the purposes of grouping requested totals.
type assetKey struct {
	xch  bool
	hash chain.Hash
}

func (e *Engine) resolveAsset(ref AssetRef, newAssets map[uint32]chain.Hash) (assetKey, error) {
	switch ref.Kind {
	case AssetXch:
		return assetKey{xch: true}, nil
	case AssetExisting:
		return assetKey{hash: ref.Hash}, nil
	case AssetNew:
		h, ok := newAssets[ref.Index]
		if !ok {
			return assetKey{}, fmt.Errorf("txengine: action references unminted new-asset index %d", ref.Index)
		}
		return assetKey{hash: h}, nil
	default:
		return assetKey{}, fmt.Errorf("txengine: unknown asset ref kind %q", ref.Kind)
	}
}

// standardSolution builds the solution for a p2 coin spent by the standard
// puzzle (derive.StandardPuzzleTemplate): a delegated puzzle that simply
// quotes the condition list, with no original-public-key or BLS-rerandomize
// arguments, matching the simplified three-argument form the template's
// tree hash fixes.
func standardSolution(conditions clvm.Value) clvm.Program {
	delegated := clvm.Cons(clvm.Int(1), conditions) // (q . conditions)
	solution := clvm.List(clvm.Nil, delegated, clvm.Nil)
	return clvm.Serialize(solution)
}

func createCoinCondition(puzzleHash chain.Hash, amount uint64, memos [][]byte) clvm.Value {
	parts := []clvm.Value{clvm.Int(clvm.OpCreateCoin), clvm.Atom(puzzleHash[:]), clvm.Int(int64(amount))}
	if len(memos) > 0 {
		memoValues := make([]clvm.Value, len(memos))
		for i, m := range memos {
			memoValues[i] = clvm.Atom(m)
		}
		parts = append(parts, clvm.List(memoValues...))
	}
	return clvm.List(parts...)
}

func reserveFeeCondition(amount uint64) clvm.Value {
	return clvm.List(clvm.Int(clvm.OpReserveFee), clvm.Int(int64(amount)))
}

// p2PuzzleReveal is the serialized standard puzzle program, currying in
// nothing per-coin beyond what derive.P2PuzzleHash already committed to
// (the synthetic public key), so every owned p2 coin shares one reveal.
func p2PuzzleReveal(syntheticPublicKey chain.PublicKey) clvm.Program {
	puzzle := clvm.Curry(derive.StandardPuzzleTemplate, clvm.Atom(syntheticPublicKey[:]))
	return clvm.Serialize(puzzle)
}
