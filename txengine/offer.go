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

// settlementLayerHash is the mod hash of the uncurried settlement-payments
// puzzle: a puzzle that only unlocks its coin when a specified payment is
// made. Unlike every other layer in this package it is never curried: its
// solution alone carries the notarized payment list, so a settlement
// coin's puzzle hash always equals this constant.
var settlementLayerHash = mustHash("b4fa0ff9aab59f003bc9e6a6fd17c2c7daee5e4d50e6f4c2e5a6b27ec8f6c9ad")

// notarizedPayment is one entry of a settlement spend's solution, its
// nonce scoping the payment to its originating offer. offerAnnouncement
// hashes it the same way a real settlement puzzle would so the maker's
// ASSERT_PUZZLE_ANNOUNCEMENT can pin down exactly which payment it is
// relying on.
type notarizedPayment struct {
	Nonce      chain.Hash
	PuzzleHash chain.Hash
	Amount     uint64
	Memos      [][]byte
}

func (p notarizedPayment) value() clvm.Value {
	memoValues := make([]clvm.Value, len(p.Memos))
	for i, m := range p.Memos {
		memoValues[i] = clvm.Atom(m)
	}
	return clvm.List(clvm.Atom(p.Nonce[:]), clvm.List(
		clvm.Atom(p.PuzzleHash[:]), clvm.Int(int64(p.Amount)), clvm.List(memoValues...),
	))
}

// offerAnnouncement is the message a settlement coin announces once its
// solution fulfills payment: sha256 of the notarized payment's serialized
// form, matching the real settlement puzzle's own announcement rule so an
// ASSERT_PUZZLE_ANNOUNCEMENT elsewhere in the bundle can pin it down.
func offerAnnouncement(p notarizedPayment) []byte {
	h := clvm.TreeHash(p.value())
	return h[:]
}

func settlementSolution(payments []notarizedPayment) clvm.Program {
	items := make([]clvm.Value, len(payments))
	for i, p := range payments {
		items[i] = p.value()
	}
	return clvm.Serialize(clvm.List(items...))
}

func assertPuzzleAnnouncementCondition(settlementPuzzleHash chain.Hash, message []byte) clvm.Value {
	announcementID := clvm.TreeHash(clvm.Atom(append(append([]byte{}, settlementPuzzleHash[:]...), message...)))
	return clvm.List(clvm.Int(clvm.OpAssertPuzzleAnnouncement), clvm.Atom(announcementID[:]))
}

func createPuzzleAnnouncementCondition(message []byte) clvm.Value {
	return clvm.List(clvm.Int(clvm.OpCreatePuzzleAnnouncement), clvm.Atom(message))
}

// assertBeforeSecondsAbsoluteCondition invalidates a spend once the chain's
// clock passes seconds, the expiry mechanism behind offer ExpiresAt.
func assertBeforeSecondsAbsoluteCondition(seconds int64) clvm.Value {
	return clvm.List(clvm.Int(clvm.OpAssertBeforeSecondsAbsolute), clvm.Int(seconds))
}

// offerNonce derives a deterministic offer id from its terms, standing in
// for a hash of the maker's first offered coin id (unavailable before
// selection runs): stable across MakeOffer calls with identical terms,
// which is acceptable since two textually-identical offers are never
// required to carry different ids.
func offerNonce(a MakeOffer) chain.Hash {
	var buf []byte
	for _, leg := range a.MakerSide {
		buf = append(buf, legBytes(leg)...)
	}
	buf = append(buf, 0xff)
	for _, leg := range a.TakerSide {
		buf = append(buf, legBytes(leg)...)
	}
	if a.ExpiresAt != nil {
		buf = append(buf, byte(*a.ExpiresAt), byte(*a.ExpiresAt>>8), byte(*a.ExpiresAt>>16), byte(*a.ExpiresAt>>24))
	}
	return chain.Sha256(buf)
}

func legBytes(o OfferedAsset) []byte {
	buf := append([]byte{}, o.Asset.Hash[:]...)
	buf = append(buf, byte(o.Amount), byte(o.Amount>>8), byte(o.Amount>>16), byte(o.Amount>>24))
	if o.NftLauncherID != nil {
		buf = append(buf, o.NftLauncherID[:]...)
	}
	return buf
}

// planMakeOffer builds the maker's half of an offer: every offered asset's
// selected coins spend into a settlement-locked
// output, asserting a puzzle announcement that only a complementary
// settlement spend paying the requested amount back to the maker's own
// receive puzzle hash (opts.ChangePuzzleHash) can satisfy. The resulting
// partial bundle — signed here, since AggSigMe conditions are bound to the
// spent coins, not to who completes the trade — is what view_offer/
// import_offer hand around off-chain; TakeOffer supplies the other half.
func (c *compilation) planMakeOffer(ctx context.Context, a MakeOffer) error {
	if len(a.MakerSide) == 0 {
		return walleterr.New(walleterr.Api, "make_offer requires at least one maker asset")
	}
	if c.opts.ChangePuzzleHash == chain.ZeroHash {
		return fmt.Errorf("txengine: make_offer requires a receive puzzle hash for requested payments")
	}
	nonce := offerNonce(a)

	seenNfts := make(map[chain.Hash]bool)
	for _, leg := range append(append([]OfferedAsset(nil), a.MakerSide...), a.TakerSide...) {
		if leg.NftLauncherID == nil {
			continue
		}
		if seenNfts[*leg.NftLauncherID] {
			return walleterr.ErrDuplicateNftPayment
		}
		seenNfts[*leg.NftLauncherID] = true
	}

	for _, leg := range a.MakerSide {
		if leg.NftLauncherID != nil {
			if err := c.planOfferedNft(ctx, a, nonce, *leg.NftLauncherID); err != nil {
				return err
			}
			continue
		}
		key, err := c.engine.resolveAsset(leg.Asset, c.newAssetIndex)
		if err != nil {
			return err
		}
		coins, total, err := c.selectForAmount(ctx, key, leg.Amount)
		if err != nil {
			return err
		}
		if total < leg.Amount {
			return walleterr.ErrInsufficientFunds
		}

		var conditions []clvm.Value
		conditions = append(conditions, createCoinCondition(settlementLayerHash, leg.Amount, nil))
		if change := total - leg.Amount; change > 0 {
			changePH := c.opts.ChangePuzzleHash
			memos := [][]byte(nil)
			if !key.xch {
				memos = [][]byte{c.opts.ChangePuzzleHash[:]}
				changePH = tokenWrappedPuzzleHash(key.hash, changePH)
			}
			conditions = append(conditions, createCoinCondition(changePH, change, memos))
		}
		for _, wanted := range a.TakerSide {
			requested := notarizedPayment{Nonce: nonce, PuzzleHash: c.opts.ChangePuzzleHash, Amount: wanted.Amount}
			conditions = append(conditions, assertPuzzleAnnouncementCondition(settlementLayerHash, offerAnnouncement(requested)))
		}
		if a.ExpiresAt != nil {
			conditions = append(conditions, assertBeforeSecondsAbsoluteCondition(*a.ExpiresAt))
		}

		for i, cs := range coins {
			spendConditions := conditions
			if i != 0 {
				spendConditions = nil // only the first input of each asset carries the group's outputs/asserts
			}
			spend, err := c.buildAssetSpend(ctx, key, cs, spendConditions)
			if err != nil {
				return err
			}
			c.prebuilt = append(c.prebuilt, spend)
		}
	}

	if a.ExpiresAt != nil {
		c.offerExpiresAt = a.ExpiresAt
	}
	c.offerID = &nonce
	return nil
}

// planOfferedNft spends a maker-side NFT singleton into the settlement
// lock. When the NFT carries a royalty, every priced taker leg owes the
// creator floor(price * basis_points / 10000), asserted here as one more
// settlement payment — addressed to the royalty puzzle hash and scoped by
// the NFT's launcher id as nonce — so a taker cannot complete the trade
// without paying it.
func (c *compilation) planOfferedNft(ctx context.Context, a MakeOffer, nonce chain.Hash, launcherID chain.Hash) error {
	sc, cs, err := c.currentSingleton(ctx, launcherID)
	if err != nil {
		return err
	}
	c.reserved[cs.Coin.ID()] = true

	conditions := []clvm.Value{createCoinCondition(settlementLayerHash, cs.Coin.Amount, [][]byte{launcherID[:]})}
	for _, wanted := range a.TakerSide {
		if wanted.NftLauncherID != nil {
			continue
		}
		if wanted.Amount == 0 {
			return walleterr.ErrInvalidTradePrice
		}
		requested := notarizedPayment{Nonce: nonce, PuzzleHash: c.opts.ChangePuzzleHash, Amount: wanted.Amount}
		conditions = append(conditions, assertPuzzleAnnouncementCondition(settlementLayerHash, offerAnnouncement(requested)))

		if sc.RoyaltyBasisPoints != nil && sc.RoyaltyPuzzleHash != nil {
			if royalty := royaltyAmount(wanted.Amount, *sc.RoyaltyBasisPoints); royalty > 0 {
				payment := notarizedPayment{Nonce: launcherID, PuzzleHash: *sc.RoyaltyPuzzleHash, Amount: royalty}
				conditions = append(conditions, assertPuzzleAnnouncementCondition(settlementLayerHash, offerAnnouncement(payment)))
			}
		}
	}
	if a.ExpiresAt != nil {
		conditions = append(conditions, assertBeforeSecondsAbsoluteCondition(*a.ExpiresAt))
	}

	reveal, _ := singletonReveal(puzzlequeue.NftStateLayerTemplate, puzzlequeue.NftStateLayerHash,
		nftLayerArgs(sc, launcherID, sc.OwnerDID, sc.P2PuzzleHash)...)
	return c.spendSingleton(ctx, cs, sc.P2PuzzleHash, reveal, conditions)
}

// planTakeOffer completes an imported maker bundle: its own spends are
// appended verbatim (the maker already signed them), its aggregated
// signature is carried over, and Fee is added to the bundle's fee. It
// builds no settlement spends of its own paying the maker's requested
// assets.
func (c *compilation) planTakeOffer(ctx context.Context, a TakeOffer) error {
	if len(a.Bundle.CoinSpends) == 0 {
		return walleterr.New(walleterr.Api, "take_offer requires a non-empty offer bundle")
	}
	c.importedSpends = append(c.importedSpends, a.Bundle.CoinSpends...)
	c.importedSignature = a.Bundle.AggregatedSignature
	c.fee += a.Fee
	return nil
}

// planCancelOffer re-spends the maker's own locked settlement coins back to
// themselves, which both reclaims the value and burns the nonce no future
// take can complete against. Moving the offer row to Cancelled is the
// store's job; this only builds the on-chain spend.
func (c *compilation) planCancelOffer(ctx context.Context, a CancelOffer) error {
	coins, err := c.engine.store.CoinStatesByPuzzleHash(ctx, settlementLayerHash)
	if err != nil {
		return fmt.Errorf("txengine: cancel_offer: locked coins for %s: %w", a.ID, err)
	}
	if len(coins) == 0 {
		return walleterr.New(walleterr.NotFound, fmt.Sprintf("offer %s has no locked coins to cancel", a.ID))
	}
	if c.opts.ChangePuzzleHash == chain.ZeroHash {
		return fmt.Errorf("txengine: cancel_offer requires a receive puzzle hash")
	}
	for _, cs := range coins {
		payment := notarizedPayment{Nonce: a.ID, PuzzleHash: c.opts.ChangePuzzleHash, Amount: cs.Coin.Amount}
		solution := settlementSolution([]notarizedPayment{payment})
		spend := chain.CoinSpend{
			Coin:         cs.Coin,
			PuzzleReveal: clvm.Serialize(clvm.Atom(settlementLayerHash[:])),
			Solution:     solution,
		}
		c.prebuilt = append(c.prebuilt, spend)
		c.inputCoinIDs = append(c.inputCoinIDs, cs.Coin.ID())
	}
	return nil
}

// selectForAmount is planSend's selection half without the output side,
// reused by planMakeOffer since an offer leg's outputs are a settlement
// lock rather than a plain create-coin.
func (c *compilation) selectForAmount(ctx context.Context, key assetKey, amount uint64) ([]store.CoinState, uint64, error) {
	candidates, err := c.engine.store.SpendableCoinsFor(ctx, key.hash, kindForAssetKey(key))
	if err != nil {
		return nil, 0, fmt.Errorf("txengine: spendable coins: %w", err)
	}
	available := candidates[:0:0]
	for _, cs := range candidates {
		if !c.reserved[cs.Coin.ID()] {
			available = append(available, cs)
		}
	}
	chosen, err := selectCoins(available, amount)
	if err != nil {
		return nil, 0, err
	}
	var sum uint64
	for _, cs := range chosen {
		sum += cs.Coin.Amount
		c.reserved[cs.Coin.ID()] = true
	}
	return chosen, sum, nil
}

var errInsufficientFundingCoin = walleterr.New(walleterr.Wallet, "no spendable coin large enough to fund this mint")
