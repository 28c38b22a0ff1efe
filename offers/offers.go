// Package offers implements the offer blob encoding and the human-readable
// asset summary an offer resolves to. A blob is the maker's partial spend
// bundle — built by txengine.Engine.Compile's MakeOffer action — encoded so
// it can travel off-chain (pasted into a chat, emailed, stored as a file)
// and later be decoded back into a bundle a taker's wallet can complete.
package offers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/clvm"
)

// Encode renders a partial spend bundle as a portable offer blob. JSON
// wrapped in base64 rather than this chain's native streamable encoding,
// the same pragmatic call the peer wire format makes: what matters is the
// blob's round-trip fidelity, not byte-for-byte compatibility with another
// implementation's encoder.
func Encode(bundle chain.SpendBundle) (string, error) {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("offers: marshal bundle: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses a blob produced by Encode back into a spend bundle.
func Decode(blob string) (chain.SpendBundle, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return chain.SpendBundle{}, fmt.Errorf("offers: decode blob: %w", err)
	}
	var bundle chain.SpendBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return chain.SpendBundle{}, fmt.Errorf("offers: unmarshal bundle: %w", err)
	}
	return bundle, nil
}

// OfferedCoinIDs returns the coin ids the maker committed to this offer:
// every coin the partial bundle spends. Once the offer is made, these are
// exactly the coins the offer queue polls to detect completion or
// cancellation — the maker's own spend is what moves them out of their
// original puzzle hash.
func OfferedCoinIDs(bundle chain.SpendBundle) []chain.Hash {
	ids := make([]chain.Hash, 0, len(bundle.CoinSpends))
	for _, cs := range bundle.CoinSpends {
		ids = append(ids, cs.Coin.ID())
	}
	return ids
}

// Leg is one asset side of a reconstructed offer summary.
type Leg struct {
	PuzzleHash chain.Hash
	Amount     uint64
}

// Summary is the maker/taker asset breakdown computed from a blob, needed
// because TakeOffer must show a caller what they're agreeing to before
// signing.
//
// Requested is never filled in by Summarize: a maker's requested leg is
// encoded as an ASSERT_PUZZLE_ANNOUNCEMENT condition pinning
// sha256(notarized payment) (txengine's offerAnnouncement), and a hash
// cannot be inverted back into the puzzle hash and amount it commits to.
// The requested terms are only known to whoever authored the MakeOffer
// call in the first place, so a caller displaying a blob it did not create
// itself sees Offered legs only, exactly as much as the chain itself
// reveals before a taker completes the trade.
type Summary struct {
	Offered   []Leg
	Requested []Leg
}

// Summarize replays every spend's puzzle against its solution and buckets
// the resulting CREATE_COIN conditions: one the spend emits back to its own
// puzzle hash is change, not an offered leg; everything else is. Best-effort:
// a spend whose puzzle cannot be run is skipped rather than failing the
// whole summary, the same posture puzzlequeue's template matching takes
// toward parse failures.
func Summarize(bundle chain.SpendBundle) Summary {
	var s Summary
	for _, cs := range bundle.CoinSpends {
		puzzle, err := clvm.Deserialize(cs.PuzzleReveal)
		if err != nil {
			continue
		}
		solution, err := clvm.Deserialize(cs.Solution)
		if err != nil {
			continue
		}
		output, err := clvm.Run(puzzle, solution)
		if err != nil {
			continue
		}
		conds, err := clvm.ParseConditions(output)
		if err != nil {
			continue
		}
		for _, cc := range conds.CreateCoins {
			if cc.PuzzleHash == cs.Coin.PuzzleHash {
				continue // change back to the maker, not an offered leg
			}
			s.Offered = append(s.Offered, Leg{PuzzleHash: cc.PuzzleHash, Amount: cc.Amount})
		}
	}
	return s
}
