package txengine

import (
	"sort"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/pkg/walleterr"
	"github.com/rawblock/lightwallet/store"
)

// selectCoins implements the selection policy: the
// smallest sufficient subset of candidates whose sum is at least target,
// breaking ties deterministically by coin id so the same candidate set
// always yields the same selection. Candidates already reserved by an
// explicit pin (preselection) are excluded by the caller before this runs.
func selectCoins(candidates []store.CoinState, target uint64) ([]store.CoinState, error) {
	if target == 0 {
		return nil, nil
	}
	sorted := append([]store.CoinState(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Coin.Amount != sorted[j].Coin.Amount {
			return sorted[i].Coin.Amount > sorted[j].Coin.Amount // largest first minimizes coin count
		}
		idI, idJ := sorted[i].Coin.ID(), sorted[j].Coin.ID()
		return lessHash(idI, idJ)
	})

	var chosen []store.CoinState
	var sum uint64
	for _, cs := range sorted {
		if sum >= target {
			break
		}
		chosen = append(chosen, cs)
		sum += cs.Coin.Amount
	}
	if sum < target {
		return nil, walleterr.ErrInsufficientFunds
	}
	return chosen, nil
}

func lessHash(a, b chain.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
