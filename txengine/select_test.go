package txengine

import (
	"testing"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/pkg/walleterr"
	"github.com/rawblock/lightwallet/store"
)

func coinWithAmount(t *testing.T, seed byte, amount uint64) store.CoinState {
	t.Helper()
	return store.CoinState{
		Coin: chain.Coin{
			ParentCoinID: chain.Sha256([]byte{seed}),
			PuzzleHash:   chain.Sha256([]byte{seed, seed}),
			Amount:       amount,
		},
	}
}

func TestSelectCoinsPicksSmallestSufficientSubset(t *testing.T) {
	candidates := []store.CoinState{
		coinWithAmount(t, 1, 100),
		coinWithAmount(t, 2, 500),
		coinWithAmount(t, 3, 250),
	}

	chosen, err := selectCoins(candidates, 600)
	if err != nil {
		t.Fatalf("selectCoins: %v", err)
	}
	if len(chosen) != 2 {
		t.Fatalf("len(chosen) = %d, want 2", len(chosen))
	}
	var sum uint64
	for _, c := range chosen {
		sum += c.Coin.Amount
	}
	if sum < 600 {
		t.Fatalf("sum = %d, want >= 600", sum)
	}
	if chosen[0].Coin.Amount != 500 {
		t.Fatalf("largest-first tie-break: chosen[0].Amount = %d, want 500", chosen[0].Coin.Amount)
	}
}

func TestSelectCoinsZeroTargetSelectsNothing(t *testing.T) {
	chosen, err := selectCoins([]store.CoinState{coinWithAmount(t, 1, 100)}, 0)
	if err != nil {
		t.Fatalf("selectCoins: %v", err)
	}
	if len(chosen) != 0 {
		t.Fatalf("len(chosen) = %d, want 0", len(chosen))
	}
}

func TestSelectCoinsInsufficientFunds(t *testing.T) {
	candidates := []store.CoinState{coinWithAmount(t, 1, 100), coinWithAmount(t, 2, 50)}
	_, err := selectCoins(candidates, 1000)
	if err != walleterr.ErrInsufficientFunds {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestSelectCoinsDeterministicTieBreak(t *testing.T) {
	candidates := []store.CoinState{
		coinWithAmount(t, 9, 100),
		coinWithAmount(t, 1, 100),
		coinWithAmount(t, 5, 100),
	}
	first, err := selectCoins(candidates, 100)
	if err != nil {
		t.Fatalf("selectCoins: %v", err)
	}
	second, err := selectCoins(candidates, 100)
	if err != nil {
		t.Fatalf("selectCoins: %v", err)
	}
	if first[0].Coin.ID() != second[0].Coin.ID() {
		t.Fatal("selectCoins is not deterministic across identical calls")
	}
}
