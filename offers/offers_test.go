package offers

import (
	"testing"

	"github.com/rawblock/lightwallet/chain"
)

func sampleBundle() chain.SpendBundle {
	coin := chain.Coin{
		ParentCoinID: chain.Sha256([]byte("parent")),
		PuzzleHash:   chain.Sha256([]byte("puzzle")),
		Amount:       500,
	}
	return chain.SpendBundle{
		CoinSpends: []chain.CoinSpend{
			{Coin: coin, PuzzleReveal: chain.Program{1, 2, 3}, Solution: chain.Program{4, 5, 6}},
		},
		AggregatedSignature: chain.Signature{0xAB},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	bundle := sampleBundle()
	blob, err := Encode(bundle)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.ID() != bundle.ID() {
		t.Fatalf("decoded bundle id = %x, want %x", decoded.ID(), bundle.ID())
	}
}

func TestDecodeRejectsInvalidBase64(t *testing.T) {
	if _, err := Decode("not valid base64!!"); err == nil {
		t.Fatal("expected Decode to reject invalid base64")
	}
}

func TestOfferedCoinIDsMatchesBundleCoins(t *testing.T) {
	bundle := sampleBundle()
	ids := OfferedCoinIDs(bundle)
	if len(ids) != 1 {
		t.Fatalf("len(ids) = %d, want 1", len(ids))
	}
	if ids[0] != bundle.CoinSpends[0].Coin.ID() {
		t.Fatal("OfferedCoinIDs did not return the bundle's coin id")
	}
}
