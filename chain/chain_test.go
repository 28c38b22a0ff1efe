package chain

import "testing"

func TestCoinIDIsDeterministic(t *testing.T) {
	c := Coin{
		ParentCoinID: Sha256([]byte("parent")),
		PuzzleHash:   Sha256([]byte("puzzle")),
		Amount:       1000,
	}
	id1 := c.ID()
	id2 := c.ID()
	if id1 != id2 {
		t.Fatal("Coin.ID() is not deterministic across calls")
	}

	other := c
	other.Amount = 999
	if other.ID() == id1 {
		t.Fatal("Coin.ID() did not change when amount changed")
	}
}

func TestEncodeDecodeAddressRoundTrip(t *testing.T) {
	puzzleHash := Sha256([]byte("a puzzle hash"))
	addr, err := EncodeAddress("xch", puzzleHash)
	if err != nil {
		t.Fatalf("EncodeAddress: %v", err)
	}

	prefix, decoded, err := DecodeAddress(addr)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if prefix != "xch" {
		t.Fatalf("prefix = %q, want xch", prefix)
	}
	if decoded != puzzleHash {
		t.Fatalf("decoded puzzle hash = %x, want %x", decoded, puzzleHash)
	}
}

func TestDecodeAddressRejectsWrongLength(t *testing.T) {
	addr, err := EncodeAddress("xch", Hash{})
	if err != nil {
		t.Fatalf("EncodeAddress: %v", err)
	}
	// A truncated bech32m payload should fail to decode back to a 32-byte hash.
	if _, _, err := DecodeAddress(addr[:len(addr)-8]); err == nil {
		t.Fatal("expected DecodeAddress to reject a truncated address")
	}
}
