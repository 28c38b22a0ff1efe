package chain

// Coin is the immutable UTXO-like record at the heart of the chain model.
// Its id is always the hash of its three fields, never stored separately.
type Coin struct {
	ParentCoinID Hash
	PuzzleHash   Hash
	Amount       uint64
}

// ID returns the deterministic coin id: hash(parent || puzzle_hash || amount
// in its minimal signed big-endian encoding, as amountBytes produces it).
func (c Coin) ID() Hash {
	return Sha256(c.ParentCoinID[:], c.PuzzleHash[:], amountBytes(c.Amount))
}

func amountBytes(amount uint64) []byte {
	// Conditions encode amounts as the shortest big-endian two's-complement
	// representation that round-trips through a signed CLVM atom: no
	// leading 0x00 byte unless the high bit of the next byte is set.
	if amount == 0 {
		return nil
	}
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(amount)
		amount >>= 8
	}
	i := 0
	for i < 7 && b[i] == 0 && b[i+1]&0x80 == 0 {
		i++
	}
	return b[i:]
}

// IsOdd reports whether the coin's amount is odd, the defining property of
// every singleton coin (NFT, DID, option) in its lineage.
func (c Coin) IsOdd() bool {
	return c.Amount%2 == 1
}

// LineageProof is the triple that proves a singleton's immediate ancestry:
// its parent's parent id, its parent's inner puzzle hash, and its parent's
// amount. An eve coin (the first child of a launcher) has no lineage proof.
type LineageProof struct {
	ParentParentCoinID    Hash
	ParentInnerPuzzleHash Hash
	ParentAmount          uint64
	IsEve                 bool
}

// Program is an opaque compiled puzzle or solution blob, serialized in the
// chain's CLVM wire format (see package clvm).
type Program []byte

// Signature is a 96-byte BLS12-381 G2 signature.
type Signature [96]byte

// PublicKey is a 48-byte BLS12-381 G1 public key.
type PublicKey [48]byte

// CoinSpend pairs a coin with the puzzle reveal and solution that spend it.
type CoinSpend struct {
	Coin         Coin
	PuzzleReveal Program
	Solution     Program
}

// SpendBundle is a list of coin spends plus the aggregated signature over
// every AggSig condition they emit.
type SpendBundle struct {
	CoinSpends          []CoinSpend
	AggregatedSignature Signature
}

// ID is the hash identifying a spend bundle: the hash of its coin ids in
// the order they appear, salted with the aggregated signature.
func (b SpendBundle) ID() Hash {
	h := make([]byte, 0, 32*len(b.CoinSpends)+96)
	for _, cs := range b.CoinSpends {
		id := cs.Coin.ID()
		h = append(h, id[:]...)
	}
	h = append(h, b.AggregatedSignature[:]...)
	return Sha256(h)
}
