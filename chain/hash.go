// Package chain defines the coin model and other chain primitives shared by
// every subsystem: the VM driver, the store, the sync manager and the
// transaction engine all speak in terms of these types.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hash is a 32-byte digest: a coin id, a puzzle hash, an asset hash, a
// launcher id or a block header hash are all Hash values. Reusing
// chainhash.Hash gives us its comparable array representation and its
// hex (String/NewHashFromStr) helpers for free.
type Hash = chainhash.Hash

// ZeroHash is the all-zero 32-byte hash, used as the "no parent" sentinel
// for eve coins and as the default hidden-puzzle-hash value.
var ZeroHash Hash

// HashFromBytes copies b into a Hash, erroring if b is not 32 bytes long.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != len(h) {
		return h, errors.New("chain: hash must be 32 bytes")
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex decodes a hex-encoded 32-byte hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	return HashFromBytes(b)
}

// Sha256 returns the SHA-256 digest of the concatenation of parts.
func Sha256(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
