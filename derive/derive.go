// Package derive implements the deterministic child-key generation engine:
// p2_puzzle_hash(i, hardened) = curry_tree_hash(
// standard_puzzle(synthetic_public_key(i, hardened))), using BLS12-381 key
// blinding so no owner public key is ever reused across addresses.
//
// github.com/supranational/blst is the reference Go binding for BLS12-381
// across the Go crypto ecosystem.
package derive

import (
	"encoding/binary"
	"math/big"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/clvm"
)

// DefaultGap is the minimum number of unused derivations to keep generated
// ahead of the highest index seen in use.
const DefaultGap = 500

// MinDurableGap is the floor a wallet's configured gap is allowed to shrink
// to.
const MinDurableGap = 1000

// hardenedOffset mirrors BIP32-style hardened derivation: hardened indices
// are derived through a distinct path so a hardened key can never be
// produced from knowledge of only the unhardened chain.
const hardenedOffset = uint32(1) << 31

// MasterKey wraps the wallet's master BLS secret key.
type MasterKey struct {
	sk *blst.SecretKey
}

// NewMasterKey derives a master secret key from a 32+ byte seed (e.g. a
// BIP39 mnemonic's entropy), using blst's standard EIP-2333 key generation.
func NewMasterKey(seed []byte) *MasterKey {
	return &MasterKey{sk: blst.KeyGen(seed)}
}

// PublicKey returns the master public key.
func (m *MasterKey) PublicKey() chain.PublicKey {
	pk := new(blst.P1Affine).From(m.sk)
	var out chain.PublicKey
	copy(out[:], pk.Compress())
	return out
}

// childSecretKey derives index i's child secret key from the master key,
// using EIP-2333-style hierarchical derivation: hardened indices derive
// directly from the master secret; unhardened indices derive from the
// master's single "unhardened root" child (index 0, without the hardened
// bit). Both paths key off secret-key bytes, so neither can be walked from
// a public key alone.
func (m *MasterKey) childSecretKey(index uint32, hardened bool) *blst.SecretKey {
	if hardened {
		return deriveChild(m.sk, index|hardenedOffset)
	}
	root := deriveChild(m.sk, 0)
	return deriveChild(root, index)
}

func deriveChild(parent *blst.SecretKey, index uint32) *blst.SecretKey {
	ikm := parent.Serialize()
	var idxBytes [4]byte
	binary.BigEndian.PutUint32(idxBytes[:], index)
	return blst.KeyGen(append(ikm, idxBytes[:]...))
}

// ChildPublicKey derives the plain (non-synthetic) child public key at
// (index, hardened); GenerateBatch curries this through SyntheticPublicKey
// the same way a watch-only wallet would from a stored public child, since
// the batch insert only ever needs to persist public data.
func (m *MasterKey) ChildPublicKey(index uint32, hardened bool) chain.PublicKey {
	child := m.childSecretKey(index, hardened)
	pk := new(blst.P1Affine).From(child)
	var out chain.PublicKey
	copy(out[:], pk.Compress())
	return out
}

// SyntheticSecretKey derives the synthetic secret key used to sign for a
// given derivation index: the child secret key blinded by a commitment to
// its own puzzle hash, so the same owner key never appears twice on-chain.
func (m *MasterKey) SyntheticSecretKey(index uint32, hardened bool) *blst.SecretKey {
	child := m.childSecretKey(index, hardened)
	pk := new(blst.P1Affine).From(child)
	offset := syntheticOffset(pk)
	return addScalars(child, offset)
}

// SyntheticPublicKey derives the public half without needing the master
// secret key, so watch-only wallets can still compute their own addresses.
func SyntheticPublicKey(childPublicKey chain.PublicKey) chain.PublicKey {
	pk := new(blst.P1Affine)
	pk.Uncompress(childPublicKey[:])
	offset := syntheticOffset(pk)
	offsetPoint := new(blst.P1Affine).From(offset)
	blinded := new(blst.P1Aggregate)
	blinded.Add(pk, true)
	blinded.Add(offsetPoint, true)
	var out chain.PublicKey
	copy(out[:], blinded.ToAffine().Compress())
	return out
}

// syntheticOffset computes the blinding scalar: blst's KeyGen run over
// sha256(pk || "synthetic-key-offset").
func syntheticOffset(pk *blst.P1Affine) *blst.SecretKey {
	digest := chain.Sha256(pk.Compress(), []byte("synthetic-key-offset"))
	return blst.KeyGen(digest[:])
}

// blsGroupOrder is the BLS12-381 scalar field order r.
var blsGroupOrder, _ = new(big.Int).SetString("73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001", 16)

// addScalars adds two secret scalars mod the group order, so the synthetic
// secret key's public point equals SyntheticPublicKey's point addition of
// the child key and the offset.
func addScalars(a, b *blst.SecretKey) *blst.SecretKey {
	x := new(big.Int).SetBytes(a.Serialize())
	y := new(big.Int).SetBytes(b.Serialize())
	x.Add(x, y).Mod(x, blsGroupOrder)
	return new(blst.SecretKey).Deserialize(x.FillBytes(make([]byte, 32)))
}

// aggSigMeDST is the domain-separation tag the reference chain signs
// AGG_SIG_ME messages under; every synthetic key signs against it so a
// signature never verifies against the wrong scheme.
var aggSigMeDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_AUG_")

// Sign produces a BLS signature over message using the synthetic secret key
// derived for (index, hardened), the primitive txengine's Signer interface
// is built on.
func (m *MasterKey) Sign(index uint32, hardened bool, message []byte) chain.Signature {
	sk := m.SyntheticSecretKey(index, hardened)
	sig := new(blst.P2Affine).Sign(sk, message, aggSigMeDST)
	var out chain.Signature
	copy(out[:], sig.Compress())
	return out
}

// P2PuzzleHash computes the address puzzle hash for a synthetic public key:
// curry_tree_hash(standard_puzzle(synthetic_public_key)).
func P2PuzzleHash(syntheticPublicKey chain.PublicKey) chain.Hash {
	puzzle := clvm.Curry(StandardPuzzleTemplate, clvm.Atom(syntheticPublicKey[:]))
	return clvm.TreeHash(puzzle)
}

// StandardPuzzleTemplate is the uncurried "p2_delegated_puzzle_or_hidden_
// puzzle" mod hash this chain uses for every ordinary owned address. It is
// opaque to this engine beyond its tree hash identity; the puzzle queue's
// token/NFT/DID templates curry it the same way.
var StandardPuzzleTemplate = clvm.Atom(mustHex("ff02ffff01ff02ffff03ffff09ff05ffff1dff0bffff1effff0bff0bffff02ff06ffff04ff02ffff04ff17ff8080808080ffff01ff0880ffff01ff02ffff03ffff09ff05ffff1effff0bff0bffff02ff06ffff04ff02ffff04ff17ff80808080ff0180ffff01ff02ff17ff2f80ffff01ff088080ff0180ffff04ffff01ff32ff02ffff03ffff07ff0580ffff01ff0bffff0102ffff02ff06ffff04ff02ffff04ff09ff80808080ffff02ff06ffff04ff02ffff04ff0dff8080808080ffff01ff0bffff0101ff058080ff0180ff018080"))

func mustHex(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := range b {
		var hi, lo byte
		hi = hexDigit(s[i*2])
		lo = hexDigit(s[i*2+1])
		b[i] = hi<<4 | lo
	}
	return b
}

func hexDigit(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
