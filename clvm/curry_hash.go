package clvm

import "github.com/rawblock/lightwallet/chain"

// atomHash and pairHash are TreeHash's two cases exposed standalone, so
// CurryTreeHash can combine a known mod hash with freshly computed
// argument hashes without needing the mod's actual source bytes.
func atomHash(atom []byte) chain.Hash { return chain.Sha256([]byte{0x01}, atom) }
func pairHash(left, right chain.Hash) chain.Hash {
	return chain.Sha256([]byte{0x02}, left[:], right[:])
}

var (
	nilHash      = atomHash(nil)
	quoteOpHash  = atomHash([]byte{opQuote})
	consOpHash   = atomHash([]byte{opCons})
	applyOpHash  = atomHash([]byte{opApply})
	solutionHash = atomHash([]byte{1}) // encodeInt(1) == []byte{1}, the un-curried "whole solution" path
)

// CurryTreeHash computes the tree hash Curry(puzzle, args...) would produce
// given only puzzle's own tree hash, following the same recursive
// sha256tree combination Curry's structure encodes. Every singleton and
// token puzzle template is matched against this shape (a mod hash plus its
// curried arguments), so the transaction engine can compute a new child
// coin's puzzle hash without ever holding that mod's literal source bytes,
// the same way a real wallet's curry-and-treehash optimization works.
func CurryTreeHash(modHash chain.Hash, args ...Value) chain.Hash {
	quotedPuzzleHash := pairHash(quoteOpHash, modHash)

	env := solutionHash
	for i := len(args) - 1; i >= 0; i-- {
		quotedArgHash := pairHash(quoteOpHash, TreeHash(args[i]))
		env = pairHash(consOpHash, pairHash(quotedArgHash, pairHash(env, nilHash)))
	}

	return pairHash(applyOpHash, pairHash(quotedPuzzleHash, pairHash(env, nilHash)))
}
