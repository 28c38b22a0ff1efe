package txengine

import (
	blst "github.com/supranational/blst/bindings/go"

	"github.com/rawblock/lightwallet/chain"
)

// aggSigMessage builds the message a standard-puzzle spend's AggSigMe
// condition signs over: the serialized condition list's tree hash, the
// coin's id, and the network's AggSig domain separator, so a signature
// produced for one coin on one network can never be replayed against
// another coin or another chain.
func (e *Engine) aggSigMessage(coinID chain.Hash, conditionsHash chain.Hash) []byte {
	domain := e.network.ResolvedAggSigMe()
	msg := make([]byte, 0, 96)
	msg = append(msg, conditionsHash[:]...)
	msg = append(msg, coinID[:]...)
	msg = append(msg, domain[:]...)
	return msg
}

// aggregate combines every collected signature into one BLS12-381 G2
// aggregate, the same point-addition approach derive.go's
// SyntheticPublicKey uses for G1 public keys.
func aggregate(sigs []chain.Signature) chain.Signature {
	var out chain.Signature
	if len(sigs) == 0 {
		return out
	}
	agg := new(blst.P2Aggregate)
	for _, sig := range sigs {
		var p blst.P2Affine
		p.Uncompress(sig[:])
		agg.Add(&p, true)
	}
	copy(out[:], agg.ToAffine().Compress())
	return out
}
