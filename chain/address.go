package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// EncodeAddress renders a puzzle hash as a bech32m address with the given
// network prefix (e.g. "xch" for mainnet, "txch" for testnet), the address
// format used throughout the RPC surface and by make_offer/take_offer.
func EncodeAddress(prefix string, puzzleHash Hash) (string, error) {
	converted, err := bech32.ConvertBits(puzzleHash[:], 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("chain: convert bits: %w", err)
	}
	return bech32.EncodeM(prefix, converted)
}

// DecodeAddress parses a bech32m address, returning its puzzle hash and the
// prefix it was encoded with. Addresses encoded with the legacy (non-m)
// bech32 checksum are rejected: every supported network uses bech32m.
func DecodeAddress(address string) (prefix string, puzzleHash Hash, err error) {
	hrp, data, version, err := bech32.DecodeGeneric(address)
	if err != nil {
		return "", Hash{}, fmt.Errorf("chain: decode address: %w", err)
	}
	if version != bech32.VersionM {
		return "", Hash{}, fmt.Errorf("chain: address %q uses a legacy bech32 checksum", address)
	}
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", Hash{}, fmt.Errorf("chain: convert bits: %w", err)
	}
	puzzleHash, err = HashFromBytes(converted)
	if err != nil {
		return "", Hash{}, fmt.Errorf("chain: address %q does not encode a 32-byte puzzle hash", address)
	}
	return hrp, puzzleHash, nil
}
