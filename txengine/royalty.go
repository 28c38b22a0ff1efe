package txengine

// royaltyAmount computes an NFT royalty payment:
// floor(trade_price * basis_points / 10000).
func royaltyAmount(tradePrice uint64, basisPoints uint16) uint64 {
	return (tradePrice * uint64(basisPoints)) / 10000
}
