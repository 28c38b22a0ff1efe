package txengine

import "testing"

func TestRoyaltyAmountFloorsDivision(t *testing.T) {
	cases := []struct {
		price  uint64
		bps    uint16
		expect uint64
	}{
		{price: 1000, bps: 300, expect: 30},
		{price: 1, bps: 300, expect: 0},
		{price: 10000, bps: 1, expect: 1},
		{price: 0, bps: 300, expect: 0},
		{price: 12345, bps: 10000, expect: 12345},
	}
	for _, tc := range cases {
		got := royaltyAmount(tc.price, tc.bps)
		if got != tc.expect {
			t.Errorf("royaltyAmount(%d, %d) = %d, want %d", tc.price, tc.bps, got, tc.expect)
		}
	}
}
