package queues

import (
	"testing"

	"github.com/rawblock/lightwallet/peer"
)

func TestInterpretAcks(t *testing.T) {
	cases := []struct {
		name       string
		acks       []peer.TransactionAck
		got        []bool
		want       ackOutcome
		wantReason string
	}{
		{
			name: "any success wins over failures",
			acks: []peer.TransactionAck{{Accepted: false, Error: "bad sig"}, {Accepted: true}},
			got:  []bool{true, true},
			want: outcomeConfirmed,
		},
		{
			name: "pending blocks failure",
			acks: []peer.TransactionAck{{Error: "pending"}, {Error: "bad sig"}},
			got:  []bool{true, true},
			want: outcomePending,
		},
		{
			name:       "unanimous failure carries the most informative reason",
			acks:       []peer.TransactionAck{{Error: ""}, {Error: "double spend"}},
			got:        []bool{true, true},
			want:       outcomeFailed,
			wantReason: "double spend",
		},
		{
			name: "no acks at all is ambiguous",
			acks: []peer.TransactionAck{{}, {}},
			got:  []bool{false, false},
			want: outcomeAmbiguous,
		},
	}
	for _, tc := range cases {
		outcome, reason := interpretAcks(tc.acks, tc.got)
		if outcome != tc.want {
			t.Errorf("%s: outcome = %d, want %d", tc.name, outcome, tc.want)
		}
		if reason != tc.wantReason {
			t.Errorf("%s: reason = %q, want %q", tc.name, reason, tc.wantReason)
		}
	}
}
