package queues

import "github.com/rawblock/lightwallet/peer"

// ackOutcome is the mempool queue's decision for one submission round.
type ackOutcome int

const (
	// outcomeAmbiguous means no peer acked at all: leave the item as-is and
	// retry next cycle.
	outcomeAmbiguous ackOutcome = iota
	// outcomeConfirmed means at least one peer accepted the bundle.
	outcomeConfirmed
	// outcomePending means at least one peer is still holding the bundle in
	// its mempool without a decision.
	outcomePending
	// outcomeFailed means every responding peer rejected the bundle.
	outcomeFailed
)

// interpretAcks folds a broadcast round's per-peer acks into the bundle's
// next state, separate from the submit loop so the precedence rules — any
// success wins, any pending blocks failure, failure only when unanimous —
// live in one place. The returned reason is the most informative rejection
// message seen, only meaningful for outcomeFailed.
func interpretAcks(acks []peer.TransactionAck, got []bool) (ackOutcome, string) {
	anySuccess, anyPending, anyFailed, anyAck := false, false, false, false
	var reason string
	for i, ok := range got {
		if !ok {
			continue
		}
		anyAck = true
		if acks[i].Accepted {
			anySuccess = true
			continue
		}
		if acks[i].Error == "pending" {
			anyPending = true
			continue
		}
		anyFailed = true
		if acks[i].Error != "" {
			reason = acks[i].Error
		}
	}

	switch {
	case anySuccess:
		return outcomeConfirmed, ""
	case anyPending:
		return outcomePending, ""
	case anyAck && anyFailed:
		return outcomeFailed, reason
	default:
		return outcomeAmbiguous, ""
	}
}
