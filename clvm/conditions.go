package clvm

import (
	"fmt"

	"github.com/rawblock/lightwallet/chain"
)

// Condition opcodes this wallet cares about.
const (
	OpAggSigParent                = 43
	OpAggSigPuzzle                = 44
	OpAggSigAmount                = 45
	OpAggSigPuzzleAmount          = 46
	OpAggSigParentAmount          = 47
	OpAggSigParentPuzzle          = 48
	OpAggSigUnsafe                = 49
	OpAggSigMe                    = 50
	OpCreateCoin                  = 51
	OpReserveFee                  = 52
	OpCreateCoinAnnouncement      = 60
	OpAssertCoinAnnouncement      = 61
	OpCreatePuzzleAnnouncement    = 62
	OpAssertPuzzleAnnouncement    = 63
	OpAssertConcurrentSpend       = 64
	OpAssertConcurrentPuzzle      = 65
	OpAssertMyCoinID              = 70
	OpAssertMyParentID            = 71
	OpAssertMyPuzzleHash          = 72
	OpAssertMyAmount              = 73
	OpAssertSecondsRelative       = 80
	OpAssertSecondsAbsolute       = 81
	OpAssertHeightRelative        = 82
	OpAssertHeightAbsolute        = 83
	OpAssertBeforeSecondsRelative = 84
	OpAssertBeforeSecondsAbsolute = 85
	OpAssertBeforeHeightRelative  = 86
	OpAssertBeforeHeightAbsolute  = 87
)

// CreateCoinCondition is a decoded CREATE_COIN condition, the primitive the
// puzzle queue uses to discover and classify every child coin.
type CreateCoinCondition struct {
	PuzzleHash Hash32
	Amount     uint64
	Memos      [][]byte // optional hint list; Memos[0] is the recipient hint
}

// Hash32 aliases chain.Hash for readability inside this package.
type Hash32 = chain.Hash

// AggSigCondition is a decoded AggSig* condition: the signing requirement
// the transaction engine must satisfy before it can aggregate a bundle.
type AggSigCondition struct {
	Opcode    int64
	PublicKey chain.PublicKey
	Message   []byte
}

// ConditionList is the parsed output of running a puzzle against a solution.
type ConditionList struct {
	CreateCoins []CreateCoinCondition
	AggSigs     []AggSigCondition
	ReserveFee  uint64
	Raw         []Value // every condition, undecoded, for callers needing opcodes we don't special-case
}

// ParseConditions walks a CLVM list-of-conditions value (the second return
// value of `run_program`) into a ConditionList.
func ParseConditions(conditionsValue Value) (ConditionList, error) {
	items, err := conditionsValue.AsList()
	if err != nil {
		return ConditionList{}, fmt.Errorf("clvm: conditions must be a proper list: %w", err)
	}
	var out ConditionList
	for _, cond := range items {
		out.Raw = append(out.Raw, cond)
		parts, err := cond.AsList()
		if err != nil || len(parts) == 0 {
			continue // malformed individual condition: ignored, not fatal
		}
		opcode, err := parts[0].AsInt()
		if err != nil {
			continue
		}
		switch opcode {
		case OpCreateCoin:
			if len(parts) < 3 {
				continue
			}
			ph, err := chain.HashFromBytes(parts[1].Atom)
			if err != nil {
				continue
			}
			amount, _ := parts[2].AsInt()
			var memos [][]byte
			if len(parts) >= 4 {
				memoList, err := parts[3].AsList()
				if err == nil {
					for _, m := range memoList {
						memos = append(memos, m.Atom)
					}
				}
			}
			out.CreateCoins = append(out.CreateCoins, CreateCoinCondition{
				PuzzleHash: ph,
				Amount:     uint64(amount),
				Memos:      memos,
			})
		case OpReserveFee:
			if len(parts) < 2 {
				continue
			}
			fee, _ := parts[1].AsInt()
			out.ReserveFee += uint64(fee)
		case OpAggSigParent, OpAggSigPuzzle, OpAggSigAmount, OpAggSigPuzzleAmount,
			OpAggSigParentAmount, OpAggSigParentPuzzle, OpAggSigUnsafe, OpAggSigMe:
			if len(parts) < 3 {
				continue
			}
			var pk chain.PublicKey
			copy(pk[:], parts[1].Atom)
			out.AggSigs = append(out.AggSigs, AggSigCondition{
				Opcode:    opcode,
				PublicKey: pk,
				Message:   parts[2].Atom,
			})
		}
	}
	return out, nil
}

// Hint returns the first memo of the first CREATE_COIN condition matching
// (puzzleHash, amount): the intended recipient puzzle hash for
// non-address-addressed coins.
func (cl ConditionList) Hint(puzzleHash Hash32, amount uint64) (Hash32, bool) {
	for _, cc := range cl.CreateCoins {
		if cc.PuzzleHash == puzzleHash && cc.Amount == amount && len(cc.Memos) > 0 {
			h, err := chain.HashFromBytes(cc.Memos[0])
			if err == nil {
				return h, true
			}
		}
	}
	return Hash32{}, false
}

// ChildCoins returns every coin created by this condition list, given the
// parent coin id that produced them.
func (cl ConditionList) ChildCoins(parentCoinID Hash32) []chain.Coin {
	out := make([]chain.Coin, 0, len(cl.CreateCoins))
	for _, cc := range cl.CreateCoins {
		out = append(out, chain.Coin{
			ParentCoinID: parentCoinID,
			PuzzleHash:   cc.PuzzleHash,
			Amount:       cc.Amount,
		})
	}
	return out
}
