package clvm

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Opcode atoms recognized by Run. CLVM programs are themselves data: the
// operator position of every form is a single-byte atom.
const (
	opQuote   = 1
	opApply   = 2
	opIf      = 3
	opCons    = 4
	opFirst   = 5
	opRest    = 6
	opListp   = 7
	opRaise   = 8
	opEq      = 9
	opSha256  = 11
	opConcat  = 14
	opAdd     = 16
	opSub     = 17
	opMul     = 18
	opDiv     = 19
	opGt      = 21
	opGtBytes = 24
	opNot     = 32
)

// MaxCost bounds the number of node evaluations a single Run call may
// perform, so a malicious or buggy reveal can't hang a puzzle-queue worker
// past the microsecond-scale budget a single coin-puzzle replay gets.
const MaxCost = 1 << 20

var ErrCostExceeded = errors.New("clvm: execution cost exceeded")

// Run executes a puzzle program against a solution (its single environment
// argument) and returns the resulting value — for a coin's actual puzzle,
// this is a list of conditions; ParseConditions turns it into a
// ConditionList.
func Run(puzzle, solution Value) (Value, error) {
	cost := 0
	return eval(puzzle, solution, &cost)
}

func eval(node, env Value, cost *int) (Value, error) {
	*cost++
	if *cost > MaxCost {
		return Value{}, ErrCostExceeded
	}
	if node.IsAtom() {
		return evalAtomNode(node, env)
	}
	// (operator . args)
	opNode, err := node.First()
	if err != nil {
		return Value{}, err
	}
	argsNode, err := node.Rest()
	if err != nil {
		return Value{}, err
	}
	if !opNode.IsAtom() {
		// operator position is itself a cons: treat as (inline-apply) of a
		// quoted program, matching CLVM's "operator is a list" convention
		// used by curried puzzles' generated apply nodes.
		inner, err := eval(opNode, env, cost)
		if err != nil {
			return Value{}, err
		}
		return eval(inner, env, cost)
	}
	op, err := opNode.AsInt()
	if err != nil {
		return Value{}, err
	}
	if op == opQuote {
		return argsNode, nil
	}
	args, err := argsNode.AsList()
	if err != nil {
		return Value{}, fmt.Errorf("clvm: operator arguments must be a proper list: %w", err)
	}
	evaluated := make([]Value, len(args))
	// opIf and opApply special-case their argument evaluation (lazy
	// branches); every other operator evaluates all its arguments first.
	switch op {
	case opIf:
		return evalIf(args, env, cost)
	case opApply:
		if len(args) != 2 {
			return Value{}, errors.New("clvm: apply (a) takes exactly 2 arguments")
		}
		prog, err := eval(args[0], env, cost)
		if err != nil {
			return Value{}, err
		}
		newEnv, err := eval(args[1], env, cost)
		if err != nil {
			return Value{}, err
		}
		return eval(prog, newEnv, cost)
	}
	for i, a := range args {
		evaluated[i], err = eval(a, env, cost)
		if err != nil {
			return Value{}, err
		}
	}
	return applyOp(op, evaluated)
}

func evalAtomNode(node, env Value) (Value, error) {
	// An atom in operand position is a positional path into the
	// environment: 1 is the whole environment, 2/3 are its first/rest, and
	// so on — CLVM's binary-tree argument addressing.
	n, err := node.AsInt()
	if err != nil {
		return Value{}, err
	}
	if n == 0 {
		return Value{}, errors.New("clvm: path 0 is invalid")
	}
	return pathLookup(uint64(n), env)
}

// pathLookup resolves a positional environment path: below the leading 1
// bit, each bit selects a branch reading from least significant upward,
// 0 = first, 1 = rest. Path 2 is the environment's first element, 5 its
// second, 11 its third.
func pathLookup(path uint64, env Value) (Value, error) {
	cur := env
	for path > 1 {
		if cur.Pair == nil {
			return Value{}, errors.New("clvm: path into atom")
		}
		if path&1 == 0 {
			cur = cur.Pair.First
		} else {
			cur = cur.Pair.Rest
		}
		path >>= 1
	}
	return cur, nil
}

func evalIf(args []Value, env Value, cost *int) (Value, error) {
	if len(args) != 3 {
		return Value{}, errors.New("clvm: if (i) takes exactly 3 arguments")
	}
	cond, err := eval(args[0], env, cost)
	if err != nil {
		return Value{}, err
	}
	if cond.IsNil() {
		return eval(args[2], env, cost)
	}
	return eval(args[1], env, cost)
}

func applyOp(op int64, args []Value) (Value, error) {
	switch op {
	case opCons:
		if len(args) != 2 {
			return Value{}, errors.New("clvm: c takes exactly 2 arguments")
		}
		return Cons(args[0], args[1]), nil
	case opFirst:
		if len(args) != 1 {
			return Value{}, errors.New("clvm: f takes exactly 1 argument")
		}
		return args[0].First()
	case opRest:
		if len(args) != 1 {
			return Value{}, errors.New("clvm: r takes exactly 1 argument")
		}
		return args[0].Rest()
	case opListp:
		if len(args) != 1 {
			return Value{}, errors.New("clvm: l takes exactly 1 argument")
		}
		if args[0].Pair != nil {
			return Int(1), nil
		}
		return Nil, nil
	case opRaise:
		return Value{}, fmt.Errorf("clvm: program raised (x): %v", args)
	case opEq:
		if len(args) != 2 || !args[0].IsAtom() || !args[1].IsAtom() {
			return Value{}, errors.New("clvm: = requires two atoms")
		}
		if bytes.Equal(args[0].Atom, args[1].Atom) {
			return Int(1), nil
		}
		return Nil, nil
	case opGtBytes:
		if len(args) != 2 {
			return Value{}, errors.New("clvm: >s requires two atoms")
		}
		if bytes.Compare(args[0].Atom, args[1].Atom) > 0 {
			return Int(1), nil
		}
		return Nil, nil
	case opSha256:
		h := sha256.New()
		for _, a := range args {
			h.Write(a.Atom)
		}
		return Atom(h.Sum(nil)), nil
	case opConcat:
		var buf bytes.Buffer
		for _, a := range args {
			buf.Write(a.Atom)
		}
		return Atom(buf.Bytes()), nil
	case opNot:
		if len(args) != 1 {
			return Value{}, errors.New("clvm: not takes exactly 1 argument")
		}
		if args[0].IsNil() {
			return Int(1), nil
		}
		return Nil, nil
	case opAdd, opSub, opMul, opDiv, opGt:
		return arith(op, args)
	default:
		return Value{}, fmt.Errorf("clvm: unsupported opcode %d", op)
	}
}

func arith(op int64, args []Value) (Value, error) {
	ints := make([]int64, len(args))
	for i, a := range args {
		n, err := a.AsInt()
		if err != nil {
			return Value{}, err
		}
		ints[i] = n
	}
	switch op {
	case opAdd:
		var sum int64
		for _, n := range ints {
			sum += n
		}
		return Int(sum), nil
	case opSub:
		if len(ints) == 0 {
			return Int(0), nil
		}
		total := ints[0]
		for _, n := range ints[1:] {
			total -= n
		}
		if len(ints) == 1 {
			total = -ints[0]
		}
		return Int(total), nil
	case opMul:
		total := int64(1)
		for _, n := range ints {
			total *= n
		}
		return Int(total), nil
	case opDiv:
		if len(ints) != 2 || ints[1] == 0 {
			return Value{}, errors.New("clvm: / requires two operands with non-zero divisor")
		}
		return Int(ints[0] / ints[1]), nil
	case opGt:
		if len(ints) != 2 {
			return Value{}, errors.New("clvm: > requires exactly 2 arguments")
		}
		if ints[0] > ints[1] {
			return Int(1), nil
		}
		return Nil, nil
	}
	return Value{}, fmt.Errorf("clvm: unsupported arithmetic opcode %d", op)
}
