package clvm

// quote wraps v in the canonical CLVM quote form (q . v).
func quote(v Value) Value { return Cons(Int(opQuote), v) }

// Curry wraps a puzzle with a fixed set of arguments, producing the
// program CLVM conventionally generates for `(a (q . puzzle) (c (q . arg1)
// (c (q . arg2) ... 1)))` — applying the puzzle to an environment built
// from the curried arguments followed by the solution's own arguments.
// This is how every singleton and token layer puzzle (TokenLayer(asset_hash,
// inner_puzzle), Nft(info, inner), ...) is actually constructed on-chain.
func Curry(puzzle Value, args ...Value) Value {
	env := Int(1)
	for i := len(args) - 1; i >= 0; i-- {
		env = List(Int(opCons), quote(args[i]), env)
	}
	return List(Int(opApply), quote(puzzle), env)
}

// unquote undoes quote, returning ok=false for a value not shaped (q . x).
func unquote(v Value) (Value, bool) {
	if v.Pair == nil {
		return Value{}, false
	}
	if q, err := v.Pair.First.AsInt(); err != nil || q != opQuote {
		return Value{}, false
	}
	return v.Pair.Rest, true
}

// Uncurry is the inverse of Curry: given a program built by Curry, it
// returns the wrapped puzzle and the list of curried arguments. It returns
// ok=false for any program not shaped like a curry application, which the
// puzzle-queue templates use to reject non-matching parent puzzles quickly
// without needing to execute them.
func Uncurry(program Value) (puzzle Value, args []Value, ok bool) {
	if program.IsAtom() {
		return Value{}, nil, false
	}
	parts, err := program.AsList()
	if err != nil || len(parts) != 3 {
		return Value{}, nil, false
	}
	op, err := parts[0].AsInt()
	if err != nil || op != opApply {
		return Value{}, nil, false
	}
	puzzle, ok = unquote(parts[1])
	if !ok {
		return Value{}, nil, false
	}

	env := parts[2]
	for {
		envParts, err := env.AsList()
		if err != nil || len(envParts) != 3 {
			break
		}
		op, err := envParts[0].AsInt()
		if err != nil || op != opCons {
			break
		}
		arg, ok := unquote(envParts[1])
		if !ok {
			break
		}
		args = append(args, arg)
		env = envParts[2]
	}
	return puzzle, args, true
}
