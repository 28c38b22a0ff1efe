package clvm

import (
	"bytes"
	"testing"

	"github.com/rawblock/lightwallet/chain"
)

func mustInt(t *testing.T, v Value) int64 {
	t.Helper()
	n, err := v.AsInt()
	if err != nil {
		t.Fatalf("AsInt: %v", err)
	}
	return n
}

func TestPathLookup(t *testing.T) {
	env := List(Atom([]byte("a")), Atom([]byte("b")), Atom([]byte("c")))

	cases := []struct {
		path int64
		want string
	}{
		{1, ""}, // whole environment, checked separately below
		{2, "a"},
		{5, "b"},
		{11, "c"},
	}
	for _, tc := range cases[1:] {
		got, err := Run(Int(tc.path), env)
		if err != nil {
			t.Fatalf("path %d: %v", tc.path, err)
		}
		if string(got.Atom) != tc.want {
			t.Errorf("path %d: got %q, want %q", tc.path, got.Atom, tc.want)
		}
	}

	whole, err := Run(Int(1), env)
	if err != nil {
		t.Fatalf("path 1: %v", err)
	}
	if TreeHash(whole) != TreeHash(env) {
		t.Error("path 1 did not return the whole environment")
	}
}

func TestQuoteReturnsOperandVerbatim(t *testing.T) {
	quoted := Cons(Int(1), List(Int(5), Int(6)))
	got, err := Run(quoted, Nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if TreeHash(got) != TreeHash(List(Int(5), Int(6))) {
		t.Errorf("quote evaluated its operand: got %v", got)
	}
}

func TestArithmeticOverEnvironment(t *testing.T) {
	// (+ 2 5) with environment (3 4): paths 2 and 5 are the first and
	// second elements.
	program := List(Int(16), Int(2), Int(5))
	got, err := Run(program, List(Int(3), Int(4)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := mustInt(t, got); n != 7 {
		t.Errorf("got %d, want 7", n)
	}
}

func TestIfDoesNotEvaluateUntakenBranch(t *testing.T) {
	// (i (q . 1) (q . 42) (x)): the raise in the else branch must never run.
	program := List(Int(3), Cons(Int(1), Int(1)), Cons(Int(1), Int(42)), List(Int(8)))
	got, err := Run(program, Nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := mustInt(t, got); n != 42 {
		t.Errorf("got %d, want 42", n)
	}
}

func TestCurryRoundTrip(t *testing.T) {
	mod := List(Int(16), Int(2), Int(5))
	curried := Curry(mod, Int(10))

	puzzle, args, ok := Uncurry(curried)
	if !ok {
		t.Fatal("Uncurry rejected a Curry-produced program")
	}
	if TreeHash(puzzle) != TreeHash(mod) {
		t.Error("uncurried puzzle differs from the original mod")
	}
	if len(args) != 1 || mustInt(t, args[0]) != 10 {
		t.Fatalf("uncurried args = %v, want [10]", args)
	}

	// Running the curried program prepends the curried argument to the
	// solution's environment: 10 + 32.
	got, err := Run(curried, List(Int(32)))
	if err != nil {
		t.Fatalf("Run curried: %v", err)
	}
	if n := mustInt(t, got); n != 42 {
		t.Errorf("got %d, want 42", n)
	}
}

func TestUncurryRejectsNonCurried(t *testing.T) {
	for _, v := range []Value{Int(7), List(Int(16), Int(2), Int(5)), Nil} {
		if _, _, ok := Uncurry(v); ok {
			t.Errorf("Uncurry accepted %v", v)
		}
	}
}

func TestCurryTreeHashMatchesTreeHashOfCurry(t *testing.T) {
	mod := List(Int(16), Int(2), Int(5))
	args := []Value{Int(10), Atom(bytes.Repeat([]byte{0xab}, 32))}

	want := TreeHash(Curry(mod, args...))
	got := CurryTreeHash(TreeHash(mod), args...)
	if got != want {
		t.Errorf("CurryTreeHash = %s, want %s", got, want)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	values := []Value{
		Nil,
		Int(1),
		Int(-1),
		Atom([]byte{0x7f}),
		Atom(bytes.Repeat([]byte{0x55}, 32)),
		Atom(bytes.Repeat([]byte{0x55}, 300)),
		List(Int(51), Atom(bytes.Repeat([]byte{1}, 32)), Int(1000)),
		Cons(Int(1), Int(2)),
	}
	for _, v := range values {
		back, err := Deserialize(Serialize(v))
		if err != nil {
			t.Fatalf("Deserialize(%v): %v", v, err)
		}
		if TreeHash(back) != TreeHash(v) {
			t.Errorf("round trip changed %v into %v", v, back)
		}
	}
}

func TestRunCostBound(t *testing.T) {
	// (a 1 1) applied to itself loops forever without the cost ceiling.
	loop := List(Int(2), Int(1), Int(1))
	if _, err := Run(loop, loop); err == nil {
		t.Fatal("expected cost-exceeded error")
	}
}

func TestParseConditions(t *testing.T) {
	recipient := chain.Sha256([]byte("recipient"))
	hint := chain.Sha256([]byte("hint"))
	pk := bytes.Repeat([]byte{0x0c}, 48)

	conditions := List(
		List(Int(OpCreateCoin), Atom(recipient[:]), Int(1000), List(Atom(hint[:]))),
		List(Int(OpReserveFee), Int(25)),
		List(Int(OpAggSigMe), Atom(pk), Atom([]byte("msg"))),
		List(Int(99), Atom([]byte("unknown, carried in Raw"))),
	)

	parsed, err := ParseConditions(conditions)
	if err != nil {
		t.Fatalf("ParseConditions: %v", err)
	}
	if len(parsed.CreateCoins) != 1 {
		t.Fatalf("CreateCoins = %d, want 1", len(parsed.CreateCoins))
	}
	cc := parsed.CreateCoins[0]
	if cc.PuzzleHash != recipient || cc.Amount != 1000 {
		t.Errorf("create coin = %+v", cc)
	}
	if parsed.ReserveFee != 25 {
		t.Errorf("ReserveFee = %d, want 25", parsed.ReserveFee)
	}
	if len(parsed.AggSigs) != 1 || string(parsed.AggSigs[0].Message) != "msg" {
		t.Errorf("AggSigs = %+v", parsed.AggSigs)
	}
	if len(parsed.Raw) != 4 {
		t.Errorf("Raw = %d conditions, want 4", len(parsed.Raw))
	}

	got, ok := parsed.Hint(recipient, 1000)
	if !ok || got != hint {
		t.Errorf("Hint = %s, %v; want %s", got, ok, hint)
	}
	if _, ok := parsed.Hint(recipient, 999); ok {
		t.Error("Hint matched the wrong amount")
	}
}
