package derive

import (
	"context"
	"testing"
)

type fakeStore struct {
	highest  int64
	inserted []Derivation
}

func (f *fakeStore) DerivationIndex(ctx context.Context, hardened bool) (int64, error) {
	return f.highest, nil
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return fn(fakeTx{f})
}

type fakeTx struct{ f *fakeStore }

func (t fakeTx) InsertDerivation(ctx context.Context, d Derivation) error {
	t.f.inserted = append(t.f.inserted, d)
	if int64(d.Index) > t.f.highest {
		t.f.highest = int64(d.Index)
	}
	return nil
}

func TestEnsureGapExtendsWhenBelowTarget(t *testing.T) {
	st := &fakeStore{highest: 5}
	master := NewMasterKey(make([]byte, 32))

	if err := EnsureGap(context.Background(), st, master, false, 10, 1000); err != nil {
		t.Fatalf("EnsureGap: %v", err)
	}

	wantHighest := int64(10 + 1000)
	if st.highest != wantHighest {
		t.Fatalf("highest = %d, want %d", st.highest, wantHighest)
	}
	if len(st.inserted) != int(wantHighest-5) {
		t.Fatalf("inserted %d derivations, want %d", len(st.inserted), wantHighest-5)
	}
}

func TestEnsureGapNoOpWhenAlreadyAhead(t *testing.T) {
	st := &fakeStore{highest: 5000}
	master := NewMasterKey(make([]byte, 32))

	if err := EnsureGap(context.Background(), st, master, false, 10, 1000); err != nil {
		t.Fatalf("EnsureGap: %v", err)
	}
	if len(st.inserted) != 0 {
		t.Fatalf("inserted %d derivations, want 0", len(st.inserted))
	}
}

func TestEnsureGapEnforcesMinDurableGap(t *testing.T) {
	st := &fakeStore{highest: 0}
	master := NewMasterKey(make([]byte, 32))

	// Requesting a gap smaller than MinDurableGap should still extend to
	// activityIndex + MinDurableGap, not activityIndex + the small gap.
	if err := EnsureGap(context.Background(), st, master, false, 0, 1); err != nil {
		t.Fatalf("EnsureGap: %v", err)
	}
	if st.highest != int64(MinDurableGap) {
		t.Fatalf("highest = %d, want %d", st.highest, MinDurableGap)
	}
}

func TestGenerateBatchDerivationsAreDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 0x42
	master1 := NewMasterKey(seed)
	master2 := NewMasterKey(seed)

	st1 := &fakeStore{}
	st2 := &fakeStore{}
	if err := GenerateBatch(context.Background(), st1, master1, false, 0, 5); err != nil {
		t.Fatalf("GenerateBatch: %v", err)
	}
	if err := GenerateBatch(context.Background(), st2, master2, false, 0, 5); err != nil {
		t.Fatalf("GenerateBatch: %v", err)
	}

	for i := range st1.inserted {
		if st1.inserted[i].PuzzleHash != st2.inserted[i].PuzzleHash {
			t.Fatalf("derivation %d: puzzle hash mismatch between identical seeds", i)
		}
	}
}
