package puzzlequeue

import (
	"context"
	"testing"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/clvm"
	"github.com/rawblock/lightwallet/peer"
	"github.com/rawblock/lightwallet/store"
)

func TestParseLauncherSolutionRoundTrip(t *testing.T) {
	fullPuzzleHash := chain.Sha256([]byte("full-puzzle"))
	underlyingParent := chain.Sha256([]byte("underlying-parent"))
	underlyingCoin := chain.Sha256([]byte("underlying-coin"))
	strike := clvm.Atom([]byte("strike-terms"))

	value := clvm.List(
		clvm.Atom(fullPuzzleHash[:]),
		clvm.Int(1),
		clvm.Cons(clvm.Atom(underlyingParent[:]), clvm.Cons(clvm.Atom(underlyingCoin[:]), strike)),
	)

	sol, err := parseLauncherSolution(value)
	if err != nil {
		t.Fatalf("parseLauncherSolution: %v", err)
	}
	if sol.UnderlyingParentID != underlyingParent {
		t.Errorf("UnderlyingParentID = %s, want %s", sol.UnderlyingParentID, underlyingParent)
	}
	if sol.UnderlyingCoinID != underlyingCoin {
		t.Errorf("UnderlyingCoinID = %s, want %s", sol.UnderlyingCoinID, underlyingCoin)
	}
	if sol.SingletonFullPuzzleHash != fullPuzzleHash {
		t.Errorf("SingletonFullPuzzleHash = %s, want %s", sol.SingletonFullPuzzleHash, fullPuzzleHash)
	}
}

func TestParseLauncherSolutionRejectsShortList(t *testing.T) {
	if _, err := parseLauncherSolution(clvm.List(clvm.Int(1))); err == nil {
		t.Fatal("expected error for a too-short launcher solution")
	}
}

func TestLineageForSecondGenerationUsesParentFields(t *testing.T) {
	// A second-generation singleton coin's parent is an ordinary layer coin,
	// not the launcher: the proof must describe that parent — its own parent
	// id, its own puzzle hash, its own amount — never the child's.
	grandparentID := chain.Sha256([]byte("grandparent"))
	parentPuzzleHash := chain.Sha256([]byte("parent-layer-puzzle"))
	parent := peer.RemoteCoinState{
		ParentCoinID: grandparentID,
		PuzzleHash:   parentPuzzleHash,
		Amount:       1,
	}

	proof := lineageFor(parent)
	if proof.ParentParentCoinID != grandparentID {
		t.Errorf("ParentParentCoinID = %s, want %s", proof.ParentParentCoinID, grandparentID)
	}
	if proof.ParentInnerPuzzleHash != parentPuzzleHash {
		t.Errorf("ParentInnerPuzzleHash = %s, want the parent's puzzle hash %s", proof.ParentInnerPuzzleHash, parentPuzzleHash)
	}
	if proof.ParentAmount != 1 {
		t.Errorf("ParentAmount = %d, want 1", proof.ParentAmount)
	}
	if proof.IsEve {
		t.Error("second-generation coin marked eve")
	}
}

func TestLineageForEveWhenParentIsLauncher(t *testing.T) {
	parent := peer.RemoteCoinState{
		ParentCoinID: chain.Sha256([]byte("funding")),
		PuzzleHash:   LauncherPuzzleHash,
		Amount:       1,
	}
	if !lineageFor(parent).IsEve {
		t.Error("child of a launcher coin not marked eve")
	}
}

func TestClassifyUnderlyingCreateCoin(t *testing.T) {
	odd := clvm.CreateCoinCondition{Amount: 1001}
	if got := classifyUnderlyingCreateCoin(odd); got != store.KindNft {
		t.Errorf("odd amount classified as %s, want nft", got)
	}
	even := clvm.CreateCoinCondition{Amount: 1000}
	if got := classifyUnderlyingCreateCoin(even); got != store.KindToken {
		t.Errorf("even amount classified as %s, want token", got)
	}
}

// fakeOptionPeer implements PeerLike against a fixed script of coin states
// and puzzle/solution pairs, keyed by coin id, for exercising fetchOption
// without a live connection.
type fakeOptionPeer struct {
	states    map[chain.Hash]peer.RemoteCoinState
	solutions map[chain.Hash]peer.PuzzleSolutionResponse
}

func (f *fakeOptionPeer) RequestCoinState(_ context.Context, req peer.CoinStateRequest) (peer.CoinStateResponse, error) {
	var out peer.CoinStateResponse
	for _, id := range req.CoinIDs {
		if cs, ok := f.states[id]; ok {
			out.CoinStates = append(out.CoinStates, cs)
		}
	}
	return out, nil
}

func (f *fakeOptionPeer) RequestPuzzleSolution(_ context.Context, req peer.PuzzleSolutionRequest) (peer.PuzzleSolutionResponse, error) {
	if sol, ok := f.solutions[req.CoinID]; ok {
		return sol, nil
	}
	return peer.PuzzleSolutionResponse{}, nil
}

func (f *fakeOptionPeer) Addr() string { return "fake" }

// identityPuzzle is the path atom "1": evaluating it against any solution
// returns that solution unchanged (CLVM's whole-environment path), enough
// to exercise fetchOption's replay steps without a real curried reveal.
func identityPuzzle() clvm.Value {
	return clvm.Int(1)
}

func TestFetchOptionResolvesUnderlying(t *testing.T) {
	launcherID := chain.Sha256([]byte("launcher"))
	launcherParentID := chain.Sha256([]byte("launcher-parent"))
	underlyingParentID := chain.Sha256([]byte("underlying-parent"))
	underlyingCoinID := chain.Sha256([]byte("underlying-coin"))

	height := uint32(100)

	launcherSolutionValue := clvm.List(
		clvm.Atom(launcherID[:]),
		clvm.Int(1),
		clvm.Cons(clvm.Atom(underlyingParentID[:]), clvm.Cons(clvm.Atom(underlyingCoinID[:]), clvm.Atom([]byte("strike")))),
	)

	conditionsProgram := clvm.List(
		clvm.List(clvm.Int(51), clvm.Atom(launcherID[:]), clvm.Int(1), clvm.List(clvm.Atom([]byte("hint-bytes-000000000000000000000")))),
	)

	f := &fakeOptionPeer{
		states: map[chain.Hash]peer.RemoteCoinState{
			launcherID:         {ParentCoinID: launcherParentID, SpentHeight: &height},
			launcherParentID:   {SpentHeight: &height},
			underlyingParentID: {SpentHeight: &height},
		},
		solutions: map[chain.Hash]peer.PuzzleSolutionResponse{
			launcherID: {
				PuzzleReveal: clvm.Serialize(identityPuzzle()),
				Solution:     clvm.Serialize(launcherSolutionValue),
			},
			launcherParentID: {
				PuzzleReveal: clvm.Serialize(identityPuzzle()),
				Solution:     clvm.Serialize(conditionsProgram),
			},
			underlyingParentID: {
				PuzzleReveal: clvm.Serialize(identityPuzzle()),
				Solution: clvm.Serialize(clvm.List(
					clvm.List(clvm.Int(51), clvm.Atom(underlyingCoinID[:]), clvm.Int(1000)),
				)),
			},
		},
	}

	q := &Queue{requestTimeout: 0}
	optCtx, err := q.fetchOption(context.Background(), f, launcherID)
	if err != nil {
		t.Fatalf("fetchOption: %v", err)
	}
	if optCtx.underlyingParent != underlyingParentID {
		t.Errorf("underlyingParent = %s, want %s", optCtx.underlyingParent, underlyingParentID)
	}
	if optCtx.underlyingCoin != underlyingCoinID {
		t.Errorf("underlyingCoin = %s, want %s", optCtx.underlyingCoin, underlyingCoinID)
	}
	if optCtx.underlyingKind != store.KindToken {
		t.Errorf("underlyingKind = %s, want token", optCtx.underlyingKind)
	}
}
