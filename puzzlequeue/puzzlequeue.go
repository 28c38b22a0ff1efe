// Package puzzlequeue implements the coin-state reconstruction pipeline:
// turning raw coin states into classified, lineage-proved rows by replaying
// each coin's parent puzzle in the CLVM driver.
//
// Classification tries the launcher fast path, then the fungible-token/NFT/
// DID/option templates in order, falling back to Unknown{hint}. Jobs fan out
// one per currently connected peer, bounding parallelism to the fleet size.
package puzzlequeue

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/clvm"
	"github.com/rawblock/lightwallet/eventbus"
	"github.com/rawblock/lightwallet/peer"
	"github.com/rawblock/lightwallet/store"
)

// LauncherPuzzleHash is the well-known tree hash of the singleton launcher
// puzzle: any coin created with this puzzle hash starts a new singleton
// lineage.
var LauncherPuzzleHash = mustHash32("dc491eef379bd8691a931c65ca9bde69ac95987f21bbe2f3033cc8efa6950dc5")

func mustHash32(hex string) chain.Hash {
	h, err := chain.HashFromHex(hex)
	if err != nil {
		panic("puzzlequeue: invalid launcher hash: " + err.Error())
	}
	return h
}

// mustHex decodes a literal puzzle template's hex encoding, panicking on a
// malformed constant (derive.mustHex, by contrast, maps a bad digit to 0
// without panicking).
func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("puzzlequeue: invalid puzzle template hex: " + err.Error())
	}
	return b
}

// PeerPool is the subset of sync.Manager the queue needs: enough peers to
// submit one job per peer, bounding parallelism to the fleet size.
type PeerPool interface {
	Peers() []PeerLike
}

// PeerLike is the subset of *peer.Peer operations classification needs.
type PeerLike interface {
	RequestCoinState(ctx context.Context, req peer.CoinStateRequest) (peer.CoinStateResponse, error)
	RequestPuzzleSolution(ctx context.Context, req peer.PuzzleSolutionRequest) (peer.PuzzleSolutionResponse, error)
	Addr() string
}

// GapFiller is the subset of the derivation engine the puzzle queue needs:
// extending the generated derivation gap once activity is observed at a
// given index. Optional — a nil GapFiller just skips the extension, which
// only costs future address reuse risk, not correctness.
type GapFiller interface {
	EnsureGap(ctx context.Context, hardened bool, activityIndex uint32) error
}

// Queue drives the reconstruction pipeline against a fixed batch size
// equal to however many peers are currently available.
type Queue struct {
	store *store.Store
	pool  PeerPool
	bus   *eventbus.Bus
	gap   GapFiller

	requestTimeout time.Duration
}

// New returns a Queue reading unsynced coin states from st and fanning
// classification jobs out across pool's peers.
func New(st *store.Store, pool PeerPool, bus *eventbus.Bus) *Queue {
	return &Queue{store: st, pool: pool, bus: bus, requestTimeout: 10 * time.Second}
}

// WithGapFiller attaches the derivation engine's gap extension, returning q
// for chaining at construction time.
func (q *Queue) WithGapFiller(gap GapFiller) *Queue {
	q.gap = gap
	return q
}

// RunOnce drains one batch of unsynced coin states, one job per connected
// peer, and reports how many were classified.
func (q *Queue) RunOnce(ctx context.Context) (int, error) {
	peers := q.pool.Peers()
	if len(peers) == 0 {
		return 0, nil
	}

	rows, err := q.store.UnsyncedCoinStates(ctx, len(peers))
	if err != nil {
		return 0, fmt.Errorf("puzzlequeue: read unsynced coin states: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for i, row := range rows {
		p := peers[i%len(peers)]
		wg.Add(1)
		go func(row store.CoinState, p PeerLike) {
			defer wg.Done()
			if err := q.classify(ctx, p, row); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				log.Printf("puzzlequeue: classify %s via %s: %v", row.Coin.ID(), p.Addr(), err)
			}
		}(row, p)
	}
	wg.Wait()

	if q.bus != nil {
		q.bus.Publish(eventbus.Event{Kind: eventbus.PuzzleBatchSynced, Payload: eventbus.PuzzleBatchSyncedPayload{Count: len(rows)}})
	}
	return len(rows), firstErr
}

// classify runs the full per-coin classification algorithm, a through f:
// launcher fast path, parent fetch, height check, reveal fetch, template
// matching, and row write.
func (q *Queue) classify(ctx context.Context, p PeerLike, cs store.CoinState) error {
	coinID := cs.Coin.ID()
	cctx, cancel := context.WithTimeout(ctx, q.requestTimeout)
	defer cancel()

	// a. launcher fast path
	if cs.Coin.PuzzleHash == LauncherPuzzleHash {
		return q.writeRow(ctx, cs, classification{kind: store.KindLauncher})
	}

	// b. fetch parent state
	parentResp, err := p.RequestCoinState(cctx, peer.CoinStateRequest{CoinIDs: []chain.Hash{cs.Coin.ParentCoinID}})
	if err != nil {
		return fmt.Errorf("fetch parent state: %w", err)
	}
	if len(parentResp.CoinStates) == 0 {
		return q.writeRow(ctx, cs, classification{kind: store.KindOrphaned})
	}
	parent := parentResp.CoinStates[0]

	// c. require creation height
	if cs.CreatedHeight == nil {
		return fmt.Errorf("coin %s has no created_height yet", coinID)
	}
	if parent.SpentHeight == nil {
		return fmt.Errorf("parent %s not yet spent", cs.Coin.ParentCoinID)
	}

	// d. fetch puzzle and solution
	solResp, err := p.RequestPuzzleSolution(cctx, peer.PuzzleSolutionRequest{
		CoinID: cs.Coin.ParentCoinID,
		Height: *parent.SpentHeight,
	})
	if err != nil {
		return fmt.Errorf("fetch puzzle and solution: %w", err)
	}

	result, err := q.runClassification(cctx, p, cs, parent, solResp)
	if err != nil {
		log.Printf("puzzlequeue: vm execution failed for %s, marking unknown: %v", coinID, err)
		return q.writeRow(ctx, cs, classification{kind: store.KindUnknown})
	}
	return q.writeRow(ctx, cs, result)
}

// lineageFor builds a child coin's lineage proof from its fetched parent
// state: every field describes the parent, one step back up the singleton
// chain. A parent sitting at the launcher puzzle hash makes the child an
// eve coin.
func lineageFor(parent peer.RemoteCoinState) chain.LineageProof {
	return chain.LineageProof{
		ParentParentCoinID:    parent.ParentCoinID,
		ParentInnerPuzzleHash: parent.PuzzleHash,
		ParentAmount:          parent.Amount,
		IsEve:                 parent.PuzzleHash == LauncherPuzzleHash,
	}
}

type classification struct {
	kind      store.ChildKind
	hint      *chain.Hash
	asset     *store.Asset
	singleton *store.SingletonCoin
}

// runClassification replays the parent puzzle against its solution and
// matches create-coin conditions against the templates in order:
// fungible-token, NFT, DID, option, falling back to Unknown.
func (q *Queue) runClassification(ctx context.Context, p PeerLike, cs store.CoinState, parent peer.RemoteCoinState, sol peer.PuzzleSolutionResponse) (classification, error) {
	puzzle, err := clvm.Deserialize(sol.PuzzleReveal)
	if err != nil {
		return classification{}, fmt.Errorf("deserialize puzzle reveal: %w", err)
	}
	solution, err := clvm.Deserialize(sol.Solution)
	if err != nil {
		return classification{}, fmt.Errorf("deserialize solution: %w", err)
	}
	output, err := clvm.Run(puzzle, solution)
	if err != nil {
		return classification{}, fmt.Errorf("run puzzle: %w", err)
	}
	conditions, err := clvm.ParseConditions(output)
	if err != nil {
		return classification{}, fmt.Errorf("parse conditions: %w", err)
	}

	var hint *chain.Hash
	matched := false
	for _, cc := range conditions.CreateCoins {
		if cc.PuzzleHash == cs.Coin.PuzzleHash && cc.Amount == cs.Coin.Amount {
			matched = true
		}
	}
	if h, ok := conditions.Hint(cs.Coin.PuzzleHash, cs.Coin.Amount); ok {
		hint = &h
	}
	if !matched {
		return classification{kind: store.KindUnknown, hint: hint}, nil
	}

	uncurried, args, ok := clvm.Uncurry(puzzle)
	if !ok {
		return classification{kind: store.KindUnknown, hint: hint}, nil
	}
	treeHash := clvm.TreeHash(uncurried)

	lineage := lineageFor(parent)

	if result, ok := q.tryTokenTemplate(cs, treeHash, args, lineage, hint); ok {
		return result, nil
	}
	if result, ok := q.tryNftTemplate(cs, treeHash, args, lineage, hint); ok {
		return result, nil
	}
	if result, ok := q.tryDidTemplate(cs, treeHash, args, lineage, hint); ok {
		return result, nil
	}
	if result, ok := q.tryOptionTemplate(ctx, p, cs, treeHash, args, lineage, hint); ok {
		return result, nil
	}
	return classification{kind: store.KindUnknown, hint: hint}, nil
}

// writeRow commits the classification in a single transaction: upsert the
// classified row, the asset row if structured, derivation linkage, and mark
// the coin state processed. The derivation lookup runs before the
// transaction opens — derivations only ever grow, and the store's single
// write connection must not be re-entered while a transaction holds it.
func (q *Queue) writeRow(ctx context.Context, cs store.CoinState, result classification) error {
	coinID := cs.Coin.ID()

	candidates := []chain.Hash{cs.Coin.PuzzleHash}
	if result.singleton != nil {
		candidates = append(candidates, result.singleton.P2PuzzleHash)
	}
	if result.hint != nil {
		candidates = append(candidates, *result.hint)
	}
	owned := false
	var linked *store.Derivation
	for _, ph := range candidates {
		d, err := q.store.DerivationByPuzzleHash(ctx, ph)
		if err != nil {
			return fmt.Errorf("derivation lookup %s: %w", ph, err)
		}
		if d != nil {
			owned = true
			linked = d
			break
		}
	}

	err := q.store.WithTx(ctx, func(t *store.Tx) error {
		if result.singleton != nil {
			if err := t.UpsertSingletonCoin(ctx, *result.singleton); err != nil {
				return err
			}
		}
		if result.asset != nil {
			if err := t.UpsertAsset(ctx, *result.asset); err != nil {
				return err
			}
		}

		var assetHash *chain.Hash
		switch {
		case result.asset != nil:
			h := result.asset.Hash
			assetHash = &h
		case result.singleton != nil:
			h := result.singleton.LauncherID
			assetHash = &h
		}

		return t.MarkProcessed(ctx, coinID, result.kind, assetHash, result.hint, owned)
	})
	if err != nil {
		return err
	}

	if linked != nil && q.gap != nil {
		if err := q.gap.EnsureGap(ctx, linked.Hardened, linked.Index); err != nil {
			log.Printf("puzzlequeue: ensure gap for derivation %d/%v: %v", linked.Index, linked.Hardened, err)
		}
	}
	return nil
}
