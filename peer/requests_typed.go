package peer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
)

// The request bodies below are JSON-encoded rather than using this chain's
// native CLVM/streamable wire format: what matters here is the framing and
// multiplexing layer, and JSON keeps request/response payloads inspectable
// without reimplementing the full node wire protocol's handshake and
// certificate pinning, which is out of scope for a wallet that trusts its
// connected peers rather than running full consensus.

// CoinStateRequest asks for every coin_state touching the given puzzle
// hashes or coin ids, optionally only those created or spent after a
// height.
type CoinStateRequest struct {
	CoinIDs      []chain.Hash `json:"coin_ids,omitempty"`
	PuzzleHashes []chain.Hash `json:"puzzle_hashes,omitempty"`
	MinHeight    *uint32      `json:"min_height,omitempty"`
}

// CoinStateResponse is a batch of coin states as seen by the peer.
type CoinStateResponse struct {
	CoinStates []RemoteCoinState `json:"coin_states"`
}

// RemoteCoinState is the wire shape of one coin's lifecycle as reported by
// a peer: not this wallet's persisted CoinState row, just what's on chain.
type RemoteCoinState struct {
	ParentCoinID  chain.Hash `json:"parent_coin_id"`
	PuzzleHash    chain.Hash `json:"puzzle_hash"`
	Amount        uint64     `json:"amount"`
	CreatedHeight *uint32    `json:"created_height,omitempty"`
	SpentHeight   *uint32    `json:"spent_height,omitempty"`
}

// PuzzleStateRequest subscribes to every coin touching the given puzzle
// hashes, optionally resuming from a previous fork point: PreviousHeight and
// PreviousHeaderHash let the peer detect that its chain has reorged past
// what this wallet last saw and reject the request with RejectReasonReorg
// instead of silently answering from the wrong fork.
type PuzzleStateRequest struct {
	PuzzleHashes       []chain.Hash `json:"puzzle_hashes"`
	PreviousHeight     *uint32      `json:"previous_height,omitempty"`
	PreviousHeaderHash *chain.Hash  `json:"previous_header_hash,omitempty"`
	MinHeight          *uint32      `json:"min_height,omitempty"`
}

// PuzzleStateResponse is a batch of coin states for a puzzle-state
// subscription, mirroring CoinStateResponse's shape.
type PuzzleStateResponse struct {
	CoinStates []RemoteCoinState `json:"coin_states"`
}

// RejectReason is why a peer declined a subscription request instead of
// answering it.
type RejectReason string

const (
	// RejectReasonReorg means the peer's chain has reorged behind the
	// PreviousHeight/PreviousHeaderHash the request was anchored to; the
	// caller must rewind its baseline and retry.
	RejectReasonReorg RejectReason = "reorg"
	// RejectReasonSubscriptionLimit means the peer has hit its maximum
	// number of subscribed puzzle hashes or coin ids for this connection;
	// the caller should retry against a different peer.
	RejectReasonSubscriptionLimit RejectReason = "subscription_limit"
	// RejectReasonUnknown covers a rejection whose reason didn't decode,
	// or wasn't sent, by a peer.
	RejectReasonUnknown RejectReason = "unknown"
)

// RejectResponse carries the reason a RequestPuzzleState/RequestCoinState
// call was rejected.
type RejectResponse struct {
	Reason RejectReason `json:"reason"`
}

// PuzzleSolutionRequest asks for the reveal and solution of one coin's
// spend.
type PuzzleSolutionRequest struct {
	CoinID chain.Hash `json:"coin_id"`
	Height uint32     `json:"height"`
}

// PuzzleSolutionResponse carries the puzzle reveal and solution bytes.
type PuzzleSolutionResponse struct {
	PuzzleReveal []byte `json:"puzzle_reveal"`
	Solution     []byte `json:"solution"`
}

// ChildrenRequest asks for the direct children of a coin.
type ChildrenRequest struct {
	CoinID chain.Hash `json:"coin_id"`
}

// ChildrenResponse lists the requested coin's children.
type ChildrenResponse struct {
	Coins []RemoteCoinState `json:"coins"`
}

// BlockHeaderRequest asks for one block's header and timestamp.
type BlockHeaderRequest struct {
	Height uint32 `json:"height"`
}

// BlockHeaderResponse carries a block's identifying hash and timestamp.
type BlockHeaderResponse struct {
	HeaderHash chain.Hash `json:"header_hash"`
	Timestamp  int64      `json:"timestamp"`
}

// PeersRequest asks a peer to share others it knows about.
type PeersRequest struct{}

// PeersResponse lists peer addresses for the discovery/exchange loop.
type PeersResponse struct {
	Addresses []string `json:"addresses"`
}

// HandshakeRequest identifies this wallet to a freshly dialed peer: the
// network it expects to talk to and the protocol version it speaks, so a
// peer on the wrong chain or an incompatible version is rejected before any
// other request is sent.
type HandshakeRequest struct {
	NetworkID       string `json:"network_id"`
	ProtocolVersion uint16 `json:"protocol_version"`
	SoftwareVersion string `json:"software_version"`
}

// HandshakeResponse carries the peer's claimed chain tip at connect time,
// the only state sync.Manager needs before ranking peers by how caught up
// they are.
type HandshakeResponse struct {
	NetworkID  string     `json:"network_id"`
	PeakHeight uint32     `json:"peak_height"`
	PeakHash   chain.Hash `json:"peak_hash"`
}

// SendTransactionRequest broadcasts a spend bundle to the mempool.
type SendTransactionRequest struct {
	Spends              []chain.CoinSpend `json:"spends"`
	AggregatedSignature chain.Signature   `json:"aggregated_signature"`
}

// TransactionAck reports how the peer's mempool handled a submission.
type TransactionAck struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("peer: marshal request body: %v", err))
	}
	return b
}

// Handshake performs the initial protocol handshake that must precede
// every other request on a freshly connected peer, rejecting a peer whose
// claimed network id doesn't match expectedNetworkID.
func (p *Peer) Handshake(ctx context.Context, expectedNetworkID string, protocolVersion uint16) (HandshakeResponse, error) {
	reply, err := p.Request(ctx, TypeHandshake, encode(HandshakeRequest{
		NetworkID: expectedNetworkID, ProtocolVersion: protocolVersion, SoftwareVersion: "lightwallet",
	}))
	if err != nil {
		return HandshakeResponse{}, err
	}
	var resp HandshakeResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return HandshakeResponse{}, fmt.Errorf("peer: decode handshake response: %w", err)
	}
	if resp.NetworkID != expectedNetworkID {
		return HandshakeResponse{}, fmt.Errorf("peer: network id mismatch: got %q, want %q", resp.NetworkID, expectedNetworkID)
	}
	return resp, nil
}

// RequestCoinState fetches coin states matching req.
func (p *Peer) RequestCoinState(ctx context.Context, req CoinStateRequest) (CoinStateResponse, error) {
	reply, err := p.Request(ctx, TypeRequestCoinState, encode(req))
	if err != nil {
		return CoinStateResponse{}, err
	}
	if reply.Type == TypeRejectCoinState {
		return CoinStateResponse{}, fmt.Errorf("peer: coin state request rejected")
	}
	var resp CoinStateResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return CoinStateResponse{}, fmt.Errorf("peer: decode coin state response: %w", err)
	}
	return resp, nil
}

// RequestPuzzleState subscribes this connection to every puzzle hash in
// req, returning the peer's current coin states for them. A non-empty
// RejectReason means the peer declined the request outright (reorg past the
// request's baseline, or too many active subscriptions) and the response
// body is empty; the caller decides how to retry.
func (p *Peer) RequestPuzzleState(ctx context.Context, req PuzzleStateRequest) (PuzzleStateResponse, RejectReason, error) {
	reply, err := p.Request(ctx, TypeRequestPuzzleState, encode(req))
	if err != nil {
		return PuzzleStateResponse{}, "", err
	}
	if reply.Type == TypeRejectPuzzleState {
		var rej RejectResponse
		if err := json.Unmarshal(reply.Data, &rej); err != nil || rej.Reason == "" {
			return PuzzleStateResponse{}, RejectReasonUnknown, nil
		}
		return PuzzleStateResponse{}, rej.Reason, nil
	}
	var resp PuzzleStateResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return PuzzleStateResponse{}, "", fmt.Errorf("peer: decode puzzle state response: %w", err)
	}
	return resp, "", nil
}

// RequestPuzzleSolution fetches one coin's reveal and solution.
func (p *Peer) RequestPuzzleSolution(ctx context.Context, req PuzzleSolutionRequest) (PuzzleSolutionResponse, error) {
	reply, err := p.Request(ctx, TypeRequestPuzzleSolution, encode(req))
	if err != nil {
		return PuzzleSolutionResponse{}, err
	}
	if reply.Type == TypeRejectPuzzleSolution {
		return PuzzleSolutionResponse{}, fmt.Errorf("peer: puzzle solution request rejected")
	}
	var resp PuzzleSolutionResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return PuzzleSolutionResponse{}, fmt.Errorf("peer: decode puzzle solution response: %w", err)
	}
	return resp, nil
}

// RequestChildren fetches a coin's direct children.
func (p *Peer) RequestChildren(ctx context.Context, coinID chain.Hash) (ChildrenResponse, error) {
	reply, err := p.Request(ctx, TypeRequestChildren, encode(ChildrenRequest{CoinID: coinID}))
	if err != nil {
		return ChildrenResponse{}, err
	}
	var resp ChildrenResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return ChildrenResponse{}, fmt.Errorf("peer: decode children response: %w", err)
	}
	return resp, nil
}

// RequestBlockHeader fetches one block's header.
func (p *Peer) RequestBlockHeader(ctx context.Context, height uint32) (BlockHeaderResponse, error) {
	reply, err := p.Request(ctx, TypeRequestBlockHeader, encode(BlockHeaderRequest{Height: height}))
	if err != nil {
		return BlockHeaderResponse{}, err
	}
	var resp BlockHeaderResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return BlockHeaderResponse{}, fmt.Errorf("peer: decode block header response: %w", err)
	}
	return resp, nil
}

// RequestPeers asks this peer to share others it knows.
func (p *Peer) RequestPeers(ctx context.Context) (PeersResponse, error) {
	reply, err := p.Request(ctx, TypeRequestPeers, encode(PeersRequest{}))
	if err != nil {
		return PeersResponse{}, err
	}
	var resp PeersResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return PeersResponse{}, fmt.Errorf("peer: decode peers response: %w", err)
	}
	return resp, nil
}

// SendTransaction broadcasts a bundle and waits for this peer's mempool ack.
func (p *Peer) SendTransaction(ctx context.Context, bundle chain.SpendBundle) (TransactionAck, error) {
	req := SendTransactionRequest{Spends: bundle.CoinSpends, AggregatedSignature: bundle.AggregatedSignature}
	reply, err := p.Request(ctx, TypeSendTransaction, encode(req))
	if err != nil {
		return TransactionAck{}, err
	}
	var ack TransactionAck
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return TransactionAck{}, fmt.Errorf("peer: decode transaction ack: %w", err)
	}
	return ack, nil
}

// RemoveCoinSubscriptions tells the peer to stop pushing updates for the
// given coin ids, bounded by ctx.
func (p *Peer) RemoveCoinSubscriptions(ctx context.Context, coinIDs []chain.Hash) error {
	return p.SendContext(ctx, TypeRemoveCoinSubs, encode(struct {
		CoinIDs []chain.Hash `json:"coin_ids"`
	}{coinIDs}))
}

// RemovePuzzleSubscriptions tells the peer to stop pushing updates for the
// given puzzle hashes, bounded by ctx.
func (p *Peer) RemovePuzzleSubscriptions(ctx context.Context, puzzleHashes []chain.Hash) error {
	return p.SendContext(ctx, TypeRemovePuzzleSubs, encode(struct {
		PuzzleHashes []chain.Hash `json:"puzzle_hashes"`
	}{puzzleHashes}))
}
