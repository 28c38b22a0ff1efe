// Package peer implements the wallet's connection to a single full node:
// a length-prefixed framed TLS stream carrying typed request/response
// messages, multiplexed over one connection so many in-flight requests can
// share it.
//
// One outbound sink guarded by a mutex, one background reader goroutine
// dispatching inbound frames either to a waiting request or to a broadcast
// event channel, and a close-triggered goroutine teardown, using net/tls
// framing since a raw framed TCP/TLS stream is the idiomatic Go shape for
// this chain's handshake.
package peer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageType is this protocol's one-byte operation code.
type MessageType uint8

const (
	TypeHandshake              MessageType = 1
	TypeHandshakeAck           MessageType = 2
	TypeNewPeakWallet          MessageType = 3
	TypeRequestCoinState       MessageType = 4
	TypeRespondCoinState       MessageType = 5
	TypeRejectCoinState        MessageType = 6
	TypeRequestPuzzleState     MessageType = 7
	TypeRespondPuzzleState     MessageType = 8
	TypeRejectPuzzleState      MessageType = 9
	TypeRequestPuzzleSolution  MessageType = 10
	TypeRespondPuzzleSolution  MessageType = 11
	TypeRejectPuzzleSolution   MessageType = 12
	TypeRequestChildren        MessageType = 13
	TypeRespondChildren        MessageType = 14
	TypeRequestBlockHeader     MessageType = 15
	TypeRespondBlockHeader     MessageType = 16
	TypeRequestPeers           MessageType = 17
	TypeRespondPeers           MessageType = 18
	TypeSendTransaction        MessageType = 19
	TypeTransactionAck         MessageType = 20
	TypeRemoveCoinSubs         MessageType = 21
	TypeRemovePuzzleSubs       MessageType = 22
	TypeNewTransaction         MessageType = 23
	TypeCoinStateUpdate        MessageType = 24
)

// ProtocolVersion is this wallet's wire protocol version, sent in every
// handshake so a peer speaking an incompatible version can reject it early.
const ProtocolVersion uint16 = 1

// maxFrameLen bounds a single message body, guarding against a hostile or
// buggy peer claiming an unbounded length prefix.
const maxFrameLen = 64 << 20

// ErrFrameTooLarge is returned when a peer's declared frame length exceeds
// maxFrameLen.
var ErrFrameTooLarge = errors.New("peer: frame exceeds maximum length")

// Message is one frame: a message type, an optional request id echoed back
// on responses so the multiplexer can match them to the right waiter, and
// an opaque serialized body (a CLVM program, a protobuf-like struct, or
// whatever the type implies — transport doesn't care).
type Message struct {
	Type MessageType
	ID   *uint16
	Data []byte
}

// writeMessage frames and writes msg: [type:1][has_id:1][id:2 if present][len:4][data].
func writeMessage(w io.Writer, msg Message) error {
	header := make([]byte, 0, 8)
	header = append(header, byte(msg.Type))
	if msg.ID != nil {
		header = append(header, 1)
		var idBuf [2]byte
		binary.BigEndian.PutUint16(idBuf[:], *msg.ID)
		header = append(header, idBuf[:]...)
	} else {
		header = append(header, 0)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(msg.Data)))
	header = append(header, lenBuf[:]...)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("peer: write frame header: %w", err)
	}
	if len(msg.Data) > 0 {
		if _, err := w.Write(msg.Data); err != nil {
			return fmt.Errorf("peer: write frame body: %w", err)
		}
	}
	return nil
}

// readMessage reads one frame from r, per the layout writeMessage produces.
func readMessage(r io.Reader) (Message, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Message{}, err
	}
	msg := Message{Type: MessageType(head[0])}
	hasID := head[1] != 0
	if hasID {
		var idBuf [2]byte
		if _, err := io.ReadFull(r, idBuf[:]); err != nil {
			return Message{}, fmt.Errorf("peer: read frame id: %w", err)
		}
		id := binary.BigEndian.Uint16(idBuf[:])
		msg.ID = &id
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, fmt.Errorf("peer: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return Message{}, ErrFrameTooLarge
	}
	if n > 0 {
		msg.Data = make([]byte, n)
		if _, err := io.ReadFull(r, msg.Data); err != nil {
			return Message{}, fmt.Errorf("peer: read frame body: %w", err)
		}
	}
	return msg, nil
}
