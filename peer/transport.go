package peer

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// ErrClosed is returned by Send/Request once the peer's connection has
// been torn down.
var ErrClosed = errors.New("peer: connection closed")

// Event is an unsolicited inbound message: a peer pushing state the wallet
// didn't explicitly request, such as TypeNewTransaction or
// TypeCoinStateUpdate notifications for an active subscription.
type Event struct {
	Type MessageType
	Data []byte
}

// Peer is one multiplexed connection to a full node. The zero value is not
// usable; construct with Connect.
type Peer struct {
	IP   net.IP
	Port uint16

	conn    net.Conn
	writeMu sync.Mutex

	requests *requestTable
	events   chan Event

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// dialTimeout bounds how long a single TCP+TLS handshake may take.
const dialTimeout = 10 * time.Second

// Connect dials addr over TLS, presenting cert as a client certificate (the
// node authenticates the connection at the application layer via the
// handshake message's network-id check, not via the server's
// certificate chain, so the server side is left unverified; the client cert
// is what lets a full node recognize a returning wallet across
// reconnects) and starts the background reader. The returned Event channel
// carries unsolicited messages until the peer is closed, at which point it
// is closed too.
func Connect(ctx context.Context, addr string, cert tls.Certificate) (*Peer, <-chan Event, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("peer: dial %s: %w", addr, err)
	}

	tlsConn := tls.Client(rawConn, &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
		Certificates:       []tls.Certificate{cert},
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, nil, fmt.Errorf("peer: tls handshake %s: %w", addr, err)
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		tlsConn.Close()
		return nil, nil, fmt.Errorf("peer: parse addr %s: %w", addr, err)
	}
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)

	p := &Peer{
		IP:       net.ParseIP(host),
		Port:     port,
		conn:     tlsConn,
		requests: newRequestTable(),
		events:   make(chan Event, 32),
		closed:   make(chan struct{}),
	}
	go p.readLoop()
	return p, p.events, nil
}

// Send writes a fire-and-forget message with no reply expected.
func (p *Peer) Send(msgType MessageType, data []byte) error {
	return p.writeFrame(Message{Type: msgType, Data: data})
}

// SendContext is Send bounded by ctx: the write itself is not cancellable
// once started, but a context that is already done, or that expires while
// the write is queued behind writeMu, aborts before it reaches the wire.
func (p *Peer) SendContext(ctx context.Context, msgType MessageType, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	done := make(chan error, 1)
	go func() { done <- p.writeFrame(Message{Type: msgType, Data: data}) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request writes a message carrying a fresh request id and blocks until a
// reply with the same id arrives, ctx is cancelled, or the connection
// closes.
func (p *Peer) Request(ctx context.Context, msgType MessageType, data []byte) (Message, error) {
	id, replyCh := p.requests.insert()
	msg := Message{Type: msgType, ID: &id, Data: data}
	if err := p.writeFrame(msg); err != nil {
		p.requests.cancel(id)
		return Message{}, err
	}
	select {
	case reply, ok := <-replyCh:
		if !ok {
			return Message{}, p.closeErrOrDefault()
		}
		return reply, nil
	case <-ctx.Done():
		p.requests.cancel(id)
		return Message{}, ctx.Err()
	case <-p.closed:
		return Message{}, p.closeErrOrDefault()
	}
}

func (p *Peer) closeErrOrDefault() error {
	if p.closeErr != nil {
		return p.closeErr
	}
	return ErrClosed
}

func (p *Peer) writeFrame(msg Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return writeMessage(p.conn, msg)
}

// readLoop is the single background reader: every inbound frame with a
// request id resolves a waiter, every frame without one is forwarded to
// the events channel. An I/O error here terminates the peer and notifies
// every outstanding waiter.
func (p *Peer) readLoop() {
	r := bufio.NewReader(p.conn)
	for {
		msg, err := readMessage(r)
		if err != nil {
			p.terminate(fmt.Errorf("peer: read: %w", err))
			return
		}
		if msg.ID != nil {
			p.requests.resolve(*msg.ID, msg)
			continue
		}
		select {
		case p.events <- Event{Type: msg.Type, Data: msg.Data}:
		default:
			log.Printf("peer: event channel full, dropping %v frame", msg.Type)
		}
	}
}

func (p *Peer) terminate(err error) {
	p.closeOnce.Do(func() {
		p.closeErr = err
		close(p.closed)
		p.requests.failAll(err)
		close(p.events)
		p.conn.Close()
	})
}

// Close tears down the connection and fails every outstanding request.
func (p *Peer) Close() error {
	p.terminate(ErrClosed)
	return nil
}

// Done reports when this peer's connection has terminated, by error or by
// explicit Close.
func (p *Peer) Done() <-chan struct{} {
	return p.closed
}

// Addr returns the "ip:port" string identifying this peer, for logging and
// ban-list bookkeeping.
func (p *Peer) Addr() string {
	return net.JoinHostPort(p.IP.String(), fmt.Sprintf("%d", p.Port))
}
