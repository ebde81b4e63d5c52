// Package transport implements the Session's datagram I/O boundary.
// A Transport only moves opaque bytes to/from addressed peers; framing,
// ordering, and retransmission all live one layer up in the peer and
// wire packages.
package transport

import (
	"context"
	"sync"
)

// Datagram is one received packet and the address it arrived from.
type Datagram[A any] struct {
	From    A
	Payload []byte
}

// Transport is the minimal unreliable, unordered packet transport the
// session orchestrator depends on. Implementations never block
// SendTo/ReceiveAll for longer than ctx allows.
type Transport[A any] interface {
	SendTo(ctx context.Context, to A, payload []byte) error
	ReceiveAll(ctx context.Context) ([]Datagram[A], error)
	Close() error
}

// Loopback is an in-memory Transport connecting any number of
// registered endpoints in the same process, for tests and
// single-process tools (SyncTest, local spectators). It drops
// datagrams sent to an address nothing has registered, the same way a
// real UDP socket drops to an unreachable host.
type Loopback[A comparable] struct {
	mu      sync.Mutex
	self    A
	peers   map[A]*Loopback[A]
	inbox   []Datagram[A]
	closed  bool
}

// NewLoopback builds an endpoint identified by self with an empty peer
// table; wire it to others with Connect.
func NewLoopback[A comparable](self A) *Loopback[A] {
	return &Loopback[A]{self: self, peers: make(map[A]*Loopback[A])}
}

// Connect registers a and b as each other's peers.
func Connect[A comparable](a, b *Loopback[A]) {
	a.mu.Lock()
	a.peers[b.self] = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peers[a.self] = a
	b.mu.Unlock()
}

// SendTo implements Transport.
func (l *Loopback[A]) SendTo(_ context.Context, to A, payload []byte) error {
	l.mu.Lock()
	peer, ok := l.peers[to]
	closed := l.closed
	l.mu.Unlock()
	if closed || !ok {
		return nil
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	peer.mu.Lock()
	if !peer.closed {
		peer.inbox = append(peer.inbox, Datagram[A]{From: l.self, Payload: cp})
	}
	peer.mu.Unlock()
	return nil
}

// ReceiveAll implements Transport, draining every datagram queued since
// the last call.
func (l *Loopback[A]) ReceiveAll(_ context.Context) ([]Datagram[A], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.inbox
	l.inbox = nil
	return out, nil
}

// Close implements Transport.
func (l *Loopback[A]) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
