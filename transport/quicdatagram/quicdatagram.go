// Package quicdatagram implements transport.Transport[string] over the
// QUIC unreliable DATAGRAM extension (RFC 9221), via quic-go: low
// per-packet overhead, no head-of-line blocking between input packets.
// Peers that dial in share the listener's UDP socket; each outbound dial
// opens its own.
package quicdatagram

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/wallstop/fortress/transport"
)

// Transport is a transport.Transport[string] (peer addresses are
// "host:port" strings) backed by one QUIC listener and a pool of
// dialed outbound connections, keyed by remote address.
type Transport struct {
	tlsConf *tls.Config
	quicCfg *quic.Config

	listener *quic.Listener

	mu    sync.Mutex
	conns map[string]quic.Connection
	inbox []transport.Datagram[string]

	closed bool
}

// Listen opens a QUIC listener bound to addr with datagrams enabled.
// tlsConf must present a certificate; quic-go requires TLS even for a
// game's loopback LAN traffic.
func Listen(addr string, tlsConf *tls.Config) (*Transport, error) {
	quicCfg := &quic.Config{EnableDatagrams: true}
	ln, err := quic.ListenAddr(addr, tlsConf, quicCfg)
	if err != nil {
		return nil, fmt.Errorf("quicdatagram: listen %s: %w", addr, err)
	}
	t := &Transport{
		tlsConf:  tlsConf,
		quicCfg:  quicCfg,
		listener: ln,
		conns:    make(map[string]quic.Connection),
	}
	go t.acceptLoop()
	return t, nil
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.listener.Accept(context.Background())
		if err != nil {
			return
		}
		t.registerConn(conn)
		go t.readLoop(conn)
	}
}

func (t *Transport) registerConn(conn quic.Connection) {
	addr := conn.RemoteAddr().String()
	t.mu.Lock()
	t.conns[addr] = conn
	t.mu.Unlock()
}

func (t *Transport) readLoop(conn quic.Connection) {
	addr := conn.RemoteAddr().String()
	for {
		data, err := conn.ReceiveDatagram(context.Background())
		if err != nil {
			t.mu.Lock()
			if t.conns[addr] == conn {
				delete(t.conns, addr)
			}
			t.mu.Unlock()
			return
		}
		t.mu.Lock()
		t.inbox = append(t.inbox, transport.Datagram[string]{From: addr, Payload: data})
		t.mu.Unlock()
	}
}

// dial returns a cached outbound connection to addr, establishing one
// if this is the first send.
func (t *Transport) dial(ctx context.Context, addr string) (quic.Connection, error) {
	t.mu.Lock()
	conn, ok := t.conns[addr]
	t.mu.Unlock()
	if ok {
		return conn, nil
	}

	conn, err := quic.DialAddr(ctx, addr, t.tlsConf, t.quicCfg)
	if err != nil {
		return nil, fmt.Errorf("quicdatagram: dial %s: %w", addr, err)
	}
	t.registerConn(conn)
	go t.readLoop(conn)
	return conn, nil
}

// SendTo implements transport.Transport.
func (t *Transport) SendTo(ctx context.Context, to string, payload []byte) error {
	conn, err := t.dial(ctx, to)
	if err != nil {
		return err
	}
	if err := conn.SendDatagram(payload); err != nil {
		return fmt.Errorf("quicdatagram: send to %s: %w", to, err)
	}
	return nil
}

// ReceiveAll implements transport.Transport, draining every datagram
// received since the last call across every connection.
func (t *Transport) ReceiveAll(_ context.Context) ([]transport.Datagram[string], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.inbox
	t.inbox = nil
	return out, nil
}

// Close implements transport.Transport, tearing down every connection
// and the listener.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, conn := range t.conns {
		_ = conn.CloseWithError(0, "closing")
	}
	return t.listener.Close()
}
