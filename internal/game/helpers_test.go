package game

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/endpoint"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// tcpPair returns two connected loopback sockets. Unlike net.Pipe, writes
// do not block until the peer reads.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok)

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

// peer is the far side of a room connection, answering pings on its own.
type peer struct {
	ep      *endpoint.Endpoint
	packets chan protocol.Packet
	closed  chan struct{}
}

func newPeer(t *testing.T, conn net.Conn) *peer {
	t.Helper()
	p := &peer{
		ep:      endpoint.NewSocket(conn),
		packets: make(chan protocol.Packet, 1024),
		closed:  make(chan struct{}),
	}
	go p.read()
	return p
}

func (p *peer) read() {
	defer close(p.closed)
	for {
		pkt, err := p.ep.RecvPacket()
		if err != nil {
			return
		}
		if pkt == nil {
			continue
		}
		if ping, ok := pkt.(*protocol.Ping); ok && !ping.Response {
			_ = p.ep.Send(&protocol.Ping{Seq: ping.Seq, Response: true, SentAt: ping.SentAt})
			continue
		}
		p.packets <- pkt
	}
}

func (p *peer) send(t *testing.T, pkt protocol.Packet) {
	t.Helper()
	require.NoError(t, p.ep.Send(pkt))
}

// expect skips packets until one matches, failing after timeout.
func expect[T protocol.Packet](t *testing.T, p *peer, timeout time.Duration, match func(T) bool) T {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case pkt := <-p.packets:
			if v, ok := pkt.(T); ok && (match == nil || match(v)) {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("no %T within %v", zero, timeout)
			return zero
		}
	}
}

// joinPeer connects a new peer to the room.
func joinPeer(t *testing.T, a *Actor) *peer {
	t.Helper()
	client, server := tcpPair(t)
	p := newPeer(t, client)
	require.NoError(t, a.Join(endpoint.NewSocket(server)))
	expect[*protocol.GameData](t, p, waitFor, nil)
	return p
}

// newPlayer creates a player over p and returns the id the room gave it.
func newPlayer(t *testing.T, p *peer, name string) uint32 {
	t.Helper()
	p.send(t, &protocol.PlayerNew{Name: protocol.Name(name)})
	data := expect(t, p, waitFor, func(d *protocol.PlayerData) bool {
		return protocol.GetString(d.Name[:]) == name
	})
	require.True(t, data.IsLocal)
	return data.ID
}

type recorder struct {
	mu     sync.Mutex
	events []internal.Event
}

func (r *recorder) Notify(e internal.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) has(t internal.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func (r *recorder) values(t internal.EventType) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var values []int
	for _, e := range r.events {
		if e.Type == t {
			values = append(values, e.Value)
		}
	}
	return values
}

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.SelectTimeout == 0 {
		opts.SelectTimeout = 50 * time.Millisecond
	}
	r := NewRegistry(opts)
	t.Cleanup(r.Shutdown)
	return r
}
