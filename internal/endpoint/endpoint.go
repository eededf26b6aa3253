package endpoint

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
)

type Kind int

const (
	KindSocket Kind = iota
	KindSecureSocket
	KindPipe
	KindWebSocket
)

func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "socket"
	case KindSecureSocket:
		return "tls"
	case KindPipe:
		return "pipe"
	case KindWebSocket:
		return "ws"
	}
	return "unknown"
}

const (
	readBufferSize  = 4096
	DefaultPipeSize = 256
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrPipeFull     = errors.New("pipe full")
	ErrClosed       = errors.New("endpoint closed")
)

// transport is the connection under a network endpoint.
type transport interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
}

// Endpoint is one communication channel of a room: a TCP socket, a TLS
// socket, a WebSocket, or the room's in-process pipe.
type Endpoint struct {
	ID     uuid.UUID
	kind   Kind
	remote string

	conn    transport
	asm     *protocol.Assembler
	readBuf []byte
	writeMu sync.Mutex

	pipe chan protocol.Packet
	done chan struct{}
	once *sync.Once
}

func newNetwork(kind Kind, conn transport) *Endpoint {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Endpoint{
		ID:      uuid.New(),
		kind:    kind,
		remote:  remote,
		conn:    conn,
		asm:     &protocol.Assembler{},
		readBuf: make([]byte, readBufferSize),
		done:    make(chan struct{}),
		once:    &sync.Once{},
	}
}

func NewSocket(conn net.Conn) *Endpoint {
	return newNetwork(KindSocket, conn)
}

func NewSecureSocket(conn *tls.Conn) *Endpoint {
	return newNetwork(KindSecureSocket, conn)
}

func NewWebSocket(conn *websocket.Conn) *Endpoint {
	return newNetwork(KindWebSocket, &wsTransport{conn: conn})
}

// NewPipe returns an in-process endpoint buffering up to size packets.
func NewPipe(size int) *Endpoint {
	if size <= 0 {
		size = DefaultPipeSize
	}
	return &Endpoint{
		ID:   uuid.New(),
		kind: KindPipe,
		pipe: make(chan protocol.Packet, size),
		done: make(chan struct{}),
		once: &sync.Once{},
	}
}

func (e *Endpoint) Kind() Kind {
	return e.kind
}

func (e *Endpoint) IsPipe() bool {
	return e.kind == KindPipe
}

// RemoteAddr is empty for pipes.
func (e *Endpoint) RemoteAddr() string {
	return e.remote
}

func (e *Endpoint) String() string {
	id := e.ID.String()[:8]
	if e.remote == "" {
		return fmt.Sprintf("%s#%s", e.kind, id)
	}
	return fmt.Sprintf("%s(%s)#%s", e.kind, e.remote, id)
}

// =============================================================================
// SEND / RECEIVE
// =============================================================================

// Send writes one packet. Pipe sends never block and fail with ErrPipeFull
// when the pipe buffer is saturated.
func (e *Endpoint) Send(p protocol.Packet) error {
	if e.kind == KindPipe {
		select {
		case <-e.done:
			return ErrClosed
		default:
		}
		select {
		case e.pipe <- p:
			return nil
		default:
			return ErrPipeFull
		}
	}

	b, err := protocol.Encode(p)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if _, err := e.conn.Write(b); err != nil {
		if isClosed(err) {
			return ErrClientClosed
		}
		return fmt.Errorf("send %s to %s: %w", p.Type(), e, err)
	}
	return nil
}

// RecvPacket returns the next packet. An already assembled packet is
// returned without touching the connection; otherwise one blocking read is
// performed. A nil packet with a nil error means the data read so far is
// only part of a frame, or the read deadline passed.
func (e *Endpoint) RecvPacket() (protocol.Packet, error) {
	if e.kind == KindPipe {
		select {
		case p := <-e.pipe:
			return p, nil
		case <-e.done:
			return nil, ErrClientClosed
		}
	}

	if p, err := e.next(); p != nil || err != nil {
		return p, err
	}

	n, readErr := e.conn.Read(e.readBuf)
	if n > 0 {
		e.asm.Write(e.readBuf[:n])
		if p, err := e.next(); p != nil || err != nil {
			return p, err
		}
	}
	if readErr != nil {
		var netErr net.Error
		if errors.As(readErr, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		if isClosed(readErr) {
			return nil, ErrClientClosed
		}
		return nil, fmt.Errorf("read %s: %w", e, readErr)
	}
	return nil, nil
}

func (e *Endpoint) next() (protocol.Packet, error) {
	p, err := e.asm.Next()
	if errors.Is(err, protocol.ErrNeedMoreData) {
		return nil, nil
	}
	return p, err
}

// SetReadDeadline bounds the next blocking read. No-op on pipes.
func (e *Endpoint) SetReadDeadline(t time.Time) error {
	if e.conn == nil {
		return nil
	}
	return e.conn.SetReadDeadline(t)
}

// Duplicate hands the endpoint over to a new owner. The copy shares the
// connection and identity, and gets its own assembler seeded with a copy
// of any bytes not yet consumed. The original must not be read afterwards.
func (e *Endpoint) Duplicate() *Endpoint {
	dup := &Endpoint{
		ID:     e.ID,
		kind:   e.kind,
		remote: e.remote,
		conn:   e.conn,
		pipe:   e.pipe,
		done:   e.done,
		once:   e.once,
	}
	if e.kind != KindPipe {
		dup.asm = e.asm.Clone()
		dup.readBuf = make([]byte, readBufferSize)
	}
	return dup
}

// Close shuts the connection down. Calling it more than once is harmless.
func (e *Endpoint) Close() error {
	var err error
	e.once.Do(func() {
		close(e.done)
		if e.conn != nil {
			err = e.conn.Close()
		}
	})
	return err
}

// Closed reports whether Close was called on this endpoint or a duplicate.
func (e *Endpoint) Closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func isClosed(err error) bool {
	var closeErr *websocket.CloseError
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.As(err, &closeErr)
}
