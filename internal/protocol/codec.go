package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ByteOrder is the wire byte order of every multi-byte field.
var ByteOrder = binary.LittleEndian

var (
	ErrNeedMoreData     = errors.New("need more data")
	ErrProtocolMismatch = errors.New("protocol version mismatch")
	ErrUnknownType      = errors.New("unknown packet type")
	ErrLengthMismatch   = errors.New("packet length mismatch")
)

// FrameError describes a rejected frame. It unwraps to one of the
// protocol sentinel errors.
type FrameError struct {
	Err    error
	Header Header
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v (protocol=%d type=%d len=%d)",
		e.Err, e.Header.Protocol, uint32(e.Header.Type), e.Header.Len)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Encode serializes p into a complete frame.
func Encode(p Packet) ([]byte, error) {
	size := Size(p.Type())
	if size == 0 {
		return nil, fmt.Errorf("encode %T: %w", p, ErrUnknownType)
	}

	buf := bytes.NewBuffer(make([]byte, 0, size))
	header := Header{Protocol: Version, Type: p.Type(), Len: uint32(size)}
	if err := binary.Write(buf, ByteOrder, &header); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if err := binary.Write(buf, ByteOrder, p); err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Type(), err)
	}

	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("[Encode] %s len=%d\n%s", p.Type(), buf.Len(), hex.Dump(buf.Bytes()))
	}
	return buf.Bytes(), nil
}

// Decode parses exactly one frame out of b.
func Decode(b []byte) (Packet, error) {
	var a Assembler
	a.Write(b)
	return a.Next()
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler accumulates stream bytes and cuts them into packets.
// It is not safe for concurrent use.
type Assembler struct {
	buf []byte
}

func (a *Assembler) Write(b []byte) {
	a.buf = append(a.buf, b...)
}

func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

// Buffered returns the number of bytes not yet consumed.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// Clone returns an assembler holding its own copy of the pending bytes.
func (a *Assembler) Clone() *Assembler {
	return &Assembler{buf: bytes.Clone(a.buf)}
}

// Next returns the next complete packet. ErrNeedMoreData is returned until
// a whole frame is buffered. Any other error discards everything buffered.
func (a *Assembler) Next() (Packet, error) {
	if len(a.buf) < HeaderSize {
		return nil, ErrNeedMoreData
	}

	var header Header
	if err := binary.Read(bytes.NewReader(a.buf[:HeaderSize]), ByteOrder, &header); err != nil {
		a.Reset()
		return nil, fmt.Errorf("decode header: %w", err)
	}

	if header.Protocol != Version {
		return nil, a.reject(ErrProtocolMismatch, header)
	}
	p, ok := newPacket(header.Type)
	if !ok {
		return nil, a.reject(ErrUnknownType, header)
	}
	size := Size(header.Type)
	if int(header.Len) != size {
		return nil, a.reject(ErrLengthMismatch, header)
	}
	if len(a.buf) < size {
		return nil, ErrNeedMoreData
	}

	if err := binary.Read(bytes.NewReader(a.buf[HeaderSize:size]), ByteOrder, p); err != nil {
		a.Reset()
		return nil, fmt.Errorf("decode %s: %w", header.Type, err)
	}

	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("[Decode] %s len=%d\n%s", header.Type, size, hex.Dump(a.buf[:size]))
	}

	n := copy(a.buf, a.buf[size:])
	a.buf = a.buf[:n]
	return p, nil
}

func (a *Assembler) reject(err error, header Header) error {
	log.Errorf("[Assembler] dropping %d buffered bytes: %v", len(a.buf), err)
	a.Reset()
	return &FrameError{Err: err, Header: header}
}
