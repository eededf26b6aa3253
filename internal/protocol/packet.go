package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
)

// Version is the protocol byte carried by every frame header.
const Version uint8 = 3

// HeaderSize is the encoded size of Header.
const HeaderSize = 16

const (
	KeyLen  = 7
	NameLen = 33
)

// Keypress bits of PlayerKeypress.Keys.
const (
	KeyLeft  uint8 = 1 << 0
	KeyRight uint8 = 1 << 1
)

type Type uint32

const (
	TypePing Type = iota + 1
	TypeSuccess
	TypeError
	TypeGameList
	TypeGameNew
	TypeGameJoin
	TypeGameData
	TypeGameTime
	TypePlayerNew
	TypePlayerData
	TypePlayerLeave
	TypePlayerKeypress
	TypeRequestSendData
	TypeRequestTimeSync
)

func (t Type) String() string {
	if info, ok := registry[t]; ok {
		return info.typ.Name()
	}
	return fmt.Sprintf("Type(%d)", uint32(t))
}

type ErrorKind uint32

const (
	ErrInvalidState ErrorKind = iota + 1
	ErrNotFound
	ErrServerError
	ErrRoomFull
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidState:
		return "invalid state"
	case ErrNotFound:
		return "not found"
	case ErrServerError:
		return "server error"
	case ErrRoomFull:
		return "room full"
	}
	return fmt.Sprintf("ErrorKind(%d)", uint32(k))
}

// Header precedes every packet body on the wire.
type Header struct {
	Protocol uint8
	_        [3]byte
	Type     Type
	Len      uint32
	Reserved uint32
}

// Packet is implemented by every fixed-layout packet body.
type Packet interface {
	Type() Type
}

// =============================================================================
// PACKET BODIES
// =============================================================================

type Ping struct {
	Seq      uint32
	Response bool
	SentAt   int64
}

type Success struct {
	Request Type
}

type Error struct {
	Request Type
	Kind    ErrorKind
}

// GameList is sent as a request by clients. The response is a GameList
// header with Total and Count filled in, followed by Count GameData packets.
type GameList struct {
	Page    uint32
	PerPage uint32
	Total   uint32
	Count   uint32
}

type GameNew struct {
	Name     [NameLen]byte
	IsPublic bool
	Speed    uint8
	Rounds   uint8
}

type GameJoin struct {
	Key [KeyLen]byte
}

type GameData struct {
	Key      [KeyLen]byte
	Name     [NameLen]byte
	IsPublic bool
	IsLocal  bool
	Speed    uint8
	State    uint8
	Round    uint8
	Rounds   uint8
	Players  uint8
}

// GameTime schedules the start of a round. CountIn and StartIn are relative
// to the moment the packet is received, already compensated by half of the
// receiving endpoint's RTT; CountAt and StartAt are the sender's epoch ms.
type GameTime struct {
	Round   uint32
	CountIn uint32
	StartIn uint32
	CountAt int64
	StartAt int64
}

type PlayerNew struct {
	Name [NameLen]byte
}

type PlayerData struct {
	ID          uint32
	Name        [NameLen]byte
	Color       uint32
	State       uint8
	IsLocal     bool
	Lap         uint8
	CanAdvance  bool
	X           float32
	Y           float32
	Angle       float32
	Speed       float32
	PointsRound uint32
	PointsMatch uint32
	PointsGame  uint32
}

type PlayerLeave struct {
	ID uint32
}

type PlayerKeypress struct {
	ID   uint32
	Keys uint8
}

// RequestSendData asks a room to send its full state to one endpoint,
// or to every endpoint when Endpoint is all zeroes. Pipe only.
type RequestSendData struct {
	Endpoint [16]byte
}

// RequestTimeSync asks a room to broadcast GameTime for a round. Pipe only.
type RequestTimeSync struct {
	Round uint32
}

func (Ping) Type() Type            { return TypePing }
func (Success) Type() Type         { return TypeSuccess }
func (Error) Type() Type           { return TypeError }
func (GameList) Type() Type        { return TypeGameList }
func (GameNew) Type() Type         { return TypeGameNew }
func (GameJoin) Type() Type        { return TypeGameJoin }
func (GameData) Type() Type        { return TypeGameData }
func (GameTime) Type() Type        { return TypeGameTime }
func (PlayerNew) Type() Type       { return TypePlayerNew }
func (PlayerData) Type() Type      { return TypePlayerData }
func (PlayerLeave) Type() Type     { return TypePlayerLeave }
func (PlayerKeypress) Type() Type  { return TypePlayerKeypress }
func (RequestSendData) Type() Type { return TypeRequestSendData }
func (RequestTimeSync) Type() Type { return TypeRequestTimeSync }

// =============================================================================
// REGISTRY
// =============================================================================

type packetInfo struct {
	typ  reflect.Type
	size int // header + body
}

var registry = map[Type]packetInfo{}

func init() {
	variants := []Packet{
		Ping{}, Success{}, Error{}, GameList{}, GameNew{}, GameJoin{}, GameData{},
		GameTime{}, PlayerNew{}, PlayerData{}, PlayerLeave{}, PlayerKeypress{},
		RequestSendData{}, RequestTimeSync{},
	}
	if n := binary.Size(Header{}); n != HeaderSize {
		panic(fmt.Sprintf("protocol: header size %d, want %d", n, HeaderSize))
	}
	for _, p := range variants {
		if _, dup := registry[p.Type()]; dup {
			panic(fmt.Sprintf("protocol: duplicate packet type %d", p.Type()))
		}
		size := binary.Size(p)
		if size < 0 {
			panic(fmt.Sprintf("protocol: %T is not fixed-size", p))
		}
		registry[p.Type()] = packetInfo{typ: reflect.TypeOf(p), size: HeaderSize + size}
	}
}

// Size returns the full frame size for t, or 0 if t is unknown.
func Size(t Type) int {
	return registry[t].size
}

// Types returns every registered packet type in ascending order.
func Types() []Type {
	types := make([]Type, 0, len(registry))
	for t := TypePing; t <= TypeRequestTimeSync; t++ {
		if _, ok := registry[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

func newPacket(t Type) (Packet, bool) {
	info, ok := registry[t]
	if !ok {
		return nil, false
	}
	return reflect.New(info.typ).Interface().(Packet), true
}

// =============================================================================
// FIXED STRINGS
// =============================================================================

// PutString copies s into dst, truncating so that dst stays NUL-terminated.
func PutString(dst []byte, s string) {
	if len(dst) == 0 {
		return
	}
	n := copy(dst[:len(dst)-1], s)
	clear(dst[n:])
}

// GetString reads a NUL-terminated string out of src.
func GetString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

func Name(s string) (name [NameLen]byte) {
	PutString(name[:], s)
	return name
}

func Key(s string) (key [KeyLen]byte) {
	PutString(key[:], s)
	return key
}
