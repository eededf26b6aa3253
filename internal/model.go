package internal

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kuba2k2/zuzel-sub000/internal/endpoint"
)

const (
	MinSpeed      = 1
	MaxSpeed      = 9
	DefaultSpeed  = 5
	DefaultRounds = 5
	MaxRounds     = 15

	MinPlayerID = 10
	MaxPlayerID = 99

	HistoryLen       = 64
	LapsToFinish     = 4
	CountdownSeconds = 3

	PingTimeout       = 2 * time.Second
	ExpiryDuration    = 60 * time.Second
	StartMargin       = 100 * time.Millisecond
	RefreshInterval   = time.Second / 60
	ReadyPollInterval = 100 * time.Millisecond
)

// TickPeriods maps room speed 1..9 to the simulation tick period.
var TickPeriods = [MaxSpeed]time.Duration{
	60 * time.Millisecond,
	50 * time.Millisecond,
	42 * time.Millisecond,
	35 * time.Millisecond,
	28 * time.Millisecond,
	22 * time.Millisecond,
	16 * time.Millisecond,
	12 * time.Millisecond,
	8 * time.Millisecond,
}

// Palette holds the player colors, as 0xRRGGBB.
var Palette = [...]uint32{
	0xE53935, 0x1E88E5, 0x43A047, 0xFDD835, 0x8E24AA,
	0xFB8C00, 0x00ACC1, 0xD81B60, 0x6D4C41, 0x757575,
}

type Mode uint8

const (
	ModeServer Mode = iota
	ModeClient
)

func (m Mode) String() string {
	if m == ModeClient {
		return "client"
	}
	return "server"
}

type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseCounting
	PhasePlaying
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseCounting:
		return "counting"
	case PhasePlaying:
		return "playing"
	case PhaseFinished:
		return "finished"
	}
	return "unknown"
}

// PlayerState values are ordered: everything up to StateReady is lobby
// state, everything after it belongs to a round.
type PlayerState uint8

const (
	StateIdle PlayerState = iota
	StateReady
	StatePlaying
	StateCrashed
	StateFinished
	StateDisconnected
)

func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StateCrashed:
		return "crashed"
	case StateFinished:
		return "finished"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type Point struct {
	X float64
	Y float64
}

type Player struct {
	ID    uint32
	Name  string
	Color uint32

	// Guarded by the room's Mu.
	State    PlayerState
	Endpoint *endpoint.Endpoint // nil once disconnected, or on clients
	IsLocal  bool               // client mirror: controlled by this process

	// Kinematics, guarded by Mu.
	Mu         sync.Mutex
	history    [HistoryLen]Point
	head       int
	count      int
	Angle      float64
	Speed      float64
	Lap        int
	CanAdvance bool
	Keys       uint8

	PointsRound uint32
	PointsMatch uint32
	PointsGame  uint32
}

type Room struct {
	Key  string
	Name string
	Mode Mode

	// Pipe is the room's own control channel. It is never removed from
	// Endpoints by normal endpoint-close logic.
	Pipe *endpoint.Endpoint

	// Upstream is the connection to the server, client rooms only.
	Upstream *endpoint.Endpoint

	Mu        sync.RWMutex
	Players   []*Player
	Endpoints []*endpoint.Endpoint
	IsPublic  bool
	IsLocal   bool
	Speed     int
	Rounds    int

	// Round state
	Round    int
	Phase    Phase
	Lap      int
	Finishes int
	CountAt  time.Time
	StartAt  time.Time
	RTT      map[uuid.UUID]time.Duration

	MatchRunning bool
	Stop         bool
	Expiry       *time.Timer
	CreatedAt    time.Time
}

type RoomOptions struct {
	Name     string
	IsPublic bool
	IsLocal  bool
	Speed    int
	Rounds   int
}
