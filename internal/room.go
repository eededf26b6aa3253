package internal

import (
	"errors"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kuba2k2/zuzel-sub000/internal/endpoint"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
)

var ErrRoomFull = errors.New("no free player id")

func NewRoom(key string, mode Mode, opts RoomOptions) *Room {
	r := &Room{
		Key:       key,
		Name:      opts.Name,
		Mode:      mode,
		Pipe:      endpoint.NewPipe(endpoint.DefaultPipeSize),
		Players:   make([]*Player, 0),
		IsPublic:  opts.IsPublic,
		IsLocal:   opts.IsLocal,
		Speed:     clamp(opts.Speed, MinSpeed, MaxSpeed, DefaultSpeed),
		Rounds:    clamp(opts.Rounds, 1, MaxRounds, DefaultRounds),
		Phase:     PhaseIdle,
		RTT:       make(map[uuid.UUID]time.Duration),
		CreatedAt: time.Now(),
	}
	r.Endpoints = []*endpoint.Endpoint{r.Pipe}
	return r
}

func clamp(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	return min(max(v, lo), hi)
}

// Methods below expect the caller to hold Mu unless noted otherwise.

// TickPeriod returns the simulation tick period for the room speed.
func (r *Room) TickPeriod() time.Duration {
	return TickPeriods[min(max(r.Speed, MinSpeed), MaxSpeed)-1]
}

// =============================================================================
// PLAYERS
// =============================================================================

// CreatePlayer allocates a player with a random free id and the first
// palette color nobody uses yet, and appends it to the room.
func (r *Room) CreatePlayer(name string, ep *endpoint.Endpoint) (*Player, error) {
	id, ok := r.freeID()
	if !ok {
		return nil, ErrRoomFull
	}
	p := &Player{
		ID:       id,
		Name:     name,
		Color:    r.freeColor(),
		State:    StateIdle,
		Endpoint: ep,
	}
	r.Players = append(r.Players, p)
	return p, nil
}

func (r *Room) freeID() (uint32, bool) {
	const span = MaxPlayerID - MinPlayerID + 1
	if len(r.Players) >= span {
		return 0, false
	}
	start := rand.IntN(span)
	for i := 0; i < span; i++ {
		id := uint32(MinPlayerID + (start+i)%span)
		if r.FindPlayer(id) == nil {
			return id, true
		}
	}
	return 0, false
}

func (r *Room) freeColor() uint32 {
	for _, color := range Palette {
		used := slices.ContainsFunc(r.Players, func(p *Player) bool { return p.Color == color })
		if !used {
			return color
		}
	}
	return Palette[rand.IntN(len(Palette))]
}

func (r *Room) FindPlayer(id uint32) *Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// AddPlayer inserts a player known by id, used by client mirrors.
func (r *Room) AddPlayer(p *Player) {
	r.Players = append(r.Players, p)
}

func (r *Room) DeletePlayer(p *Player) {
	r.Players = slices.DeleteFunc(r.Players, func(other *Player) bool { return other == p })
}

// PlayersOn returns the players bound to ep.
func (r *Room) PlayersOn(ep *endpoint.Endpoint) []*Player {
	var players []*Player
	for _, p := range r.Players {
		if p.Endpoint == ep {
			players = append(players, p)
		}
	}
	return players
}

func (r *Room) CountPlayers(states ...PlayerState) int {
	n := 0
	for _, p := range r.Players {
		if slices.Contains(states, p.State) {
			n++
		}
	}
	return n
}

// CanStartMatch holds when at least one player is ready and nobody is idle.
func (r *Room) CanStartMatch() bool {
	return !r.MatchRunning &&
		r.CountPlayers(StateReady) > 0 &&
		r.CountPlayers(StateIdle) == 0
}

// ResetForRound lines up every ready player on the start straight and
// promotes them to StatePlaying. Lanes are 40 units apart starting from a
// random baseline; past three lanes the rows wrap and move 30 units ahead.
func (r *Room) ResetForRound() []*Player {
	var ready []*Player
	for _, p := range r.Players {
		if p.State == StateReady {
			ready = append(ready, p)
		}
	}
	if len(ready) == 0 {
		return nil
	}

	lanes := min(len(ready), LaneCount)
	span := LaneSpacing * float64(lanes-1)
	base := LaneMinY + rand.Float64()*(LaneMaxY-LaneMinY-span)

	for i, p := range ready {
		start := Point{
			X: StartX + RowSpacing*float64(i/LaneCount),
			Y: base + LaneSpacing*float64(i%LaneCount),
		}
		p.Mu.Lock()
		p.resetKinematics(start)
		p.PointsRound = 0
		p.Mu.Unlock()
		p.State = StatePlaying
	}
	r.Lap = 1
	r.Finishes = 0
	return ready
}

// =============================================================================
// ENDPOINTS
// =============================================================================

func (r *Room) AddEndpoint(ep *endpoint.Endpoint) {
	if !slices.Contains(r.Endpoints, ep) {
		r.Endpoints = append(r.Endpoints, ep)
	}
}

// RemoveEndpoint drops ep from the room. The pipe is never removed.
func (r *Room) RemoveEndpoint(ep *endpoint.Endpoint) bool {
	if ep == r.Pipe {
		return false
	}
	n := len(r.Endpoints)
	r.Endpoints = slices.DeleteFunc(r.Endpoints, func(other *endpoint.Endpoint) bool { return other == ep })
	delete(r.RTT, ep.ID)
	return len(r.Endpoints) != n
}

// FindEndpoint looks an endpoint up by id.
func (r *Room) FindEndpoint(id uuid.UUID) *endpoint.Endpoint {
	for _, ep := range r.Endpoints {
		if ep.ID == id {
			return ep
		}
	}
	return nil
}

// RemoteEndpoints returns a copy of every endpoint except the pipe.
func (r *Room) RemoteEndpoints() []*endpoint.Endpoint {
	eps := make([]*endpoint.Endpoint, 0, len(r.Endpoints))
	for _, ep := range r.Endpoints {
		if ep != r.Pipe {
			eps = append(eps, ep)
		}
	}
	return eps
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (r *Room) Data() *protocol.GameData {
	return &protocol.GameData{
		Key:      protocol.Key(r.Key),
		Name:     protocol.Name(r.Name),
		IsPublic: r.IsPublic,
		IsLocal:  r.IsLocal,
		Speed:    uint8(r.Speed),
		State:    uint8(r.Phase),
		Round:    uint8(r.Round),
		Rounds:   uint8(r.Rounds),
		Players:  uint8(min(len(r.Players), 255)),
	}
}

// ApplyData copies server room metadata into a client mirror.
func (r *Room) ApplyData(data *protocol.GameData) {
	r.Name = protocol.GetString(data.Name[:])
	r.IsPublic = data.IsPublic
	r.Speed = int(data.Speed)
	r.Phase = Phase(data.State)
	r.Round = int(data.Round)
	if data.Rounds > 0 {
		r.Rounds = int(data.Rounds)
	}
}
