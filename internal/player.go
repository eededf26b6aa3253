package internal

import (
	"math"

	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
)

const (
	TurnStep     = 3.0 // degrees per tick
	TurnDrag     = 0.02
	Acceleration = 0.05
	StartSpeed   = 1.0
	MinRaceSpeed = 3.0
	MaxRaceSpeed = 7.0
	StepScale    = 0.5 // distance per tick per unit of speed
)

type AdvanceResult int

const (
	AdvanceNone AdvanceResult = iota
	AdvanceLap
	AdvanceFinished
	AdvanceCrashed
)

// =============================================================================
// KINEMATICS (caller holds p.Mu)
// =============================================================================

func (p *Player) resetKinematics(start Point) {
	p.history = [HistoryLen]Point{}
	p.head = 0
	p.count = 0
	p.push(start)
	p.Angle = 0
	p.Speed = StartSpeed
	p.Lap = 1
	p.CanAdvance = false
	p.Keys = 0
}

// Position returns the newest history sample.
func (p *Player) Position() Point {
	return p.history[p.head]
}

// History returns the retained samples, most recent first.
func (p *Player) History() []Point {
	points := make([]Point, 0, p.count)
	for i := 0; i < p.count; i++ {
		points = append(points, p.history[(p.head-i+HistoryLen)%HistoryLen])
	}
	return points
}

func (p *Player) oldest() Point {
	return p.history[(p.head-p.count+1+HistoryLen)%HistoryLen]
}

// push inserts pt as the newest sample unless it equals the oldest one
// still retained.
func (p *Player) push(pt Point) {
	if p.count > 0 && pt == p.oldest() {
		return
	}
	if p.count > 0 {
		p.head = (p.head + 1) % HistoryLen
	}
	p.history[p.head] = pt
	if p.count < HistoryLen {
		p.count++
	}
}

// Place moves the player without simulating, used by client mirrors. The
// server position always wins, even when push declines the sample.
func (p *Player) Place(pt Point) {
	if p.count > 0 && p.Position() == pt {
		return
	}
	p.push(pt)
	if p.Position() != pt {
		p.history[p.head] = pt
	}
}

// Advance runs one simulation tick: steer, move, then resolve the half-lap
// line, the finish line and finally track walls.
func (p *Player) Advance() AdvanceResult {
	left := p.Keys&protocol.KeyLeft != 0
	right := p.Keys&protocol.KeyRight != 0

	if left != right {
		if left {
			p.Angle -= TurnStep
		} else {
			p.Angle += TurnStep
		}
		if p.Speed > MinRaceSpeed {
			p.Speed = max(p.Speed-TurnDrag, MinRaceSpeed)
		}
	} else {
		p.Speed = min(p.Speed+Acceleration, MaxRaceSpeed)
	}
	p.Angle = math.Mod(p.Angle, 360)
	if p.Angle < 0 {
		p.Angle += 360
	}

	from := p.Position()
	rad := p.Angle * math.Pi / 180
	step := p.Speed * StepScale
	to := Point{X: from.X + math.Cos(rad)*step, Y: from.Y + math.Sin(rad)*step}
	p.push(to)

	if crossedHalfway(from, to) {
		p.CanAdvance = true
	}

	result := AdvanceNone
	if crossedFinish(from, to) {
		switch {
		case !p.CanAdvance:
			result = AdvanceCrashed
		case p.Lap >= LapsToFinish:
			result = AdvanceFinished
		default:
			p.Lap++
			p.CanAdvance = false
			result = AdvanceLap
		}
	}

	if result != AdvanceFinished && result != AdvanceCrashed && !OnTrack(to) {
		result = AdvanceCrashed
	}
	return result
}

// =============================================================================
// SNAPSHOTS (caller holds the room's Mu)
// =============================================================================

func (p *Player) Data(isLocal bool) *protocol.PlayerData {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	pos := p.Position()
	return &protocol.PlayerData{
		ID:          p.ID,
		Name:        protocol.Name(p.Name),
		Color:       p.Color,
		State:       uint8(p.State),
		IsLocal:     isLocal,
		Lap:         uint8(p.Lap),
		CanAdvance:  p.CanAdvance,
		X:           float32(pos.X),
		Y:           float32(pos.Y),
		Angle:       float32(p.Angle),
		Speed:       float32(p.Speed),
		PointsRound: p.PointsRound,
		PointsMatch: p.PointsMatch,
		PointsGame:  p.PointsGame,
	}
}

// Apply copies a server update into a client mirror. The update that puts
// the player on the grid resets the round state the same way ResetForRound
// does on the server, held keys included.
func (p *Player) Apply(data *protocol.PlayerData) {
	state := PlayerState(data.State)
	starting := state == StatePlaying && p.State != StatePlaying
	p.Name = protocol.GetString(data.Name[:])
	p.Color = data.Color
	p.State = state

	p.Mu.Lock()
	defer p.Mu.Unlock()
	if starting {
		p.resetKinematics(Point{X: float64(data.X), Y: float64(data.Y)})
	}
	p.Lap = int(data.Lap)
	p.CanAdvance = data.CanAdvance
	p.Angle = float64(data.Angle)
	p.Speed = float64(data.Speed)
	p.PointsRound = data.PointsRound
	p.PointsMatch = data.PointsMatch
	p.PointsGame = data.PointsGame
	p.Place(Point{X: float64(data.X), Y: float64(data.Y)})
}

func (p *Player) SetKeys(keys uint8) {
	p.Mu.Lock()
	p.Keys = keys
	p.Mu.Unlock()
}
