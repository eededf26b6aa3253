package game

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	log "github.com/sirupsen/logrus"
)

// Standing is one row of a room's scoreboard.
type Standing struct {
	Position    int    `json:"position"`
	ID          uint32 `json:"id"`
	Name        string `json:"name"`
	Color       uint32 `json:"color"`
	State       string `json:"state"`
	PointsRound uint32 `json:"points_round"`
	PointsMatch uint32 `json:"points_match"`
	PointsGame  uint32 `json:"points_game"`
}

// awardFinish scores a player crossing the line in the given position:
// the winner of an n-player round gets n points, the last finisher 1.
// Caller holds the room's Mu.
func awardFinish(p *internal.Player, position, racers int) {
	points := uint32(max(racers-position+1, 0))
	p.Mu.Lock()
	p.PointsRound = points
	p.PointsMatch += points
	p.Mu.Unlock()
}

// finishMatch folds match points into game points, drops players who
// disconnected during the match and puts the room back in the lobby. Runs
// on the actor goroutine.
func (a *Actor) finishMatch(played int) {
	var leaves []protocol.Packet

	a.Room.Mu.Lock()
	for _, p := range slices.Clone(a.Room.Players) {
		p.Mu.Lock()
		p.PointsGame += p.PointsMatch
		p.Mu.Unlock()

		if p.State == internal.StateDisconnected {
			a.Room.DeletePlayer(p)
			leaves = append(leaves, &protocol.PlayerLeave{ID: p.ID})
			continue
		}
		p.State = internal.StateIdle
	}
	a.Room.Phase = internal.PhaseIdle
	a.Room.Round = 0
	a.Room.MatchRunning = false
	a.Room.Mu.Unlock()

	standings := Standings(a.Room)
	if len(standings) > 0 {
		log.Printf("[finishMatch] room=%s: %d rounds played, leader %d (%s) with %d points",
			a.Room.Key, played, standings[0].ID, standings[0].Name, standings[0].PointsGame)
	}

	for _, leave := range leaves {
		a.broadcast(leave, nil)
		a.notifyPlayerPacket(leave)
	}
	a.sendFullData(uuid.Nil)
	a.notify(internal.EventMatchFinished, 0, played)
}

// Standings orders the room's players by game, match and round points.
func Standings(room *internal.Room) []Standing {
	room.Mu.RLock()
	rows := make([]Standing, 0, len(room.Players))
	for _, p := range room.Players {
		p.Mu.Lock()
		rows = append(rows, Standing{
			ID:          p.ID,
			Name:        p.Name,
			Color:       p.Color,
			State:       p.State.String(),
			PointsRound: p.PointsRound,
			PointsMatch: p.PointsMatch,
			PointsGame:  p.PointsGame,
		})
		p.Mu.Unlock()
	}
	room.Mu.RUnlock()

	slices.SortFunc(rows, func(a, b Standing) int {
		return cmp.Or(
			cmp.Compare(b.PointsGame, a.PointsGame),
			cmp.Compare(b.PointsMatch, a.PointsMatch),
			cmp.Compare(b.PointsRound, a.PointsRound),
			cmp.Compare(a.ID, b.ID),
		)
	})
	for i := range rows {
		rows[i].Position = i + 1
	}
	return rows
}
