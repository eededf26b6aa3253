package game

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/endpoint"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	"github.com/kuba2k2/zuzel-sub000/internal/utils"
	log "github.com/sirupsen/logrus"
)

const defaultPlayerName = "Player"

// =============================================================================
// SERVER DISPATCH
// =============================================================================

// processServer handles one packet in a server room and reports whether it
// should be relayed to every other remote endpoint.
func (a *Actor) processServer(ep *endpoint.Endpoint, p protocol.Packet) bool {
	fromPipe := ep == a.Room.Pipe

	switch pkt := p.(type) {
	case *protocol.Ping:
		if pkt.Response {
			a.deliverPong(ep, pkt)
			return false
		}
		if !fromPipe {
			a.sendTo(ep, &protocol.Ping{Seq: pkt.Seq, Response: true, SentAt: pkt.SentAt})
		}
		return false

	case *protocol.PlayerNew:
		a.handlePlayerNew(ep, pkt)
		return false

	case *protocol.PlayerData:
		if fromPipe {
			a.handlePlayerSync(pkt.ID)
			return false
		}
		a.handlePlayerReady(ep, pkt)
		return false

	case *protocol.PlayerLeave:
		a.handlePlayerLeave(ep, pkt)
		return false

	case *protocol.PlayerKeypress:
		return a.handleKeypress(ep, pkt)

	case *protocol.GameData:
		if !fromPipe {
			break
		}
		a.Room.Mu.RLock()
		data := a.Room.Data()
		a.Room.Mu.RUnlock()
		a.broadcast(data, nil)
		a.notify(internal.EventRoomUpdated, 0, 0)
		return false

	case *protocol.RequestSendData:
		if !fromPipe {
			break
		}
		a.sendFullData(uuid.UUID(pkt.Endpoint))
		return false

	case *protocol.RequestTimeSync:
		if !fromPipe {
			break
		}
		a.sendTimeSync(pkt.Round)
		return false

	case *protocol.Success, *protocol.Error:
		log.Debugf("[processServer] room=%s: %s from %s ignored", a.Room.Key, p.Type(), ep)
		return false
	}

	a.sendError(ep, p.Type(), protocol.ErrInvalidState)
	return false
}

// =============================================================================
// PLAYERS
// =============================================================================

func (a *Actor) handlePlayerNew(ep *endpoint.Endpoint, pkt *protocol.PlayerNew) {
	name := protocol.GetString(pkt.Name[:])
	if name == "" {
		name = defaultPlayerName
	}

	a.Room.Mu.Lock()
	player, err := a.Room.CreatePlayer(name, ep)
	count := len(a.Room.Players)
	a.Room.Mu.Unlock()

	if err != nil {
		kind := protocol.ErrServerError
		if errors.Is(err, internal.ErrRoomFull) {
			kind = protocol.ErrRoomFull
		}
		a.sendError(ep, protocol.TypePlayerNew, kind)
		return
	}

	log.Printf("[handlePlayerNew] room=%s: player %d (%s) created on %s, %d players",
		a.Room.Key, player.ID, player.Name, ep, count)
	a.broadcastPlayer(player)
	a.notify(internal.EventPlayerUpdated, player.ID, 0)
	a.postReady()
}

// handlePlayerReady toggles a lobby player between idle and ready.
func (a *Actor) handlePlayerReady(ep *endpoint.Endpoint, pkt *protocol.PlayerData) {
	a.Room.Mu.Lock()
	player := a.Room.FindPlayer(pkt.ID)
	if player == nil {
		a.Room.Mu.Unlock()
		a.sendError(ep, protocol.TypePlayerData, protocol.ErrNotFound)
		return
	}
	if player.Endpoint != ep {
		a.Room.Mu.Unlock()
		a.sendError(ep, protocol.TypePlayerData, protocol.ErrInvalidState)
		return
	}
	switch player.State {
	case internal.StateIdle:
		player.State = internal.StateReady
	case internal.StateReady:
		player.State = internal.StateIdle
	default:
		a.Room.Mu.Unlock()
		a.sendError(ep, protocol.TypePlayerData, protocol.ErrInvalidState)
		return
	}
	state := player.State
	a.Room.Mu.Unlock()

	log.Printf("[handlePlayerReady] room=%s: player %d is now %s", a.Room.Key, player.ID, state)
	a.broadcastPlayer(player)
	a.notify(internal.EventPlayerUpdated, player.ID, 0)
	a.postReady()
	a.checkStart()
}

// handlePlayerSync broadcasts a player's current state on behalf of the
// match engine.
func (a *Actor) handlePlayerSync(id uint32) {
	a.Room.Mu.RLock()
	player := a.Room.FindPlayer(id)
	a.Room.Mu.RUnlock()
	if player == nil {
		return
	}
	a.broadcastPlayer(player)
	a.notify(internal.EventPlayerUpdated, id, 0)
}

func (a *Actor) handlePlayerLeave(ep *endpoint.Endpoint, pkt *protocol.PlayerLeave) {
	a.Room.Mu.Lock()
	player := a.Room.FindPlayer(pkt.ID)
	if player == nil {
		a.Room.Mu.Unlock()
		a.sendError(ep, protocol.TypePlayerLeave, protocol.ErrNotFound)
		return
	}
	bound := player.Endpoint
	if bound != ep && ep != a.Room.Pipe {
		a.Room.Mu.Unlock()
		a.sendError(ep, protocol.TypePlayerLeave, protocol.ErrInvalidState)
		return
	}
	update := a.detachPlayer(player)
	remaining := len(a.Room.PlayersOn(bound))
	a.Room.Mu.Unlock()

	log.Printf("[handlePlayerLeave] room=%s: player %d left, %d players left on %v",
		a.Room.Key, player.ID, remaining, bound)
	a.broadcast(update, nil)
	a.notifyPlayerPacket(update)
	a.postReady()

	if bound != nil && bound != a.Room.Pipe && remaining == 0 {
		a.closeEndpoint(bound)
	}
	a.checkStart()
}

// detachPlayer drops a lobby player outright, or marks a player that took
// part in the round as disconnected so it keeps its standings row. It
// returns the packet announcing the change. Caller holds Room.Mu.
func (a *Actor) detachPlayer(p *internal.Player) protocol.Packet {
	if p.State <= internal.StateReady {
		a.Room.DeletePlayer(p)
		return &protocol.PlayerLeave{ID: p.ID}
	}
	p.State = internal.StateDisconnected
	p.Endpoint = nil
	return p.Data(false)
}

func (a *Actor) handleKeypress(ep *endpoint.Endpoint, pkt *protocol.PlayerKeypress) bool {
	a.Room.Mu.RLock()
	player := a.Room.FindPlayer(pkt.ID)
	bound := player != nil && (player.Endpoint == ep || ep == a.Room.Pipe)
	a.Room.Mu.RUnlock()

	if !bound {
		a.sendError(ep, protocol.TypePlayerKeypress, protocol.ErrInvalidState)
		return false
	}
	player.SetKeys(pkt.Keys)
	return true
}

// checkStart launches the match once every player is ready.
func (a *Actor) checkStart() {
	if a.Room.Mode != internal.ModeServer {
		return
	}
	a.Room.Mu.Lock()
	if a.Room.Stop || !a.Room.CanStartMatch() {
		a.Room.Mu.Unlock()
		return
	}
	a.Room.MatchRunning = true
	ready := a.Room.CountPlayers(internal.StateReady)
	a.Room.Mu.Unlock()

	log.Printf("[checkStart] room=%s: %d players ready, starting match", a.Room.Key, ready)
	a.startMatch(a.runServerMatch)
}

// =============================================================================
// DIRECTIVES
// =============================================================================

// sendFullData sends the room metadata followed by every player to one
// endpoint, or to all of them for the zero id.
func (a *Actor) sendFullData(id uuid.UUID) {
	type outgoing struct {
		ep      *endpoint.Endpoint
		packets []protocol.Packet
	}

	a.Room.Mu.RLock()
	var targets []*endpoint.Endpoint
	if id == uuid.Nil {
		targets = a.Room.RemoteEndpoints()
	} else if ep := a.Room.FindEndpoint(id); ep != nil && ep != a.Room.Pipe {
		targets = []*endpoint.Endpoint{ep}
	}
	out := make([]outgoing, 0, len(targets))
	for _, ep := range targets {
		packets := []protocol.Packet{a.Room.Data()}
		for _, p := range a.Room.Players {
			packets = append(packets, p.Data(p.Endpoint == ep))
		}
		out = append(out, outgoing{ep: ep, packets: packets})
	}
	a.Room.Mu.RUnlock()

	for _, o := range out {
		for _, p := range o.packets {
			a.sendTo(o.ep, p)
		}
	}
	log.Debugf("[sendFullData] room=%s: sent state to %d endpoints", a.Room.Key, len(out))
}

// sendTimeSync tells every endpoint when the round counts down and starts,
// relative to its own arrival time.
func (a *Actor) sendTimeSync(round uint32) {
	a.Room.Mu.RLock()
	countAt, startAt := a.Room.CountAt, a.Room.StartAt
	targets := a.Room.RemoteEndpoints()
	rtt := make(map[uuid.UUID]time.Duration, len(a.Room.RTT))
	for id, d := range a.Room.RTT {
		rtt[id] = d
	}
	a.Room.Mu.RUnlock()

	now := time.Now()
	for _, ep := range targets {
		half := rtt[ep.ID] / 2
		a.sendTo(ep, &protocol.GameTime{
			Round:   round,
			CountIn: utils.Millis(countAt.Sub(now) - half),
			StartIn: utils.Millis(startAt.Sub(now) - half),
			CountAt: countAt.UnixMilli(),
			StartAt: startAt.UnixMilli(),
		})
	}
	log.Printf("[sendTimeSync] room=%s: round %d counts at %s, starts at %s (%d endpoints)",
		a.Room.Key, round, countAt.Format(time.StampMilli), startAt.Format(time.StampMilli), len(targets))
}
