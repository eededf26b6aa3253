package game

import (
	"errors"

	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/endpoint"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	log "github.com/sirupsen/logrus"
)

// =============================================================================
// CLIENT DISPATCH
// =============================================================================

// processClient handles one packet in a client room. Requests coming from
// the local pipe are relayed upstream; packets from the server update the
// local mirror.
func (a *Actor) processClient(ep *endpoint.Endpoint, p protocol.Packet) bool {
	if ep == a.Room.Pipe {
		return a.processLocal(p)
	}

	switch pkt := p.(type) {
	case *protocol.Ping:
		if pkt.Response {
			a.deliverPong(ep, pkt)
			return false
		}
		a.sendTo(ep, &protocol.Ping{Seq: pkt.Seq, Response: true, SentAt: pkt.SentAt})

	case *protocol.GameData:
		a.applyGameData(pkt)

	case *protocol.PlayerData:
		a.applyPlayerData(pkt)

	case *protocol.PlayerLeave:
		a.Room.Mu.Lock()
		player := a.Room.FindPlayer(pkt.ID)
		if player != nil {
			a.Room.DeletePlayer(player)
		}
		a.Room.Mu.Unlock()
		if player != nil {
			log.Printf("[processClient] room=%s: player %d left", a.Room.Key, pkt.ID)
			a.notify(internal.EventPlayerLeft, pkt.ID, 0)
		}

	case *protocol.PlayerKeypress:
		a.Room.Mu.RLock()
		player := a.Room.FindPlayer(pkt.ID)
		a.Room.Mu.RUnlock()
		if player != nil {
			player.SetKeys(pkt.Keys)
		}

	case *protocol.GameTime:
		a.receiveTime(pkt)

	case *protocol.Error:
		log.Warnf("[processClient] room=%s: server rejected %s: %s", a.Room.Key, pkt.Request, pkt.Kind)
		a.notifier.Notify(internal.Event{
			Type:    internal.EventError,
			RoomKey: a.Room.Key,
			Err:     errors.New(pkt.Kind.String()),
		})

	case *protocol.Success:
		log.Debugf("[processClient] room=%s: server accepted %s", a.Room.Key, pkt.Request)

	default:
		log.Debugf("[processClient] room=%s: %s from %s ignored", a.Room.Key, p.Type(), ep)
	}
	return false
}

// processLocal decides which requests of the local UI go to the server.
func (a *Actor) processLocal(p protocol.Packet) bool {
	switch pkt := p.(type) {
	case *protocol.PlayerNew, *protocol.PlayerData, *protocol.PlayerLeave:
		return true
	case *protocol.PlayerKeypress:
		// The server relays keys to everyone but the sender.
		a.Room.Mu.RLock()
		player := a.Room.FindPlayer(pkt.ID)
		a.Room.Mu.RUnlock()
		if player == nil || !player.IsLocal {
			a.sendError(a.Room.Pipe, protocol.TypePlayerKeypress, protocol.ErrInvalidState)
			return false
		}
		player.SetKeys(pkt.Keys)
		return true
	case *protocol.RequestSendData, *protocol.RequestTimeSync:
		return false
	}
	log.Debugf("[processLocal] room=%s: %s not forwarded", a.Room.Key, p.Type())
	return false
}

func (a *Actor) applyGameData(pkt *protocol.GameData) {
	a.Room.Mu.Lock()
	a.Room.ApplyData(pkt)
	ended := a.Room.MatchRunning && a.Room.Phase == internal.PhaseIdle
	a.Room.Mu.Unlock()

	a.notify(internal.EventRoomUpdated, 0, 0)
	if ended {
		select {
		case a.matchIdle <- struct{}{}:
		default:
		}
		a.notify(internal.EventMatchFinished, 0, 0)
	}
}

// applyPlayerData creates or refreshes the mirror of a server player.
func (a *Actor) applyPlayerData(pkt *protocol.PlayerData) {
	a.Room.Mu.Lock()
	player := a.Room.FindPlayer(pkt.ID)
	created := player == nil
	if created {
		player = &internal.Player{ID: pkt.ID}
		a.Room.AddPlayer(player)
	}
	player.Apply(pkt)
	player.IsLocal = pkt.IsLocal
	a.Room.Mu.Unlock()

	if created {
		log.Printf("[applyPlayerData] room=%s: player %d (%s) appeared, local=%t",
			a.Room.Key, player.ID, player.Name, pkt.IsLocal)
	}
	a.notify(internal.EventPlayerUpdated, player.ID, 0)
}
