package game

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/endpoint"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	log "github.com/sirupsen/logrus"
)

// Actor runs one room. A single goroutine (Run) owns the endpoint and
// player lists; other goroutines reach it through the room pipe or Mux.Do.
type Actor struct {
	Room *internal.Room

	registry *Registry
	notifier internal.Notifier
	opts     Options
	mux      *endpoint.Mux

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	matchWG   sync.WaitGroup
	readyWake chan struct{}
	timeSync  chan roundTime
	matchIdle chan struct{}

	expiryGen uint64

	pingMu  sync.Mutex
	pings   map[uuid.UUID]*pendingPing
	pingSeq atomic.Uint32
}

func newActor(room *internal.Room, registry *Registry, notifier internal.Notifier) *Actor {
	return &Actor{
		Room:      room,
		registry:  registry,
		notifier:  notifier,
		opts:      registry.opts,
		mux:       endpoint.NewMux(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		readyWake: make(chan struct{}, 1),
		timeSync:  make(chan roundTime, 1),
		matchIdle: make(chan struct{}, 1),
		pings:     make(map[uuid.UUID]*pendingPing),
	}
}

func (a *Actor) Key() string {
	return a.Room.Key
}

// Done is closed once the actor has torn the room down.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// Send queues a packet on the room pipe, as if the local UI sent it.
func (a *Actor) Send(p protocol.Packet) error {
	return a.Room.Pipe.Send(p)
}

// Join hands a connected endpoint over to the room. It returns once the
// actor has taken ownership. On error ep is left open and stays with the
// caller.
func (a *Actor) Join(ep *endpoint.Endpoint) error {
	joined := make(chan error, 1)
	if err := a.mux.Do(func() { joined <- a.addEndpoint(ep) }); err != nil {
		return ErrRoomClosed
	}
	select {
	case err := <-joined:
		return err
	case <-a.done:
		return ErrRoomClosed
	}
}

// Stop asks the room to shut down. It is safe to call from any goroutine.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() {
		a.Room.Mu.Lock()
		a.Room.Stop = true
		a.Room.Mu.Unlock()
		close(a.stopCh)
		_ = a.mux.Do(func() {})
	})
}

func (a *Actor) stopped() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

// =============================================================================
// ACTOR LOOP
// =============================================================================

func (a *Actor) Run() {
	log.Printf("[Actor.Run] room=%s: %s actor started", a.Room.Key, a.Room.Mode)
	a.mux.Watch(a.Room.Pipe)
	defer a.teardown()

	for !a.stopped() {
		if err := a.mux.Select(a.opts.SelectTimeout, a.onReadable, a.onError); err != nil {
			log.Errorf("[Actor.Run] room=%s: select failed: %v", a.Room.Key, err)
			return
		}
	}
}

func (a *Actor) teardown() {
	a.Stop()
	a.stopExpiry()

	a.Room.Mu.Lock()
	endpoints := slices.Clone(a.Room.Endpoints)
	a.Room.Mu.Unlock()

	for _, ep := range endpoints {
		if err := ep.Close(); err != nil {
			log.Debugf("[Actor.teardown] room=%s: closing %s: %v", a.Room.Key, ep, err)
		}
	}
	a.matchWG.Wait()
	a.mux.Close()
	a.registry.Remove(a)

	log.Printf("[Actor.teardown] room=%s: closed %d endpoints", a.Room.Key, len(endpoints))
	a.notify(internal.EventRoomClosed, 0, 0)
	close(a.done)
}

func (a *Actor) onReadable(ep *endpoint.Endpoint, p protocol.Packet) {
	log.Debugf("[Actor] room=%s: %s from %s", a.Room.Key, p.Type(), ep)

	var relay bool
	if a.Room.Mode == internal.ModeClient {
		relay = a.processClient(ep, p)
	} else {
		relay = a.processServer(ep, p)
	}
	if relay {
		a.broadcast(p, ep)
	}
}

func (a *Actor) onError(ep *endpoint.Endpoint, err error) {
	var frameErr *protocol.FrameError
	if errors.As(err, &frameErr) {
		log.Errorf("[Actor] room=%s: protocol error from %s: %v", a.Room.Key, ep, err)
		return
	}
	if ep == a.Room.Pipe {
		log.Printf("[Actor] room=%s: pipe closed: %v", a.Room.Key, err)
		a.Stop()
		return
	}

	if errors.Is(err, endpoint.ErrClientClosed) {
		log.Printf("[Actor] room=%s: %s disconnected", a.Room.Key, ep)
	} else {
		log.Errorf("[Actor] room=%s: %s failed: %v", a.Room.Key, ep, err)
	}
	a.closeEndpoint(ep)
}

// =============================================================================
// ENDPOINTS
// =============================================================================

func (a *Actor) addEndpoint(ep *endpoint.Endpoint) error {
	a.Room.Mu.Lock()
	if a.Room.Stop {
		a.Room.Mu.Unlock()
		return ErrRoomClosed
	}
	a.Room.AddEndpoint(ep)
	count := len(a.Room.Endpoints)
	a.Room.Mu.Unlock()

	a.mux.Watch(ep)
	log.Printf("[Actor.addEndpoint] room=%s: %s joined, %d endpoints", a.Room.Key, ep, count)

	if a.Room.Mode == internal.ModeServer {
		a.post(&protocol.RequestSendData{Endpoint: ep.ID})
	}
	a.endpointsChanged(count)
	return nil
}

// closeEndpoint removes ep and every player bound to it.
func (a *Actor) closeEndpoint(ep *endpoint.Endpoint) {
	a.Room.Mu.Lock()
	if !a.Room.RemoveEndpoint(ep) {
		a.Room.Mu.Unlock()
		a.mux.Unwatch(ep)
		_ = ep.Close()
		return
	}
	var updates []protocol.Packet
	for _, p := range a.Room.PlayersOn(ep) {
		updates = append(updates, a.detachPlayer(p))
	}
	count := len(a.Room.Endpoints)
	a.Room.Mu.Unlock()

	a.mux.Unwatch(ep)
	_ = ep.Close()
	log.Printf("[Actor.closeEndpoint] room=%s: %s removed with %d players, %d endpoints left",
		a.Room.Key, ep, len(updates), count)

	for _, update := range updates {
		a.broadcast(update, nil)
		a.notifyPlayerPacket(update)
	}
	if ep == a.Room.Upstream && !a.stopped() {
		a.notifier.Notify(internal.Event{
			Type:    internal.EventConnectionFailed,
			RoomKey: a.Room.Key,
			Err:     endpoint.ErrClientClosed,
		})
	}
	a.postReady()
	a.endpointsChanged(count)
}

// =============================================================================
// SENDING
// =============================================================================

// broadcast sends p to every remote endpoint except the given one.
func (a *Actor) broadcast(p protocol.Packet, except *endpoint.Endpoint) {
	a.Room.Mu.RLock()
	targets := a.Room.RemoteEndpoints()
	a.Room.Mu.RUnlock()

	for _, ep := range targets {
		if ep != except {
			a.sendTo(ep, p)
		}
	}
}

// broadcastPlayer sends the player's state to every remote endpoint,
// flagged local for the endpoint the player is bound to.
func (a *Actor) broadcastPlayer(p *internal.Player) {
	type outgoing struct {
		ep   *endpoint.Endpoint
		data *protocol.PlayerData
	}

	a.Room.Mu.RLock()
	targets := a.Room.RemoteEndpoints()
	out := make([]outgoing, 0, len(targets))
	for _, ep := range targets {
		out = append(out, outgoing{ep: ep, data: p.Data(p.Endpoint == ep)})
	}
	a.Room.Mu.RUnlock()

	for _, o := range out {
		a.sendTo(o.ep, o.data)
	}
}

func (a *Actor) sendTo(ep *endpoint.Endpoint, p protocol.Packet) {
	if err := ep.Send(p); err != nil {
		log.Errorf("[Actor] room=%s: sending %s to %s: %v", a.Room.Key, p.Type(), ep, err)
	}
}

func (a *Actor) sendError(ep *endpoint.Endpoint, request protocol.Type, kind protocol.ErrorKind) {
	log.Warnf("[Actor] room=%s: rejecting %s from %s: %s", a.Room.Key, request, ep, kind)
	if ep == a.Room.Pipe {
		a.notifier.Notify(internal.Event{
			Type:    internal.EventError,
			RoomKey: a.Room.Key,
			Err:     errors.New(kind.String()),
		})
		return
	}
	a.sendTo(ep, &protocol.Error{Request: request, Kind: kind})
}

// post queues a directive on the room pipe.
func (a *Actor) post(p protocol.Packet) {
	if err := a.Room.Pipe.Send(p); err != nil && !a.stopped() {
		log.Errorf("[Actor] room=%s: posting %s: %v", a.Room.Key, p.Type(), err)
	}
}

// postReady wakes a match waiting for players to get ready.
func (a *Actor) postReady() {
	select {
	case a.readyWake <- struct{}{}:
	default:
	}
}

func (a *Actor) notify(t internal.EventType, playerID uint32, value int) {
	a.notifier.Notify(internal.Event{Type: t, RoomKey: a.Room.Key, PlayerID: playerID, Value: value})
}

func (a *Actor) notifyPlayerPacket(p protocol.Packet) {
	switch pkt := p.(type) {
	case *protocol.PlayerLeave:
		a.notify(internal.EventPlayerLeft, pkt.ID, 0)
	case *protocol.PlayerData:
		a.notify(internal.EventPlayerUpdated, pkt.ID, 0)
	}
}
