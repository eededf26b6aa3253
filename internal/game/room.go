package game

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/endpoint"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	"github.com/kuba2k2/zuzel-sub000/internal/utils"
	log "github.com/sirupsen/logrus"
)

var (
	ErrRoomClosed = errors.New("room closed")
	ErrKeyInUse   = errors.New("room key in use")
)

const maxKeyAttempts = 32

type Options struct {
	// Expiry is how long a server room with no remote endpoints stays alive.
	Expiry        time.Duration
	SelectTimeout time.Duration
	PingTimeout   time.Duration
	Notifier      internal.Notifier
}

func (o Options) withDefaults() Options {
	if o.Expiry <= 0 {
		o.Expiry = internal.ExpiryDuration
	}
	if o.SelectTimeout <= 0 {
		o.SelectTimeout = endpoint.DefaultSelectTimeout
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = internal.PingTimeout
	}
	if o.Notifier == nil {
		o.Notifier = internal.Discard
	}
	return o
}

// =============================================================================
// ROOM REGISTRY
// =============================================================================

// Registry holds every live room of the process, keyed by join key.
type Registry struct {
	opts Options

	mu    sync.Mutex
	rooms map[string]*Actor
	order []*Actor

	wg sync.WaitGroup
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:  opts.withDefaults(),
		rooms: make(map[string]*Actor),
	}
}

// Create starts a new server room under a fresh unique key.
func (r *Registry) Create(opts internal.RoomOptions) (*Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var key string
	for attempt := 0; ; attempt++ {
		if attempt == maxKeyAttempts {
			return nil, fmt.Errorf("create room: %w after %d attempts", ErrKeyInUse, attempt)
		}
		k, err := utils.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}
		if _, exists := r.rooms[k]; !exists {
			key = k
			break
		}
	}

	room := internal.NewRoom(key, internal.ModeServer, opts)
	a := r.start(room, r.opts.Notifier, nil)
	log.Printf("[Registry.Create] room=%s: created %q (public=%t local=%t speed=%d rounds=%d)",
		key, room.Name, room.IsPublic, room.IsLocal, room.Speed, room.Rounds)
	return a, nil
}

// CreateClient starts a client room mirroring the server room described by
// data, talking to the server through upstream.
func (r *Registry) CreateClient(data *protocol.GameData, upstream *endpoint.Endpoint, notifier internal.Notifier) (*Actor, error) {
	key := protocol.GetString(data.Key[:])

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[key]; exists {
		return nil, fmt.Errorf("create client room %s: %w", key, ErrKeyInUse)
	}

	room := internal.NewRoom(key, internal.ModeClient, internal.RoomOptions{})
	room.ApplyData(data)
	room.IsLocal = data.IsLocal
	room.Upstream = upstream
	if notifier == nil {
		notifier = r.opts.Notifier
	}
	a := r.start(room, notifier, upstream)
	log.Printf("[Registry.CreateClient] room=%s: mirroring %q via %s", key, room.Name, upstream)
	return a, nil
}

// start registers and launches the actor. Caller holds r.mu.
func (r *Registry) start(room *internal.Room, notifier internal.Notifier, upstream *endpoint.Endpoint) *Actor {
	a := newActor(room, r, notifier)
	r.rooms[room.Key] = a
	r.order = append(r.order, a)

	if upstream != nil {
		room.AddEndpoint(upstream)
		a.mux.Watch(upstream)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		a.Run()
	}()
	return a
}

func (r *Registry) Find(key string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[key]
}

// List returns one page of public rooms in creation order, along with the
// total number of public rooms. Out of range pages come back empty.
func (r *Registry) List(page, perPage int) ([]*Actor, int) {
	r.mu.Lock()
	public := make([]*Actor, 0, len(r.order))
	for _, a := range r.order {
		a.Room.Mu.RLock()
		if a.Room.IsPublic && !a.Room.Stop {
			public = append(public, a)
		}
		a.Room.Mu.RUnlock()
	}
	r.mu.Unlock()

	if perPage <= 0 || page < 0 {
		return nil, len(public)
	}
	first := min(page*perPage, len(public))
	last := min(first+perPage, len(public))
	return public[first:last], len(public)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Remove forgets the room. It does not stop it.
func (r *Registry) Remove(a *Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[a.Room.Key] != a {
		return
	}
	delete(r.rooms, a.Room.Key)
	for i, other := range r.order {
		if other == a {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Printf("[Registry.Remove] room=%s: removed, %d rooms left", a.Room.Key, len(r.rooms))
}

// Prespawn creates n empty public rooms.
func (r *Registry) Prespawn(n int, opts internal.RoomOptions) error {
	for i := 0; i < n; i++ {
		o := opts
		o.IsPublic = true
		o.Name = fmt.Sprintf("Room %d", i+1)
		if opts.Name != "" {
			o.Name = fmt.Sprintf("%s %d", opts.Name, i+1)
		}
		a, err := r.Create(o)
		if err != nil {
			return err
		}
		log.Debugf("[Registry.Prespawn] room=%s: ready", a.Room.Key)
	}
	return nil
}

// Shutdown stops every room and waits for their actors to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	actors := make([]*Actor, 0, len(r.rooms))
	for _, a := range r.rooms {
		actors = append(actors, a)
	}
	r.mu.Unlock()

	log.Printf("[Registry.Shutdown] stopping %d rooms", len(actors))
	for _, a := range actors {
		a.Stop()
	}
	r.wg.Wait()
}
