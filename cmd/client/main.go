package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/config"
	"github.com/kuba2k2/zuzel-sub000/internal/game"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	"github.com/kuba2k2/zuzel-sub000/internal/server"
	log "github.com/sirupsen/logrus"
)

// A headless client: it creates or joins a room, adds one player and logs
// what the room reports until interrupted. With -host it runs the room
// itself on loopback and joins it like any other server.
func main() {
	var (
		envFile  = flag.String("env", ".env", "optional dotenv file")
		addr     = flag.String("addr", "127.0.0.1:5678", "server address")
		key      = flag.String("key", "", "room key to join; empty creates a room")
		name     = flag.String("room", "zuzel", "name of a created room")
		useTLS   = flag.Bool("tls", false, "connect over TLS")
		insecure = flag.Bool("insecure", false, "skip TLS certificate verification")
		ready    = flag.Bool("ready", false, "mark the player ready once it appears")
		host     = flag.Bool("host", false, "host a local room instead of dialing -addr")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := game.NewRegistry(game.Options{})
	defer registry.Shutdown()

	var (
		actor  atomic.Pointer[game.Actor]
		keeper = &readier{pending: make(map[uint32]bool)}
	)
	notifier := internal.NotifierFunc(func(e internal.Event) {
		log.Printf("[event] room=%s: %s player=%d value=%d err=%v", e.RoomKey, e.Type, e.PlayerID, e.Value, e.Err)
		if a := actor.Load(); *ready && a != nil && e.Type == internal.EventPlayerUpdated {
			keeper.update(a, e.PlayerID)
		}
	})

	opts := server.ConnectOptions{
		Addr:       *addr,
		Key:        *key,
		Name:       *name,
		IsPublic:   cfg.PublicServer,
		Speed:      cfg.Speed,
		Rounds:     cfg.Rounds,
		PlayerName: cfg.PlayerName,
	}
	if *useTLS {
		opts.TLS = &tls.Config{InsecureSkipVerify: *insecure}
	}

	if *host {
		hosts := game.NewRegistry(game.Options{})
		defer hosts.Shutdown()
		local, err := server.HostLocal(cfg, hosts, internal.RoomOptions{
			Name:   *name,
			Speed:  cfg.Speed,
			Rounds: cfg.Rounds,
		})
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		defer local.Close()
		opts.Addr, opts.Key, opts.TLS = local.Addr, local.Room.Key(), nil
	}

	a, err := server.Connect(ctx, opts, registry, notifier)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	actor.Store(a)
	log.Printf("[main] in room %s", a.Key())

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
}

// readier keeps our own players ready, sending one toggle per idle spell.
type readier struct {
	mu      sync.Mutex
	pending map[uint32]bool
}

func (r *readier) update(a *game.Actor, id uint32) {
	a.Room.Mu.RLock()
	p := a.Room.FindPlayer(id)
	idle := p != nil && p.IsLocal && p.State == internal.StateIdle
	a.Room.Mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !idle {
		delete(r.pending, id)
		return
	}
	if r.pending[id] {
		return
	}
	r.pending[id] = true
	if err := a.Send(&protocol.PlayerData{ID: id}); err != nil {
		log.Warnf("[readier] player %d: %v", id, err)
	}
}
