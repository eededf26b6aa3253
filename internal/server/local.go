package server

import (
	"context"
	"fmt"
	"net"

	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/config"
	"github.com/kuba2k2/zuzel-sub000/internal/game"
	log "github.com/sirupsen/logrus"
)

// LocalHost is a private server on loopback owning a single local room. A
// local room never expires, so it survives its clients reconnecting.
type LocalHost struct {
	Room *game.Actor
	Addr string

	cancel context.CancelFunc
	done   chan error
}

// HostLocal creates a local room in registry and serves it on a loopback
// port. Clients reach it with Connect and the room key.
func HostLocal(cfg config.Config, registry *game.Registry, opts internal.RoomOptions) (*LocalHost, error) {
	cfg.TLSCert, cfg.TLSKey = "", ""
	s, err := New(cfg, registry)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen on loopback: %w", err)
	}

	opts.IsLocal = true
	opts.IsPublic = false
	a, err := registry.Create(opts)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &LocalHost{Room: a, Addr: ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- s.Serve(ctx, ln) }()

	log.Printf("[HostLocal] room=%s: hosting on %s", a.Key(), h.Addr)
	return h, nil
}

// Close stops accepting connections and closes the room.
func (h *LocalHost) Close() error {
	h.cancel()
	err := <-h.done
	h.Room.Stop()
	<-h.Room.Done()
	return err
}
