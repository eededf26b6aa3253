package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/config"
	"github.com/kuba2k2/zuzel-sub000/internal/endpoint"
	"github.com/kuba2k2/zuzel-sub000/internal/game"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	log "github.com/sirupsen/logrus"
)

// Server accepts game connections and hands them over to rooms.
type Server struct {
	cfg       config.Config
	registry  *game.Registry
	tlsConfig *tls.Config
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, registry *game.Registry) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		s.tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}
	return s, nil
}

// ListenAndServe binds the game port and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	log.Printf("[Server] listening on %s (tls=%t)", ln.Addr(), s.tlsConfig != nil)
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln, one goroutine per connection. It
// closes ln when ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Errorf("[Server] accept failed: %v", err)
			continue
		}

		var ep *endpoint.Endpoint
		if tlsConn, ok := conn.(*tls.Conn); ok {
			ep = endpoint.NewSecureSocket(tlsConn)
		} else {
			ep = endpoint.NewSocket(conn)
		}
		log.Debugf("[Server] accepted %s", ep)
		go s.HandleEndpoint(ep)
	}
}

// ServeWS upgrades an HTTP request and serves the binary protocol over it.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("[ServeWS] upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	s.HandleEndpoint(endpoint.NewWebSocket(conn))
}

// =============================================================================
// LOBBY CONNECTION
// =============================================================================

// HandleEndpoint serves a fresh connection until it creates or joins a room,
// then hands it over. The connection is closed here only if it never
// reaches a room.
func (s *Server) HandleEndpoint(ep *endpoint.Endpoint) {
	for {
		p, err := ep.RecvPacket()
		if err != nil {
			var frameErr *protocol.FrameError
			if errors.As(err, &frameErr) {
				log.Warnf("[HandleEndpoint] %s: %v", ep, err)
				continue
			}
			if !errors.Is(err, endpoint.ErrClientClosed) {
				log.Errorf("[HandleEndpoint] %s: %v", ep, err)
			}
			_ = ep.Close()
			return
		}
		if p == nil {
			continue
		}

		if s.handlePacket(ep, p) {
			return
		}
	}
}

// handlePacket reports whether the endpoint was handed over to a room.
func (s *Server) handlePacket(ep *endpoint.Endpoint, p protocol.Packet) bool {
	switch pkt := p.(type) {
	case *protocol.Ping:
		if !pkt.Response {
			s.reply(ep, &protocol.Ping{Seq: pkt.Seq, Response: true, SentAt: pkt.SentAt})
		}
		return false

	case *protocol.GameList:
		s.sendList(ep, pkt)
		return false

	case *protocol.GameNew:
		a, err := s.registry.Create(internal.RoomOptions{
			Name:     protocol.GetString(pkt.Name[:]),
			IsPublic: pkt.IsPublic,
			Speed:    int(pkt.Speed),
			Rounds:   int(pkt.Rounds),
		})
		if err != nil {
			log.Errorf("[HandleEndpoint] %s: %v", ep, err)
			s.reply(ep, &protocol.Error{Request: protocol.TypeGameNew, Kind: protocol.ErrServerError})
			return false
		}
		return s.handOff(ep, a, protocol.TypeGameNew)

	case *protocol.GameJoin:
		key := protocol.GetString(pkt.Key[:])
		a := s.registry.Find(key)
		if a == nil {
			log.Printf("[HandleEndpoint] %s: no room %q", ep, key)
			s.reply(ep, &protocol.Error{Request: protocol.TypeGameJoin, Kind: protocol.ErrNotFound})
			return false
		}
		return s.handOff(ep, a, protocol.TypeGameJoin)
	}

	s.reply(ep, &protocol.Error{Request: p.Type(), Kind: protocol.ErrInvalidState})
	return false
}

// handOff moves the connection into the room. The room answers with its
// full state.
func (s *Server) handOff(ep *endpoint.Endpoint, a *game.Actor, request protocol.Type) bool {
	if err := a.Join(ep.Duplicate()); err != nil {
		log.Warnf("[HandleEndpoint] %s: joining room %s: %v", ep, a.Key(), err)
		s.reply(ep, &protocol.Error{Request: request, Kind: protocol.ErrNotFound})
		return false
	}
	log.Printf("[HandleEndpoint] %s: handed over to room %s", ep, a.Key())
	return true
}

// sendList answers with a GameList header followed by one GameData per
// listed room.
func (s *Server) sendList(ep *endpoint.Endpoint, req *protocol.GameList) {
	rooms, total := s.registry.List(int(req.Page), int(req.PerPage))

	s.reply(ep, &protocol.GameList{
		Page:    req.Page,
		PerPage: req.PerPage,
		Total:   uint32(total),
		Count:   uint32(len(rooms)),
	})
	for _, a := range rooms {
		a.Room.Mu.RLock()
		data := a.Room.Data()
		a.Room.Mu.RUnlock()
		s.reply(ep, data)
	}
}

func (s *Server) reply(ep *endpoint.Endpoint, p protocol.Packet) {
	if err := ep.Send(p); err != nil {
		log.Errorf("[HandleEndpoint] sending %s to %s: %v", p.Type(), ep, err)
	}
}
