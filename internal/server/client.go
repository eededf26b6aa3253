package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/endpoint"
	"github.com/kuba2k2/zuzel-sub000/internal/game"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	log "github.com/sirupsen/logrus"
)

const defaultConnectTimeout = 5 * time.Second

var ErrRejected = errors.New("server rejected request")

// ConnectOptions describe how to reach a server and which room to enter.
// An empty Key creates a new room from the remaining fields.
type ConnectOptions struct {
	Addr     string
	TLS      *tls.Config
	Timeout  time.Duration
	Key      string
	Name     string
	IsPublic bool
	Speed    int
	Rounds   int

	// PlayerName, when set, adds a player once the room is up.
	PlayerName string
}

// Connect dials a server, creates or joins a room there and starts a
// client room mirroring it. Failures are reported once to the notifier as
// EventConnectionFailed and returned.
func Connect(ctx context.Context, opts ConnectOptions, registry *game.Registry, notifier internal.Notifier) (*game.Actor, error) {
	if notifier == nil {
		notifier = internal.Discard
	}
	a, err := connect(ctx, opts, registry, notifier)
	if err != nil {
		log.Errorf("[Connect] %s: %v", opts.Addr, err)
		notifier.Notify(internal.Event{Type: internal.EventConnectionFailed, RoomKey: opts.Key, Err: err})
		return nil, err
	}
	return a, nil
}

func connect(ctx context.Context, opts ConnectOptions, registry *game.Registry, notifier internal.Notifier) (*game.Actor, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ep, err := dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	log.Printf("[Connect] connected to %s", ep)

	var request protocol.Packet = &protocol.GameJoin{Key: protocol.Key(opts.Key)}
	if opts.Key == "" {
		request = &protocol.GameNew{
			Name:     protocol.Name(opts.Name),
			IsPublic: opts.IsPublic,
			Speed:    uint8(opts.Speed),
			Rounds:   uint8(opts.Rounds),
		}
	}
	if err := ep.Send(request); err != nil {
		_ = ep.Close()
		return nil, err
	}

	data, err := awaitGameData(ctx, ep, request.Type())
	if err != nil {
		_ = ep.Close()
		return nil, err
	}
	if err := ep.SetReadDeadline(time.Time{}); err != nil {
		_ = ep.Close()
		return nil, fmt.Errorf("clear deadline: %w", err)
	}

	a, err := registry.CreateClient(data, ep.Duplicate(), notifier)
	if err != nil {
		_ = ep.Close()
		return nil, err
	}
	if opts.PlayerName != "" {
		if err := a.Send(&protocol.PlayerNew{Name: protocol.Name(opts.PlayerName)}); err != nil {
			a.Stop()
			return nil, fmt.Errorf("add player: %w", err)
		}
	}
	return a, nil
}

func dial(ctx context.Context, opts ConnectOptions) (*endpoint.Endpoint, error) {
	if opts.TLS != nil {
		d := &tls.Dialer{Config: opts.TLS}
		conn, err := d.DialContext(ctx, "tcp", opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", opts.Addr, err)
		}
		return endpoint.NewSecureSocket(conn.(*tls.Conn)), nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.Addr, err)
	}
	return endpoint.NewSocket(conn), nil
}

// awaitGameData reads until the server confirms the request with the room
// state, rejects it, or ctx runs out.
func awaitGameData(ctx context.Context, ep *endpoint.Endpoint, request protocol.Type) (*protocol.GameData, error) {
	deadline, _ := ctx.Deadline()
	if err := ep.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("waiting for %s reply: %w", request, err)
		}
		p, err := ep.RecvPacket()
		if err != nil {
			return nil, fmt.Errorf("waiting for %s reply: %w", request, err)
		}
		switch pkt := p.(type) {
		case nil:
			continue
		case *protocol.GameData:
			return pkt, nil
		case *protocol.Error:
			return nil, fmt.Errorf("%s: %w: %s", pkt.Request, ErrRejected, pkt.Kind)
		case *protocol.Ping:
			if !pkt.Response {
				_ = ep.Send(&protocol.Ping{Seq: pkt.Seq, Response: true, SentAt: pkt.SentAt})
			}
		default:
			log.Debugf("[Connect] %s: ignoring %s before room data", ep, p.Type())
		}
	}
}
