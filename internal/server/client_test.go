package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/config"
	"github.com/kuba2k2/zuzel-sub000/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type events struct {
	mu   sync.Mutex
	list []internal.Event
}

func (e *events) Notify(ev internal.Event) {
	e.mu.Lock()
	e.list = append(e.list, ev)
	e.mu.Unlock()
}

func (e *events) count(t internal.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.list {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func clientRegistry(t *testing.T) *game.Registry {
	t.Helper()
	r := game.NewRegistry(game.Options{SelectTimeout: 50 * time.Millisecond})
	t.Cleanup(r.Shutdown)
	return r
}

func TestConnectCreatesMirror(t *testing.T) {
	s := startServer(t, config.Default())
	clients := clientRegistry(t)

	a, err := Connect(context.Background(), ConnectOptions{
		Addr:       s.addr,
		Name:       "Gniezno",
		IsPublic:   true,
		Speed:      3,
		PlayerName: "guest",
	}, clients, nil)
	require.NoError(t, err)
	assert.Equal(t, internal.ModeClient, a.Room.Mode)

	host := s.registry.Find(a.Key())
	require.NotNil(t, host)

	require.Eventually(t, func() bool {
		host.Room.Mu.RLock()
		defer host.Room.Mu.RUnlock()
		return len(host.Room.Players) == 1 && host.Room.Players[0].Name == "guest"
	}, waitFor, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		a.Room.Mu.RLock()
		defer a.Room.Mu.RUnlock()
		return len(a.Room.Players) == 1 && a.Room.Players[0].IsLocal
	}, waitFor, 5*time.Millisecond)

	a.Room.Mu.RLock()
	assert.Equal(t, "Gniezno", a.Room.Name)
	assert.Equal(t, 3, a.Room.Speed)
	a.Room.Mu.RUnlock()
}

func TestConnectJoinsExistingRoom(t *testing.T) {
	s := startServer(t, config.Default())
	host, err := s.registry.Create(internal.RoomOptions{Name: "Torun"})
	require.NoError(t, err)

	a, err := Connect(context.Background(), ConnectOptions{Addr: s.addr, Key: host.Key()}, clientRegistry(t), nil)
	require.NoError(t, err)
	assert.Equal(t, host.Key(), a.Key())

	a.Room.Mu.RLock()
	defer a.Room.Mu.RUnlock()
	assert.Equal(t, "Torun", a.Room.Name)
}

func TestConnectFailures(t *testing.T) {
	s := startServer(t, config.Default())

	tests := []struct {
		name string
		opts ConnectOptions
		want error
	}{
		{"unknown key", ConnectOptions{Addr: s.addr, Key: "ZZZZZZ"}, ErrRejected},
		{"nothing listening", ConnectOptions{Addr: "127.0.0.1:1", Timeout: 500 * time.Millisecond}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notified := &events{}
			clients := clientRegistry(t)

			a, err := Connect(context.Background(), tt.opts, clients, notified)
			require.Error(t, err)
			assert.Nil(t, a)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, 1, notified.count(internal.EventConnectionFailed))
			assert.Equal(t, 0, clients.Len())
		})
	}
}

func TestMirrorReportsLostServer(t *testing.T) {
	s := startServer(t, config.Default())
	notified := &events{}

	a, err := Connect(context.Background(), ConnectOptions{Addr: s.addr}, clientRegistry(t), notified)
	require.NoError(t, err)

	host := s.registry.Find(a.Key())
	require.NotNil(t, host)
	host.Stop()

	select {
	case <-a.Done():
	case <-time.After(waitFor):
		t.Fatal("mirror outlived the server room")
	}
	assert.Equal(t, 1, notified.count(internal.EventConnectionFailed))
}
