package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/config"
	"github.com/kuba2k2/zuzel-sub000/internal/endpoint"
	"github.com/kuba2k2/zuzel-sub000/internal/game"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type testServer struct {
	*Server
	addr string
}

func startServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	registry := game.NewRegistry(game.Options{SelectTimeout: 50 * time.Millisecond})
	s, err := New(cfg, registry)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		registry.Shutdown()
	})
	return &testServer{Server: s, addr: ln.Addr().String()}
}

func dialServer(t *testing.T, addr string) *endpoint.Endpoint {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	ep := endpoint.NewSocket(conn)
	t.Cleanup(func() { _ = ep.Close() })
	require.NoError(t, ep.SetReadDeadline(time.Now().Add(waitFor)))
	return ep
}

func recv(t *testing.T, ep *endpoint.Endpoint) protocol.Packet {
	t.Helper()
	for {
		p, err := ep.RecvPacket()
		require.NoError(t, err)
		if p != nil {
			return p
		}
	}
}

func recvAs[T protocol.Packet](t *testing.T, ep *endpoint.Endpoint) T {
	t.Helper()
	p := recv(t, ep)
	v, ok := p.(T)
	require.True(t, ok, "got %s", p.Type())
	return v
}

func TestLobbyPing(t *testing.T) {
	s := startServer(t, config.Default())
	ep := dialServer(t, s.addr)

	require.NoError(t, ep.Send(&protocol.Ping{Seq: 7, SentAt: 1234}))
	pong := recvAs[*protocol.Ping](t, ep)
	assert.Equal(t, protocol.Ping{Seq: 7, Response: true, SentAt: 1234}, *pong)
}

func TestLobbyGameList(t *testing.T) {
	s := startServer(t, config.Default())
	for i := 0; i < 3; i++ {
		_, err := s.registry.Create(internal.RoomOptions{IsPublic: true})
		require.NoError(t, err)
	}
	_, err := s.registry.Create(internal.RoomOptions{Name: "hidden"})
	require.NoError(t, err)

	ep := dialServer(t, s.addr)
	require.NoError(t, ep.Send(&protocol.GameList{Page: 0, PerPage: 2}))

	head := recvAs[*protocol.GameList](t, ep)
	assert.EqualValues(t, 3, head.Total)
	assert.EqualValues(t, 2, head.Count)
	for i := 0; i < 2; i++ {
		data := recvAs[*protocol.GameData](t, ep)
		assert.True(t, data.IsPublic)
	}

	require.NoError(t, ep.Send(&protocol.GameList{Page: 1, PerPage: 2}))
	head = recvAs[*protocol.GameList](t, ep)
	assert.EqualValues(t, 1, head.Count)
	recvAs[*protocol.GameData](t, ep)
}

func TestLobbyRejects(t *testing.T) {
	s := startServer(t, config.Default())
	ep := dialServer(t, s.addr)

	require.NoError(t, ep.Send(&protocol.GameJoin{Key: protocol.Key("NOPE00")}))
	got := recvAs[*protocol.Error](t, ep)
	assert.Equal(t, protocol.Error{Request: protocol.TypeGameJoin, Kind: protocol.ErrNotFound}, *got)

	require.NoError(t, ep.Send(&protocol.PlayerNew{Name: protocol.Name("early")}))
	got = recvAs[*protocol.Error](t, ep)
	assert.Equal(t, protocol.Error{Request: protocol.TypePlayerNew, Kind: protocol.ErrInvalidState}, *got)
}

func TestGameNewThenJoin(t *testing.T) {
	s := startServer(t, config.Default())

	host := dialServer(t, s.addr)
	require.NoError(t, host.Send(&protocol.GameNew{Name: protocol.Name("Leszno"), IsPublic: true, Speed: 7}))
	created := recvAs[*protocol.GameData](t, host)
	key := protocol.GetString(created.Key[:])
	assert.Equal(t, "Leszno", protocol.GetString(created.Name[:]))
	assert.EqualValues(t, 7, created.Speed)
	assert.EqualValues(t, internal.DefaultRounds, created.Rounds)
	require.NotNil(t, s.registry.Find(key))

	require.NoError(t, host.Send(&protocol.PlayerNew{Name: protocol.Name("host")}))
	mine := recvAs[*protocol.PlayerData](t, host)
	assert.True(t, mine.IsLocal)

	guest := dialServer(t, s.addr)
	require.NoError(t, guest.Send(&protocol.GameJoin{Key: created.Key}))
	joined := recvAs[*protocol.GameData](t, guest)
	assert.Equal(t, created.Key, joined.Key)
	assert.EqualValues(t, 1, joined.Players)

	theirs := recvAs[*protocol.PlayerData](t, guest)
	assert.Equal(t, mine.ID, theirs.ID)
	assert.False(t, theirs.IsLocal)
}

// A request pipelined right behind GameNew must reach the room.
func TestHandOffKeepsPendingBytes(t *testing.T) {
	s := startServer(t, config.Default())

	first, err := protocol.Encode(&protocol.GameNew{Name: protocol.Name("burst")})
	require.NoError(t, err)
	second, err := protocol.Encode(&protocol.PlayerNew{Name: protocol.Name("fast")})
	require.NoError(t, err)

	conn, err := net.Dial("tcp", s.addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(append(first, second...))
	require.NoError(t, err)

	ep := endpoint.NewSocket(conn)
	require.NoError(t, ep.SetReadDeadline(time.Now().Add(waitFor)))
	for i := 0; i < 4; i++ {
		if player, ok := recv(t, ep).(*protocol.PlayerData); ok {
			assert.Equal(t, "fast", protocol.GetString(player.Name[:]))
			return
		}
	}
	t.Fatal("pipelined PlayerNew was lost")
}

func TestSecureSocket(t *testing.T) {
	cfg := config.Default()
	cfg.TLSCert, cfg.TLSKey = writeCert(t)
	s := startServer(t, cfg)

	conn, err := tls.Dial("tcp", s.addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	ep := endpoint.NewSecureSocket(conn)
	t.Cleanup(func() { _ = ep.Close() })
	require.NoError(t, ep.SetReadDeadline(time.Now().Add(waitFor)))
	assert.Equal(t, endpoint.KindSecureSocket, ep.Kind())

	require.NoError(t, ep.Send(&protocol.GameNew{Name: protocol.Name("secure")}))
	data := recvAs[*protocol.GameData](t, ep)
	assert.Equal(t, "secure", protocol.GetString(data.Name[:]))
}

func TestNewRejectsMissingCert(t *testing.T) {
	cfg := config.Default()
	cfg.TLSCert = filepath.Join(t.TempDir(), "cert.pem")
	cfg.TLSKey = filepath.Join(t.TempDir(), "key.pem")
	_, err := New(cfg, game.NewRegistry(game.Options{}))
	assert.Error(t, err)
}

// writeCert creates a throwaway self-signed certificate for 127.0.0.1.
func writeCert(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "zuzel test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestHandOffToClosedRoomAnswers(t *testing.T) {
	s := startServer(t, config.Default())
	a, err := s.registry.Create(internal.RoomOptions{})
	require.NoError(t, err)
	a.Stop()
	<-a.Done()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	client := dialServer(t, ln.Addr().String())
	conn, err := ln.Accept()
	require.NoError(t, err)
	ep := endpoint.NewSocket(conn)
	t.Cleanup(func() { _ = ep.Close() })

	assert.False(t, s.handOff(ep, a, protocol.TypeGameJoin))
	rejected := recvAs[*protocol.Error](t, client)
	assert.Equal(t, protocol.ErrNotFound, rejected.Kind)
	assert.Equal(t, protocol.TypeGameJoin, rejected.Request)

	// the connection is back in the lobby
	go s.HandleEndpoint(ep)
	require.NoError(t, client.Send(&protocol.Ping{Seq: 1}))
	assert.True(t, recvAs[*protocol.Ping](t, client).Response)
}
