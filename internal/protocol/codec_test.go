package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePackets() []Packet {
	return []Packet{
		&Ping{Seq: 7, Response: true, SentAt: 1_700_000_000_123},
		&Success{Request: TypePlayerNew},
		&Error{Request: TypeGameJoin, Kind: ErrNotFound},
		&GameList{Page: 2, PerPage: 10, Total: 31, Count: 10},
		&GameNew{Name: Name("Friday night"), IsPublic: true, Speed: 5, Rounds: 3},
		&GameJoin{Key: Key("AB12CD")},
		&GameData{Key: Key("AB12CD"), Name: Name("Friday night"), IsPublic: true, Speed: 9, State: 2, Round: 1, Rounds: 5, Players: 4},
		&GameTime{Round: 2, CountIn: 180, StartIn: 3180, CountAt: 1_700_000_000_500, StartAt: 1_700_000_003_500},
		&PlayerNew{Name: Name("Rider")},
		&PlayerData{ID: 42, Name: Name("Rider"), Color: 0xFF8000, State: 2, IsLocal: true, Lap: 3, CanAdvance: true,
			X: 330.5, Y: 401, Angle: 359.25, Speed: 6.5, PointsRound: 3, PointsMatch: 7, PointsGame: 19},
		&PlayerLeave{ID: 42},
		&PlayerKeypress{ID: 42, Keys: KeyLeft | KeyRight},
		&RequestSendData{Endpoint: [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}},
		&RequestTimeSync{Round: 4},
	}
}

func TestRoundTrip(t *testing.T) {
	packets := samplePackets()
	require.Len(t, packets, len(Types()), "every registered type has a sample")

	for _, p := range packets {
		t.Run(p.Type().String(), func(t *testing.T) {
			b, err := Encode(p)
			require.NoError(t, err)
			assert.Len(t, b, Size(p.Type()))

			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestHeaderLayout(t *testing.T) {
	b, err := Encode(&PlayerLeave{ID: 0x01020304})
	require.NoError(t, err)

	assert.Equal(t, Version, b[0])
	assert.Equal(t, []byte{0, 0, 0}, b[1:4])
	assert.Equal(t, uint32(TypePlayerLeave), ByteOrder.Uint32(b[4:8]))
	assert.Equal(t, uint32(HeaderSize+4), ByteOrder.Uint32(b[8:12]))
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, b[16:20])
}

func TestAssemblerByteByByte(t *testing.T) {
	p := &PlayerData{ID: 11, Name: Name("slow"), X: 1, Y: 2}
	b, err := Encode(p)
	require.NoError(t, err)

	var a Assembler
	for i, c := range b {
		a.Write([]byte{c})
		got, err := a.Next()
		if i < len(b)-1 {
			require.ErrorIs(t, err, ErrNeedMoreData, "byte %d", i)
			require.Nil(t, got)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err = a.Next()
	assert.ErrorIs(t, err, ErrNeedMoreData)
	assert.Zero(t, a.Buffered())
}

func TestAssemblerMultipleFrames(t *testing.T) {
	var stream []byte
	for _, p := range samplePackets() {
		b, err := Encode(p)
		require.NoError(t, err)
		stream = append(stream, b...)
	}

	var a Assembler
	a.Write(stream)
	for _, want := range samplePackets() {
		got, err := a.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := a.Next()
	assert.ErrorIs(t, err, ErrNeedMoreData)
}

func TestAssemblerLengthMismatchResync(t *testing.T) {
	for _, delta := range []int{-3, -1, 1, 9} {
		bad, err := Encode(&PlayerKeypress{ID: 12, Keys: KeyLeft})
		require.NoError(t, err)
		ByteOrder.PutUint32(bad[8:12], uint32(len(bad)+delta))

		var a Assembler
		a.Write(bad)
		_, err = a.Next()
		require.ErrorIs(t, err, ErrLengthMismatch, "delta %d", delta)

		var frameErr *FrameError
		require.True(t, errors.As(err, &frameErr))
		assert.Equal(t, TypePlayerKeypress, frameErr.Header.Type)
		assert.Zero(t, a.Buffered())

		good := &PlayerKeypress{ID: 12, Keys: KeyRight}
		b, err := Encode(good)
		require.NoError(t, err)
		a.Write(b)
		got, err := a.Next()
		require.NoError(t, err)
		assert.Equal(t, good, got)
	}
}

func TestAssemblerRejects(t *testing.T) {
	b, err := Encode(&Ping{Seq: 1})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte)
		want   error
	}{
		{"version", func(b []byte) { b[0] = Version + 1 }, ErrProtocolMismatch},
		{"type zero", func(b []byte) { ByteOrder.PutUint32(b[4:8], 0) }, ErrUnknownType},
		{"type out of range", func(b []byte) { ByteOrder.PutUint32(b[4:8], 999) }, ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := append([]byte(nil), b...)
			tt.mutate(frame)

			var a Assembler
			a.Write(frame)
			_, err := a.Next()
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, a.Buffered())
		})
	}
}

func TestAssemblerClone(t *testing.T) {
	b, err := Encode(&PlayerLeave{ID: 33})
	require.NoError(t, err)

	var a Assembler
	a.Write(b[:10])
	c := a.Clone()
	a.Reset()

	c.Write(b[10:])
	got, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, &PlayerLeave{ID: 33}, got)
}

func TestStrings(t *testing.T) {
	var key [KeyLen]byte
	PutString(key[:], "TOOLONGKEY")
	assert.Equal(t, "TOOLON", GetString(key[:]))
	assert.Equal(t, byte(0), key[KeyLen-1])

	name := Name("abc")
	assert.Equal(t, "abc", GetString(name[:]))

	PutString(name[:], "x")
	assert.Equal(t, "x", GetString(name[:]))
	assert.Equal(t, "Ping", TypePing.String())
	assert.Equal(t, "Type(99)", Type(99).String())
}
