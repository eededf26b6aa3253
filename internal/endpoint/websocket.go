package endpoint

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport exposes a WebSocket connection as a byte stream. Each Write
// becomes one binary message; messages are concatenated on read, so frames
// may span message boundaries.
type wsTransport struct {
	conn   *websocket.Conn
	reader io.Reader
}

func (t *wsTransport) Read(p []byte) (int, error) {
	for {
		if t.reader == nil {
			msgType, r, err := t.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			t.reader = r
		}

		n, err := t.reader.Read(p)
		if errors.Is(err, io.EOF) {
			t.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (t *wsTransport) Write(p []byte) (int, error) {
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *wsTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}
