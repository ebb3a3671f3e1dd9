package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// wsConn carries one datagram per binary WebSocket message, for networks where
// UDP to the relay is blocked.
type wsConn struct {
	conn *websocket.Conn
}

// DialWebSocket connects to a relay's /relay endpoint.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.DefaultDialer
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, errors.Wrapf(ErrDial, "%s: %s", url, resp.Status)
		}
		return nil, errors.Wrapf(ErrDial, "%s: %v", url, err)
	}
	return &wsConn{conn: conn}, nil
}

// Read returns the next binary message. A message longer than p is truncated
// and reported with io.ErrShortBuffer, as UDP sockets do.
func (c *wsConn) Read(p []byte) (int, error) {
	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			// gorilla returns the same error forever after the first failure.
			return 0, errors.Wrap(ErrClosed, err.Error())
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		n := copy(p, msg)
		if n < len(msg) {
			return n, io.ErrShortBuffer
		}
		return n, nil
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
