// ABOUTME: WebSocket adapter implementing the Conn abstraction for relay rooms
// ABOUTME: Serializes writes with a per-connection mutex and bounds them with a timeout

package relay

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single frame write to a peer.
const writeTimeout = 10 * time.Second

// wsConn wraps a websocket connection as a relay Conn. The websocket library
// allows one concurrent writer, so writes are serialized here.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}
