// ABOUTME: WebSocket adapter implementing session.StreamConn for stream subscribers
// ABOUTME: Serializes writes with a per-connection mutex and bounds them with a timeout

package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// streamWriteTimeout bounds a single frame write to a subscriber.
const streamWriteTimeout = 10 * time.Second

// streamConn wraps a websocket connection as a session.StreamConn. The
// websocket library allows one concurrent writer, so writes are serialized.
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newStreamConn(conn *websocket.Conn) *streamConn {
	return &streamConn{conn: conn}
}

func (c *streamConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), streamWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *streamConn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}
