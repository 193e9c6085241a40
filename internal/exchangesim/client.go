package exchangesim

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// clientConn is one connected subscriber, grounded on the teacher's
// broker.Client: a buffered send channel drained by a dedicated write
// loop, so a slow subscriber never blocks the server's broadcast path.
type clientConn struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte

	mu   sync.Mutex
	subs map[string]subInfo
}

type subInfo struct {
	channel string
	params  map[string]string
}

func newClientConn(conn *websocket.Conn, sessionID string) *clientConn {
	return &clientConn{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 256),
		subs:      make(map[string]subInfo),
	}
}

func (c *clientConn) writeLoop() {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *clientConn) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		// Slow consumer: drop the connection rather than let the
		// server's broadcast path block on it.
		_ = c.conn.Close()
	}
}

func (c *clientConn) rememberSub(key, channel string, params map[string]string) {
	c.mu.Lock()
	c.subs[key] = subInfo{channel: channel, params: params}
	c.mu.Unlock()
}

func (c *clientConn) forgetSub(key string) {
	c.mu.Lock()
	delete(c.subs, key)
	c.mu.Unlock()
}

func (c *clientConn) activeSubs() map[string]subInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]subInfo, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}
