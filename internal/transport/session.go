package transport

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradecore/internal/event"
	"tradecore/internal/seqnum"
)

// heartbeatTimeoutCloseCode is the close code the client sends when it
// locally closes the connection for missing heartbeats, per spec.md
// §4.1.4. Code 1000 (used by Disconnect) is reserved for intentional
// caller-initiated closes.
const heartbeatTimeoutCloseCode = 4000

// runSession owns one physical connection's read loop, grounded on the
// teacher's subscriber runSession: it extends a read deadline on every
// liveness signal instead of running a separate timer goroutine.
// Server pings arrive as JSON control frames rather than websocket
// control frames, so the deadline is extended explicitly in
// handlePing, not via SetPongHandler.
func (c *Client) runSession(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.closeForHeartbeatTimeout(conn)
			}
			return err
		}
		if err := c.handleFrame(conn, data); err != nil {
			c.emitError(err)
		}
	}
}

// closeForHeartbeatTimeout sends a local close frame with code 4000,
// per spec.md §4.1.4, before the caller tears down the socket.
func (c *Client) closeForHeartbeatTimeout(conn *websocket.Conn) {
	c.log.Warn("heartbeat timeout, closing connection locally")
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(heartbeatTimeoutCloseCode, "heartbeat timeout"),
		time.Now().Add(writeWait))
}

func (c *Client) handleFrame(conn *websocket.Conn, data []byte) error {
	if event.IsDataFrame(data) {
		c.handleEventFrame(data)
		return nil
	}

	var ctl controlFrame
	if err := json.Unmarshal(data, &ctl); err != nil {
		// Malformed frames are silently dropped, per spec.md §4.1.6.
		return nil
	}

	switch ctl.Type {
	case "connected":
		return c.handleConnected(data)
	case "ping":
		return c.handlePing(conn)
	case "subscribed":
		return c.handleSubscribed(data)
	case "unsubscribed":
		return c.handleUnsubscribed(data)
	case "snapshot_since_response":
		return c.handleSnapshotSinceResponse(data)
	case "error":
		return c.handleErrorFrame(data)
	}
	return nil
}

func (c *Client) handleConnected(data []byte) error {
	var f connectedFrame
	_ = json.Unmarshal(data, &f)

	c.mu.Lock()
	c.state = stateAuthenticated
	c.sessionID = f.SessionID
	c.attempt = 0
	snapshot := make([]subscription, 0, len(c.subs))
	for _, s := range c.subs {
		snapshot = append(snapshot, subscription{channel: s.channel, params: cloneParams(s.params), lastSeq: s.lastSeq})
	}
	conn := c.conn
	c.mu.Unlock()

	c.signalFirst(nil)

	for _, s := range snapshot {
		c.resubscribe(conn, s)
	}
	return nil
}

// resubscribe replays an active subscription after reconnect, per
// spec.md §4.1.5: a fresh subscribe for the stream, and — if the
// stream had observed events before the outage — a snapshot_since
// carrying the last observed sequence so the server can fill the gap.
// Failures here are non-fatal; the next reconnect retries them.
func (c *Client) resubscribe(conn *websocket.Conn, s subscription) {
	if conn == nil {
		return
	}
	if err := c.writeJSON(conn, subscribeFrame{Action: "subscribe", Channel: s.channel, Params: s.params}); err != nil {
		c.log.Warn("resubscribe failed, next reconnect will retry",
			zap.String("channel", s.channel), zap.Error(err))
		return
	}
	if s.lastSeq.IsZero() {
		return
	}
	since := snapshotSinceFrame{Action: "snapshot_since", Channel: s.channel, Params: s.params, LastSeq: s.lastSeq.String()}
	if err := c.writeJSON(conn, since); err != nil {
		c.log.Warn("snapshot_since replay request failed",
			zap.String("channel", s.channel), zap.Error(err))
	}
}

func (c *Client) handlePing(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	return c.writeJSON(conn, pongFrame{Type: "pong"})
}

func (c *Client) handleSubscribed(data []byte) error {
	var f subscribedFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	key := subscriptionKey(f.Channel, f.Params)

	seq := seqnum.Zero
	if f.SnapshotSeq != "" {
		if parsed, err := seqnum.Parse(f.SnapshotSeq); err == nil {
			seq = parsed
		}
	}

	c.mu.Lock()
	c.subs[key] = &subscription{channel: f.Channel, params: cloneParams(f.Params), lastSeq: seq}
	pending := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()

	if pending != nil {
		for _, w := range pending.waiters {
			w <- nil
		}
	}
	return nil
}

func (c *Client) handleUnsubscribed(data []byte) error {
	var f unsubscribedFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	key := subscriptionKey(f.Channel, f.Params)
	c.mu.Lock()
	delete(c.subs, key)
	c.mu.Unlock()
	return nil
}

func (c *Client) handleSnapshotSinceResponse(data []byte) error {
	var f snapshotSinceResponseFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	for _, raw := range f.Events {
		c.handleEventFrame(raw)
	}
	return nil
}

// subscribeCorrelatedErrorCodes are the only error codes the wire
// protocol raises in direct response to a subscribe/snapshot_since
// request. Every other code is a connection-wide fault — in particular
// RATE_LIMIT_EXCEEDED, per spec.md §4.1.7 ("surfaced via the error
// handler and does not alter subscription state") — and must always
// reach OnError without touching pending subscribes.
var subscribeCorrelatedErrorCodes = map[string]bool{
	ErrCodeInvalidChannel: true,
	ErrCodeSeqTooOld:      true,
}

// handleErrorFrame surfaces a server error frame, per spec.md §7. The
// wire protocol's error frame carries no channel/params of its own, so
// a subscribe-correlated code cannot be pinned to one specific
// outstanding Subscribe call; when one or more subscribes are pending,
// such a frame is attributed to all of them and each promise is
// rejected with a SubscribeError. A non-subscribe-correlated code (or
// no subscribes pending) is always a connection-level fault surfaced
// via OnError, and never consumes pending-subscribe state.
func (c *Client) handleErrorFrame(data []byte) error {
	var f errorFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.recordErrorCode(f.Code)
	}

	if !subscribeCorrelatedErrorCodes[f.Code] {
		c.emitError(&TransportError{Op: "server", Err: &serverError{code: f.Code, message: f.Message}})
		return nil
	}

	c.mu.Lock()
	pendings := c.pending
	c.mu.Unlock()

	if len(pendings) == 0 {
		c.emitError(&TransportError{Op: "server", Err: &serverError{code: f.Code, message: f.Message}})
		return nil
	}

	c.mu.Lock()
	c.pending = make(map[string]*pendingSubscribe)
	c.mu.Unlock()

	for _, p := range pendings {
		err := &SubscribeError{Channel: p.channel, Params: p.params, Code: f.Code, Message: f.Message}
		for _, w := range p.waiters {
			w <- err
		}
	}
	return nil
}

func (c *Client) handleEventFrame(data []byte) {
	ev, err := event.ParseEvent(data)
	if err != nil {
		c.log.Debug("dropping malformed event frame", zap.Error(err))
		return
	}

	c.mu.Lock()
	entries := c.eventHandlers[ev.Source]
	handlers := make([]func(event.Event), 0, len(entries))
	for _, e := range entries {
		handlers = append(handlers, e.fn)
	}
	if sub, ok := c.subs[subscriptionKeyForEvent(ev)]; ok && ev.Sequence.Greater(sub.lastSeq) {
		sub.lastSeq = ev.Sequence
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
