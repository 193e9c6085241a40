// Package exchangesim is a fake exchange speaking the wire protocol of
// spec.md §6.1, grounded on the teacher's internal/broker package
// (ServeWS, per-client read/write pumps, topic registry) rewritten for
// this spec's connected/ping/subscribed/snapshot_since_response
// exchange. It is test and demo infrastructure, not part of the core:
// the transport client dials it in integration tests and the demo
// binary runs it in place of a real exchange.
package exchangesim

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradecore/internal/event"
	"tradecore/internal/seqnum"
)

// Server is a single-process fake exchange. The zero value is not
// usable; construct with NewServer.
type Server struct {
	log *zap.Logger

	// PingInterval governs how often a ping control frame is sent to
	// each connected client. Zero disables the ping loop, useful for
	// exercising the transport client's heartbeat-timeout path.
	PingInterval time.Duration

	mu      sync.Mutex
	streams map[string]*stream
	clients map[string]*clientConn
}

func NewServer(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:          log,
		PingInterval: 15 * time.Second,
		streams:      make(map[string]*stream),
		clients:      make(map[string]*clientConn),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and runs the connection until the
// client disconnects or its read fails.
func (srv *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") == "" {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		data, _ := json.Marshal(errorFrame{Type: "error", Code: ErrCodeAuthFailed, Message: "missing token"})
		_ = conn.WriteMessage(websocket.TextMessage, data)
		_ = conn.Close()
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(1 << 20)

	sessionID := newEventID()
	c := newClientConn(conn, sessionID)

	srv.mu.Lock()
	srv.clients[sessionID] = c
	srv.mu.Unlock()

	go c.writeLoop()

	connected, _ := json.Marshal(connectedFrame{Type: "connected", SessionID: sessionID})
	c.enqueue(connected)

	stopPing := make(chan struct{})
	if srv.PingInterval > 0 {
		go srv.pingLoop(c, stopPing)
	}

	srv.readLoop(c)

	close(stopPing)
	srv.removeClient(c)
}

func (srv *Server) pingLoop(c *clientConn, stop <-chan struct{}) {
	ticker := time.NewTicker(srv.PingInterval)
	defer ticker.Stop()
	ping, _ := json.Marshal(pingFrame{Type: "ping"})
	for {
		select {
		case <-ticker.C:
			c.enqueue(ping)
		case <-stop:
			return
		}
	}
}

func (srv *Server) removeClient(c *clientConn) {
	for key := range c.activeSubs() {
		if s := srv.getStream(key); s != nil {
			s.removeSub(c)
		}
	}
	srv.mu.Lock()
	delete(srv.clients, c.sessionID)
	srv.mu.Unlock()
	close(c.send)
	_ = c.conn.Close()
}

func (srv *Server) readLoop(c *clientConn) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		srv.handleFrame(c, data)
	}
}

func (srv *Server) handleFrame(c *clientConn, data []byte) {
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}

	if f.Type == "pong" {
		return
	}

	switch f.Action {
	case "subscribe":
		srv.handleSubscribe(c, f)
	case "unsubscribe":
		srv.handleUnsubscribe(c, f)
	case "snapshot_since":
		srv.handleSnapshotSince(c, f)
	default:
		out, _ := json.Marshal(errorFrame{Type: "error", Code: ErrCodeInvalidAction, Message: "unrecognized action"})
		c.enqueue(out)
	}
}

func (srv *Server) handleSubscribe(c *clientConn, f clientFrame) {
	key := subscriptionKey(f.Channel, f.Params)
	s := srv.getOrCreateStream(f.Channel, f.Params["symbol"])
	s.addSub(c)
	c.rememberSub(key, f.Channel, f.Params)

	out, _ := json.Marshal(subscribedFrame{
		Type:        "subscribed",
		Channel:     f.Channel,
		Params:      f.Params,
		SnapshotSeq: s.currentSeq().String(),
	})
	c.enqueue(out)
}

func (srv *Server) handleUnsubscribe(c *clientConn, f clientFrame) {
	key := subscriptionKey(f.Channel, f.Params)
	if s := srv.getStream(key); s != nil {
		s.removeSub(c)
	}
	c.forgetSub(key)

	out, _ := json.Marshal(unsubscribedFrame{Type: "unsubscribed", Channel: f.Channel, Params: f.Params})
	c.enqueue(out)
}

func (srv *Server) handleSnapshotSince(c *clientConn, f clientFrame) {
	key := subscriptionKey(f.Channel, f.Params)
	s := srv.getStream(key)
	if s == nil {
		out, _ := json.Marshal(errorFrame{Type: "error", Code: ErrCodeInvalidChannel, Message: "unknown stream"})
		c.enqueue(out)
		return
	}

	since, err := seqnum.Parse(f.LastSeq)
	if err != nil {
		since = seqnum.Zero
	}
	events := s.replaySince(since)

	raws := make([]json.RawMessage, 0, len(events))
	toSeq := since
	for _, ev := range events {
		raws = append(raws, marshalOrNil(ev))
		toSeq = ev.Sequence
	}

	out, _ := json.Marshal(snapshotSinceResponseFrame{
		Type:    "snapshot_since_response",
		Channel: f.Channel,
		FromSeq: since.String(),
		ToSeq:   toSeq.String(),
		Events:  raws,
	})
	c.enqueue(out)
}

func (srv *Server) getOrCreateStream(channel, symbol string) *stream {
	key := subscriptionKey(channel, paramsFor(symbol))
	srv.mu.Lock()
	defer srv.mu.Unlock()
	s, ok := srv.streams[key]
	if !ok {
		s = newStream(event.Channel(channel), symbol)
		srv.streams[key] = s
	}
	return s
}

func (srv *Server) getStream(key string) *stream {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.streams[key]
}

func paramsFor(symbol string) map[string]string {
	if symbol == "" {
		return map[string]string{}
	}
	return map[string]string{"symbol": symbol}
}

// PublishEvent appends ev to the domain stream (assigning the next
// sequence) and broadcasts it to every current subscriber. Tests drive
// normal in-order flow through this method.
func (srv *Server) PublishEvent(channel event.Channel, symbol string, kind event.Kind, payload json.RawMessage) event.Event {
	key := subscriptionKey(string(channel), paramsFor(symbol))
	s := srv.getOrCreateStream(string(channel), symbol)

	ev := event.Event{
		EventID:   newEventID(),
		EventType: kind,
		Source:    channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
	ev = s.append(ev)
	srv.broadcast(key, ev)
	return ev
}

// PublishAt broadcasts ev verbatim without consulting or advancing the
// stream's sequence counter, for deliberately exercising the gap,
// duplicate, and out-of-order paths of spec.md §4.2.2 from a test.
func (srv *Server) PublishAt(channel event.Channel, symbol string, seq seqnum.Seq, kind event.Kind, payload json.RawMessage) event.Event {
	key := subscriptionKey(string(channel), paramsFor(symbol))
	ev := event.Event{
		EventID:   newEventID(),
		EventType: kind,
		Source:    channel,
		Sequence:  seq,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
	srv.broadcast(key, ev)
	return ev
}

func (srv *Server) broadcast(key string, ev event.Event) {
	s := srv.getStream(key)
	if s == nil {
		return
	}
	data := marshalOrNil(ev)
	for _, c := range s.subscribers() {
		c.enqueue(data)
	}
}

// DisconnectSession forcibly closes one client's connection, simulating
// the dropped-connection half of spec.md §8.3's S6 reconnect scenario.
func (srv *Server) DisconnectSession(sessionID string) {
	srv.mu.Lock()
	c, ok := srv.clients[sessionID]
	srv.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}
