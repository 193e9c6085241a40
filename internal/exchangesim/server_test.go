package exchangesim

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"tradecore/internal/event"
)

func startServer(t *testing.T, srv *Server) (wsURL string, shutdown func()) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.ServeWS)
	httpSrv := httptest.NewServer(mux)
	return "ws" + httpSrv.URL[len("http"):] + "/ws", httpSrv.Close
}

func dial(t *testing.T, wsURL, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestServeWS_RejectsMissingToken(t *testing.T) {
	srv := NewServer(nil)
	srv.PingInterval = 0
	wsURL, shutdown := startServer(t, srv)
	defer shutdown()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	f := readFrame(t, conn)
	require.Equal(t, "error", f["type"])
	require.Equal(t, ErrCodeAuthFailed, f["code"])

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestServeWS_SendsConnectedFrame(t *testing.T) {
	srv := NewServer(nil)
	srv.PingInterval = 0
	wsURL, shutdown := startServer(t, srv)
	defer shutdown()

	conn := dial(t, wsURL, "tok1")
	defer conn.Close()

	f := readFrame(t, conn)
	require.Equal(t, "connected", f["type"])
	require.NotEmpty(t, f["session_id"])
}

func TestServeWS_SubscribeAcksWithCurrentSeq(t *testing.T) {
	srv := NewServer(nil)
	srv.PingInterval = 0
	wsURL, shutdown := startServer(t, srv)
	defer shutdown()

	conn := dial(t, wsURL, "tok1")
	defer conn.Close()
	readFrame(t, conn) // connected

	srv.PublishEvent(event.ChannelMarketData, "BTC_USD", event.KindSnapshot,
		json.RawMessage(`{"symbol":"BTC_USD"}`))

	req := clientFrame{Action: "subscribe", Channel: "market_data", Params: map[string]string{"symbol": "BTC_USD"}}
	data, _ := json.Marshal(req)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	f := readFrame(t, conn)
	require.Equal(t, "subscribed", f["type"])
	require.Equal(t, "1", f["snapshot_seq"])
}

func TestServeWS_PublishEventBroadcastsToSubscriber(t *testing.T) {
	srv := NewServer(nil)
	srv.PingInterval = 0
	wsURL, shutdown := startServer(t, srv)
	defer shutdown()

	conn := dial(t, wsURL, "tok1")
	defer conn.Close()
	readFrame(t, conn) // connected

	req := clientFrame{Action: "subscribe", Channel: "market_data", Params: map[string]string{"symbol": "BTC_USD"}}
	data, _ := json.Marshal(req)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	readFrame(t, conn) // subscribed

	ev := srv.PublishEvent(event.ChannelMarketData, "BTC_USD", event.KindDelta,
		json.RawMessage(`{"symbol":"BTC_USD"}`))

	f := readFrame(t, conn)
	require.Equal(t, ev.EventID, f["event_id"])
	require.Equal(t, "1", f["sequence"])
}

func TestServeWS_SnapshotSinceReplaysBufferedEvents(t *testing.T) {
	srv := NewServer(nil)
	srv.PingInterval = 0
	wsURL, shutdown := startServer(t, srv)
	defer shutdown()

	conn := dial(t, wsURL, "tok1")
	defer conn.Close()
	readFrame(t, conn) // connected

	sub := clientFrame{Action: "subscribe", Channel: "market_data", Params: map[string]string{"symbol": "BTC_USD"}}
	data, _ := json.Marshal(sub)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	readFrame(t, conn) // subscribed, seq 0 (no events yet)

	for i := 0; i < 3; i++ {
		srv.PublishEvent(event.ChannelMarketData, "BTC_USD", event.KindDelta,
			json.RawMessage(`{"symbol":"BTC_USD"}`))
		readFrame(t, conn) // drain the live broadcast for each
	}

	since := clientFrame{Action: "snapshot_since", Channel: "market_data", Params: map[string]string{"symbol": "BTC_USD"}, LastSeq: "1"}
	data, _ = json.Marshal(since)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	f := readFrame(t, conn)
	require.Equal(t, "snapshot_since_response", f["type"])
	require.Equal(t, "1", f["from_seq"])
	require.Equal(t, "3", f["to_seq"])
	events, ok := f["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 2)
}

func TestServeWS_UnrecognizedActionGetsInvalidActionError(t *testing.T) {
	srv := NewServer(nil)
	srv.PingInterval = 0
	wsURL, shutdown := startServer(t, srv)
	defer shutdown()

	conn := dial(t, wsURL, "tok1")
	defer conn.Close()
	readFrame(t, conn) // connected

	data, _ := json.Marshal(clientFrame{Action: "do_the_thing"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	f := readFrame(t, conn)
	require.Equal(t, "error", f["type"])
	require.Equal(t, ErrCodeInvalidAction, f["code"])
}

func TestServeWS_PingLoopSendsPingFrames(t *testing.T) {
	srv := NewServer(nil)
	srv.PingInterval = 20 * time.Millisecond
	wsURL, shutdown := startServer(t, srv)
	defer shutdown()

	conn := dial(t, wsURL, "tok1")
	defer conn.Close()
	readFrame(t, conn) // connected

	f := readFrame(t, conn)
	require.Equal(t, "ping", f["type"])
}

func TestServeWS_SlowConsumerIsDisconnected(t *testing.T) {
	srv := NewServer(nil)
	srv.PingInterval = 0
	wsURL, shutdown := startServer(t, srv)
	defer shutdown()

	conn := dial(t, wsURL, "tok1")
	defer conn.Close()
	readFrame(t, conn) // connected

	sub := clientFrame{Action: "subscribe", Channel: "market_data", Params: map[string]string{"symbol": "BTC_USD"}}
	data, _ := json.Marshal(sub)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	readFrame(t, conn) // subscribed

	// Never read again: flood the stream until the server's bounded send
	// channel fills and it disconnects this client as a slow consumer.
	for i := 0; i < 300; i++ {
		srv.PublishEvent(event.ChannelMarketData, "BTC_USD", event.KindDelta,
			json.RawMessage(`{"symbol":"BTC_USD"}`))
	}

	require.Eventually(t, func() bool {
		_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		return err != nil && !strings.Contains(err.Error(), "i/o timeout")
	}, 3*time.Second, 50*time.Millisecond)
}
