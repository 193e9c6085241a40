package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradecore/internal/event"
	"tradecore/internal/exchangesim"
	"tradecore/internal/seqnum"
)

func startTestServer(t *testing.T, sim *exchangesim.Server) (wsURL string, shutdown func()) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", sim.ServeWS)
	srv := httptest.NewServer(mux)
	wsURL = "ws" + srv.URL[len("http"):] + "/ws"
	return wsURL, srv.Close
}

func newTestClient(t *testing.T, wsURL string) *Client {
	t.Helper()
	return NewClient(Config{
		URL: wsURL,
		GetToken: func(ctx context.Context) (string, error) {
			return "test-token", nil
		},
	})
}

func TestClient_ConnectAndSubscribe(t *testing.T) {
	sim := exchangesim.NewServer(nil)
	sim.PingInterval = 0
	wsURL, shutdown := startTestServer(t, sim)
	defer shutdown()

	c := newTestClient(t, wsURL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	require.NoError(t, c.Subscribe(ctx, "market_data", map[string]string{"symbol": "BTC_USD"}))
	// Idempotent: a second subscribe on the same key resolves immediately.
	require.NoError(t, c.Subscribe(ctx, "market_data", map[string]string{"symbol": "BTC_USD"}))
}

func TestClient_ReceivesPublishedEvents(t *testing.T) {
	sim := exchangesim.NewServer(nil)
	sim.PingInterval = 0
	wsURL, shutdown := startTestServer(t, sim)
	defer shutdown()

	c := newTestClient(t, wsURL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	received := make(chan event.Event, 8)
	c.OnEvent(event.ChannelMarketData, func(ev event.Event) {
		received <- ev
	})

	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()
	require.NoError(t, c.Subscribe(ctx, "market_data", map[string]string{"symbol": "BTC_USD"}))

	sim.PublishEvent(event.ChannelMarketData, "BTC_USD", event.KindSnapshot,
		json.RawMessage(`{"symbol":"BTC_USD","bids":[],"asks":[]}`))

	ev := waitForEvent(t, received)
	require.Equal(t, event.KindSnapshot, ev.EventType)
	require.Equal(t, "1", ev.Sequence.String())
}

// TestClient_ReconnectResubscribesAndContinuesStream covers spec.md
// §8.3's S6 scenario: after observing events through a given sequence,
// a dropped connection reconnects, automatically re-subscribes, and
// resumes receiving events on the same stream without the caller
// re-issuing Subscribe.
func TestClient_ReconnectResubscribesAndContinuesStream(t *testing.T) {
	sim := exchangesim.NewServer(nil)
	sim.PingInterval = 0
	wsURL, shutdown := startTestServer(t, sim)
	defer shutdown()

	c := newTestClient(t, wsURL)
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	received := make(chan event.Event, 16)
	c.OnEvent(event.ChannelMarketData, func(ev event.Event) {
		received <- ev
	})

	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()
	require.NoError(t, c.Subscribe(ctx, "market_data", map[string]string{"symbol": "BTC_USD"}))

	sim.PublishEvent(event.ChannelMarketData, "BTC_USD", event.KindSnapshot,
		json.RawMessage(`{"symbol":"BTC_USD","bids":[],"asks":[]}`))
	waitForEvent(t, received)

	var lastEv event.Event
	for i := 0; i < 499; i++ {
		lastEv = sim.PublishEvent(event.ChannelMarketData, "BTC_USD", event.KindDelta,
			json.RawMessage(`{"symbol":"BTC_USD"}`))
		waitForEvent(t, received)
	}
	require.Equal(t, "500", lastEv.Sequence.String())

	key := subscriptionKey("market_data", map[string]string{"symbol": "BTC_USD"})
	c.mu.Lock()
	sub := c.subs[key]
	sessionID := c.sessionID
	c.mu.Unlock()
	require.NotNil(t, sub)
	require.True(t, sub.lastSeq.Equal(seqnum.FromInt64(500)))

	sim.DisconnectSession(sessionID)

	// The supervisor reconnects and resubscribes automatically; the
	// stream keeps advancing without another Subscribe call. Events that
	// the reconnect's snapshot_since replay delivers ahead of the one just
	// published are drained until that one arrives.
	require.Eventually(t, func() bool {
		next := sim.PublishEvent(event.ChannelMarketData, "BTC_USD", event.KindDelta,
			json.RawMessage(`{"symbol":"BTC_USD"}`))
		timeout := time.After(200 * time.Millisecond)
		for {
			select {
			case ev := <-received:
				if ev.Sequence.Equal(next.Sequence) {
					return true
				}
			case <-timeout:
				return false
			}
		}
	}, 5*time.Second, 250*time.Millisecond)
}

func waitForEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}
