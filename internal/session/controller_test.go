package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradecore/internal/exchangesim"
)

func startSimServer(t *testing.T, sim *exchangesim.Server) (wsURL string, shutdown func()) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", sim.ServeWS)
	srv := httptest.NewServer(mux)
	return "ws" + srv.URL[len("http"):] + "/ws", srv.Close
}

func testToken(ctx context.Context) (string, error) { return "test-token", nil }

func TestController_StartSubscribesConfiguredChannelsAndDispatches(t *testing.T) {
	sim := exchangesim.NewServer(nil)
	sim.PingInterval = 0
	wsURL, shutdown := startSimServer(t, sim)
	defer shutdown()

	cfg := &Config{
		URL:             wsURL,
		Symbols:         []string{"BTC_USD"},
		SubscribeTrades: false,
		LogLevel:        "info",
	}

	ctl := New(cfg, nil, nil, nil, testToken)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, ctl.Start(ctx))
	defer ctl.Stop()

	sim.PublishEvent("market_data", "BTC_USD", "snapshot",
		json.RawMessage(`{"symbol":"BTC_USD","bids":[{"price":"100","qty":"1"}],"asks":[]}`))

	require.Eventually(t, func() bool {
		_, ok := ctl.Store().GetOrderbook("BTC_USD")
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	ob, ok := ctl.Store().GetOrderbook("BTC_USD")
	require.True(t, ok)
	require.Len(t, ob.Bids, 1)
}

func TestController_SubscribeAccountWiresAccountChannel(t *testing.T) {
	sim := exchangesim.NewServer(nil)
	sim.PingInterval = 0
	wsURL, shutdown := startSimServer(t, sim)
	defer shutdown()

	cfg := &Config{
		URL:              wsURL,
		Symbols:          []string{"ETH_USD"},
		SubscribeAccount: true,
		LogLevel:         "info",
	}

	ctl := New(cfg, nil, nil, nil, testToken)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, ctl.Start(ctx))
	defer ctl.Stop()

	sim.PublishEvent("account", "", "snapshot", json.RawMessage(
		`{"account_id":"acc1","balances":{"USD":"100"},"orders":[]}`))

	require.Eventually(t, func() bool {
		_, ok := ctl.Store().GetAccount()
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	acc, ok := ctl.Store().GetAccount()
	require.True(t, ok)
	require.Equal(t, "100", acc.Balances["USD"])
}
