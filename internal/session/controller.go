package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tradecore/internal/event"
	"tradecore/internal/store"
	"tradecore/internal/transport"
)

// Controller owns one transport.Client and one store.Store and wires
// their callbacks together, grounded on the teacher's
// publisher.RunSupervisor: dial, wire the consumers, wait for a
// terminal condition, tear down on Stop. Unlike the teacher's
// per-process supervisor, Controller's "workers" are just two callback
// registrations — forwarding events into Dispatch and recovery
// requests back out into subscribe/snapshot_since calls — since both
// sides are already running their own goroutines internally.
type Controller struct {
	log *zap.Logger

	client *transport.Client
	store  *store.Store

	channels []channelSub
	unsubs   []func()
}

type channelSub struct {
	channel event.Channel
	symbol  string
}

// New constructs a Controller from a loaded Config. It does not start
// anything; call Start.
func New(cfg *Config, log *zap.Logger, storeMetrics *store.Metrics, transportMetrics *transport.Metrics, getToken func(context.Context) (string, error)) *Controller {
	if log == nil {
		log = zap.NewNop()
	}

	client := transport.NewClient(transport.Config{
		URL:      cfg.URL,
		GetToken: getToken,
		Logger:   log,
		Metrics:  transportMetrics,
	})
	st := store.New(log, storeMetrics)

	channels := make([]channelSub, 0, len(cfg.Symbols)+2)
	for _, symbol := range cfg.Symbols {
		channels = append(channels, channelSub{channel: event.ChannelMarketData, symbol: symbol})
		if cfg.SubscribeTrades {
			channels = append(channels, channelSub{channel: event.ChannelTrades, symbol: symbol})
		}
	}
	if cfg.SubscribeAccount {
		channels = append(channels, channelSub{channel: event.ChannelAccount, symbol: ""})
	}

	return &Controller{
		log:      log,
		client:   client,
		store:    st,
		channels: channels,
	}
}

// Store exposes the owned store for read-only projection access.
func (ctl *Controller) Store() *store.Store { return ctl.store }

// Client exposes the owned transport client, mainly so a host can call
// OnError or inspect connection state.
func (ctl *Controller) Client() *transport.Client { return ctl.client }

// Start wires event and recovery-request callbacks, connects the
// transport, and subscribes to every configured channel.
func (ctl *Controller) Start(ctx context.Context) error {
	var unsubs []func()
	unsubs = append(unsubs, ctl.client.OnEvent(event.ChannelMarketData, ctl.store.Dispatch))
	unsubs = append(unsubs, ctl.client.OnEvent(event.ChannelTrades, ctl.store.Dispatch))
	unsubs = append(unsubs, ctl.client.OnEvent(event.ChannelAccount, ctl.store.Dispatch))
	unsubs = append(unsubs, ctl.store.OnRequestSnapshot(ctl.handleSnapshotRequest))
	unsubs = append(unsubs, ctl.client.OnError(func(err error) {
		ctl.log.Warn("transport error", zap.Error(err))
	}))
	ctl.unsubs = unsubs

	if err := ctl.client.Connect(ctx); err != nil {
		return fmt.Errorf("session: connect failed: %w", err)
	}

	for _, cs := range ctl.channels {
		params := map[string]string{}
		if cs.symbol != "" {
			params["symbol"] = cs.symbol
		}
		// A failed Subscribe never enters the client's subscription
		// registry, so the reconnect loop does not re-subscribe it.
		if err := ctl.client.Subscribe(ctx, string(cs.channel), params); err != nil {
			ctl.log.Warn("initial subscribe failed",
				zap.String("channel", string(cs.channel)), zap.String("symbol", cs.symbol), zap.Error(err))
		}
	}
	return nil
}

// handleSnapshotRequest translates a recovery request from the store
// into either a fresh Subscribe (sinceSeq == 0, matching a brand new
// subscription path) or an explicit SnapshotSince replay request,
// per spec.md §6.2.
func (ctl *Controller) handleSnapshotRequest(req store.SnapshotRequest) {
	if req.SinceSeq.IsZero() {
		if err := ctl.client.Subscribe(context.Background(), req.Channel, req.Params); err != nil {
			ctl.log.Warn("recovery subscribe failed",
				zap.String("channel", req.Channel), zap.Error(err))
		}
		return
	}
	if err := ctl.client.SnapshotSince(req.Channel, req.Params, req.SinceSeq); err != nil {
		ctl.log.Warn("snapshot_since replay request failed",
			zap.String("channel", req.Channel), zap.String("since", req.SinceSeq.String()), zap.Error(err))
	}
}

// Stop disconnects the transport and unregisters every callback.
func (ctl *Controller) Stop() error {
	for _, cs := range ctl.channels {
		params := map[string]string{}
		if cs.symbol != "" {
			params["symbol"] = cs.symbol
		}
		ctl.client.Unsubscribe(string(cs.channel), params)
	}
	for _, unsub := range ctl.unsubs {
		unsub()
	}
	return ctl.client.Disconnect()
}
