package store

import (
	"encoding/json"
	"fmt"

	"tradecore/internal/event"
)

// reduceAndStoreSnapshot dispatches to the correct reducer by channel and
// commits the result into the store's projections. The returned bool
// reports whether a projection actually changed, so a channel with no
// snapshot form (trades) doesn't falsely claim a state change.
func (s *Store) reduceAndStoreSnapshot(channel event.Channel, symbol string, ev event.Event) (bool, error) {
	switch channel {
	case event.ChannelMarketData:
		ob, err := reduceOrderbookSnapshot(ev)
		if err != nil {
			return false, fmt.Errorf("orderbook snapshot: %w", err)
		}
		s.orderbooks[ob.Symbol] = ob
		return true, nil

	case event.ChannelTrades:
		// Trades have no snapshot form in this spec; ignore gracefully.
		return false, nil

	case event.ChannelAccount:
		acc, err := reduceAccountSnapshot(ev)
		if err != nil {
			return false, fmt.Errorf("account snapshot: %w", err)
		}
		s.account = &acc
		return true, nil

	default:
		return false, fmt.Errorf("unrecognized channel %q", channel)
	}
}

// reduceAndStoreDelta dispatches to the correct reducer by channel and
// commits the result. A market_data delta updates the ticker when its
// payload carries ticker fields, and the orderbook otherwise.
func (s *Store) reduceAndStoreDelta(channel event.Channel, symbol string, ev event.Event) error {
	switch channel {
	case event.ChannelMarketData:
		return s.applyMarketDataDelta(symbol, ev)

	case event.ChannelTrades:
		cur := s.trades[symbol]
		next, err := reduceTrade(cur, ev, TradeTapeCap)
		if err != nil {
			return fmt.Errorf("trade: %w", err)
		}
		s.trades[symbol] = next
		return nil

	case event.ChannelAccount:
		var cur Account
		if s.account != nil {
			cur = *s.account
		}
		next, err := reduceAccountDelta(cur, ev)
		if err != nil {
			return fmt.Errorf("account delta: %w", err)
		}
		s.account = &next
		return nil

	default:
		return fmt.Errorf("unrecognized channel %q", channel)
	}
}

// applyMarketDataDelta routes a market_data delta to the orderbook or
// ticker reducer based on which fields the payload carries. The two
// share a channel and domain key but have distinct payload shapes
// (orderbook deltas carry bids/asks, ticker deltas carry price/volume
// fields), so the payload itself disambiguates which reducer applies.
func (s *Store) applyMarketDataDelta(symbol string, ev event.Event) error {
	var probe struct {
		Bids      []event.Level `json:"bids"`
		Asks      []event.Level `json:"asks"`
		LastPrice *string       `json:"last_price"`
		Volume24h *string       `json:"volume_24h"`
		High24h   *string       `json:"high_24h"`
		Low24h    *string       `json:"low_24h"`
		MarkPrice *string       `json:"mark_price"`
	}
	if err := json.Unmarshal(ev.Payload, &probe); err != nil {
		return fmt.Errorf("market_data delta probe: %w", err)
	}

	isTicker := probe.LastPrice != nil || probe.Volume24h != nil || probe.High24h != nil ||
		probe.Low24h != nil || probe.MarkPrice != nil

	if isTicker {
		var cur *Ticker
		if t, ok := s.tickers[symbol]; ok {
			cur = &t
		}
		next, err := reduceTickerDelta(cur, symbol, ev)
		if err != nil {
			return fmt.Errorf("ticker delta: %w", err)
		}
		s.tickers[symbol] = next
		return nil
	}

	cur := s.orderbooks[symbol]
	next, err := reduceOrderbookDelta(cur, ev)
	if err != nil {
		return fmt.Errorf("orderbook delta: %w", err)
	}
	if next.Symbol == "" {
		next.Symbol = symbol
	}
	s.orderbooks[symbol] = next
	return nil
}
