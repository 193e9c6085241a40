package store

import (
	"encoding/json"

	"tradecore/internal/event"
)

// reduceOrderbookSnapshot replaces the orderbook wholesale, sorted per
// side, per spec.md §4.2.5. It never mutates its input.
func reduceOrderbookSnapshot(ev event.Event) (Orderbook, error) {
	var p event.OrderbookSnapshotPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return Orderbook{}, err
	}

	bids := levelsFromPayload(p.Bids)
	asks := levelsFromPayload(p.Asks)
	sortLevelsDescending(bids)
	sortLevelsAscending(asks)

	return Orderbook{
		Symbol:  p.Symbol,
		Bids:    bids,
		Asks:    asks,
		LastSeq: ev.Sequence,
	}, nil
}

// reduceOrderbookDelta merges a delta into the current orderbook. The
// current projection is never mutated; a new one is returned.
func reduceOrderbookDelta(cur Orderbook, ev event.Event) (Orderbook, error) {
	var p event.OrderbookDeltaPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return Orderbook{}, err
	}

	next := Orderbook{Symbol: cur.Symbol, LastSeq: ev.Sequence}
	if p.Symbol != "" {
		next.Symbol = p.Symbol
	}

	if len(p.Bids) > 0 {
		next.Bids = applyLevelUpdates(cur.Bids, p.Bids)
		sortLevelsDescending(next.Bids)
	} else {
		next.Bids = append([]PriceLevel(nil), cur.Bids...)
	}

	if len(p.Asks) > 0 {
		next.Asks = applyLevelUpdates(cur.Asks, p.Asks)
		sortLevelsAscending(next.Asks)
	} else {
		next.Asks = append([]PriceLevel(nil), cur.Asks...)
	}

	return next, nil
}

// reduceTickerDelta overlays present fields onto the prior ticker,
// defaulting absent fields to "0" when no prior ticker exists, per
// spec.md §4.2.5.
func reduceTickerDelta(cur *Ticker, symbol string, ev event.Event) (Ticker, error) {
	var p event.TickerDeltaPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return Ticker{}, err
	}

	next := Ticker{Symbol: symbol, LastSeq: ev.Sequence}
	if cur != nil {
		next.LastPrice = cur.LastPrice
		next.Volume24h = cur.Volume24h
		next.High24h = cur.High24h
		next.Low24h = cur.Low24h
		next.MarkPrice = cur.MarkPrice
	} else {
		next.LastPrice, next.Volume24h, next.High24h, next.Low24h, next.MarkPrice = "0", "0", "0", "0", "0"
	}

	if p.LastPrice != nil {
		next.LastPrice = *p.LastPrice
	}
	if p.Volume24h != nil {
		next.Volume24h = *p.Volume24h
	}
	if p.High24h != nil {
		next.High24h = *p.High24h
	}
	if p.Low24h != nil {
		next.Low24h = *p.Low24h
	}
	if p.MarkPrice != nil {
		next.MarkPrice = *p.MarkPrice
	}
	return next, nil
}

// reduceTrade appends a trade record, evicting the oldest entries once
// the tape exceeds cap, per spec.md §4.2.5 and §9.
func reduceTrade(cur []Trade, ev event.Event, cap int) ([]Trade, error) {
	var p event.TradePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return nil, err
	}

	t := Trade{
		EventID:   ev.EventID,
		Symbol:    p.Symbol,
		Price:     p.Price,
		Qty:       p.Qty,
		Side:      p.Side,
		Timestamp: p.Timestamp,
	}

	next := make([]Trade, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, t)
	if len(next) > cap {
		next = next[len(next)-cap:]
	}
	return next, nil
}

// reduceAccountSnapshot replaces balances wholesale and keys orders by
// order_id, per spec.md §4.2.5.
func reduceAccountSnapshot(ev event.Event) (Account, error) {
	var p event.AccountSnapshotPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return Account{}, err
	}

	acc := Account{
		AccountID: p.AccountID,
		LastSeq:   ev.Sequence,
		Balances:  make(map[string]string, len(p.Balances)),
		Orders:    make(map[string]event.AccountOrder, len(p.Orders)),
	}
	for asset, bal := range p.Balances {
		acc.Balances[asset] = bal
	}
	for _, o := range p.Orders {
		acc.Orders[o.OrderID] = o
	}
	return acc, nil
}

// reduceAccountDelta merges balances field-wise and upserts a single
// order if present, per spec.md §4.2.5.
func reduceAccountDelta(cur Account, ev event.Event) (Account, error) {
	var p event.AccountDeltaPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return Account{}, err
	}

	next := cur.Clone()
	next.LastSeq = ev.Sequence
	if p.AccountID != "" {
		next.AccountID = p.AccountID
	}
	for asset, bal := range p.Balances {
		next.Balances[asset] = bal
	}
	if p.Order != nil {
		next.Orders[p.Order.OrderID] = *p.Order
	}
	return next, nil
}
