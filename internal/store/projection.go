package store

import (
	"sort"
	"strconv"

	"tradecore/internal/event"
	"tradecore/internal/seqnum"
)

// PriceLevel is a single price/quantity pair as held in a projection.
// Both fields remain decimal strings; spec.md §4.2.6 forbids arithmetic
// on them in the core.
type PriceLevel struct {
	Price string
	Qty   string
}

// Orderbook is the per-symbol order-book projection of spec.md §3.2.
// Bids is sorted descending by numeric price, Asks ascending. Neither
// side ever contains two levels at the same price or a level with
// quantity "0" (spec.md §8.1 invariant 6).
type Orderbook struct {
	Symbol  string
	Bids    []PriceLevel
	Asks    []PriceLevel
	LastSeq seqnum.Seq
}

// Clone returns a deep copy so callers cannot mutate store-owned state
// through a returned projection.
func (o Orderbook) Clone() Orderbook {
	out := Orderbook{Symbol: o.Symbol, LastSeq: o.LastSeq}
	out.Bids = append(out.Bids, o.Bids...)
	out.Asks = append(out.Asks, o.Asks...)
	return out
}

// Ticker is the per-symbol ticker projection of spec.md §3.2.
type Ticker struct {
	Symbol    string
	LastPrice string
	Volume24h string
	High24h   string
	Low24h    string
	MarkPrice string
	LastSeq   seqnum.Seq
}

// Trade is a single entry in the bounded trade tape.
type Trade struct {
	EventID   string
	Symbol    string
	Price     string
	Qty       string
	Side      string
	Timestamp string
}

// Account is the single authenticated account's projection.
type Account struct {
	AccountID string
	Balances  map[string]string
	Orders    map[string]event.AccountOrder
	LastSeq   seqnum.Seq
}

// Clone returns a deep copy of the account projection.
func (a Account) Clone() Account {
	out := Account{AccountID: a.AccountID, LastSeq: a.LastSeq}
	out.Balances = make(map[string]string, len(a.Balances))
	for k, v := range a.Balances {
		out.Balances[k] = v
	}
	out.Orders = make(map[string]event.AccountOrder, len(a.Orders))
	for k, v := range a.Orders {
		out.Orders[k] = v
	}
	return out
}

func priceFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// sortLevelsDescending sorts by numeric price, highest first (bids).
func sortLevelsDescending(levels []PriceLevel) {
	sort.Slice(levels, func(i, j int) bool {
		return priceFloat(levels[i].Price) > priceFloat(levels[j].Price)
	})
}

// sortLevelsAscending sorts by numeric price, lowest first (asks).
func sortLevelsAscending(levels []PriceLevel) {
	sort.Slice(levels, func(i, j int) bool {
		return priceFloat(levels[i].Price) < priceFloat(levels[j].Price)
	})
}

// levelsFromPayload converts wire-level structs to price levels.
func levelsFromPayload(ls []event.Level) []PriceLevel {
	out := make([]PriceLevel, 0, len(ls))
	for _, l := range ls {
		out = append(out, PriceLevel{Price: l.Price, Qty: l.Qty})
	}
	return out
}

// applyLevelUpdates merges updates into a price->qty map, the way the
// teacher's orderbook.Side map merges Binance depth updates: a quantity
// of "0" deletes the price, any other quantity sets/replaces it.
func applyLevelUpdates(current []PriceLevel, updates []event.Level) []PriceLevel {
	byPrice := make(map[string]string, len(current)+len(updates))
	for _, lv := range current {
		byPrice[lv.Price] = lv.Qty
	}
	for _, u := range updates {
		if u.Qty == "0" {
			delete(byPrice, u.Price)
			continue
		}
		byPrice[u.Price] = u.Qty
	}
	out := make([]PriceLevel, 0, len(byPrice))
	for p, q := range byPrice {
		out = append(out, PriceLevel{Price: p, Qty: q})
	}
	return out
}
