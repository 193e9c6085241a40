package event

// Level is a single (price, quantity) price-level pair, both decimal
// strings per spec.md §3.2.
type Level struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

// OrderbookSnapshotPayload is the payload of a snapshot event on the
// market_data channel's orderbook stream.
type OrderbookSnapshotPayload struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

// OrderbookDeltaPayload is the payload of a delta event on the
// market_data channel's orderbook stream. Either side may be omitted.
type OrderbookDeltaPayload struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids,omitempty"`
	Asks   []Level `json:"asks,omitempty"`
}

// TickerDeltaPayload carries whichever ticker fields changed; spec.md
// §4.2.5 requires missing fields to retain their prior value. Pointers
// distinguish "absent" from "present and equal to zero value".
type TickerDeltaPayload struct {
	Symbol     string  `json:"symbol"`
	LastPrice  *string `json:"last_price,omitempty"`
	Volume24h  *string `json:"volume_24h,omitempty"`
	High24h    *string `json:"high_24h,omitempty"`
	Low24h     *string `json:"low_24h,omitempty"`
	MarkPrice  *string `json:"mark_price,omitempty"`
}

// TradePayload carries a single executed trade.
type TradePayload struct {
	Symbol    string `json:"symbol"`
	TradeID   string `json:"trade_id"`
	Price     string `json:"price"`
	Qty       string `json:"qty"`
	Side      string `json:"side"` // "buy" | "sell"
	Timestamp string `json:"timestamp"`
}

// AccountOrder is a single order record held by the account projection.
type AccountOrder struct {
	OrderID string `json:"order_id"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Qty     string `json:"qty"`
	Status  string `json:"status"`
}

// AccountSnapshotPayload replaces the account projection wholesale.
type AccountSnapshotPayload struct {
	AccountID string            `json:"account_id"`
	Balances  map[string]string `json:"balances"`
	Orders    []AccountOrder    `json:"orders"`
}

// AccountDeltaPayload merges balance updates field-wise and optionally
// upserts a single order.
type AccountDeltaPayload struct {
	AccountID string            `json:"account_id"`
	Balances  map[string]string `json:"balances,omitempty"`
	Order     *AccountOrder     `json:"order,omitempty"`
}
