package store

// GetOrderbook returns a deep copy of the current orderbook projection
// for symbol, or ok=false if none has been established yet.
func (s *Store) GetOrderbook(symbol string) (Orderbook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ob, ok := s.orderbooks[symbol]
	if !ok {
		return Orderbook{}, false
	}
	return ob.Clone(), true
}

// GetTicker returns a copy of the current ticker projection for symbol,
// or ok=false if none has been established yet.
func (s *Store) GetTicker(symbol string) (Ticker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickers[symbol]
	return t, ok
}

// GetTrades returns a copy of the bounded trade tape for symbol,
// oldest first.
func (s *Store) GetTrades(symbol string) []Trade {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.trades[symbol]
	out := make([]Trade, len(cur))
	copy(out, cur)
	return out
}

// GetAccount returns a deep copy of the single authenticated account's
// projection, or ok=false if no account snapshot has been applied yet.
func (s *Store) GetAccount() (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.account == nil {
		return Account{}, false
	}
	return s.account.Clone(), true
}

// GetState returns a deep copy of every projection currently held.
func (s *Store) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := State{
		Orderbooks: make(map[string]Orderbook, len(s.orderbooks)),
		Tickers:    make(map[string]Ticker, len(s.tickers)),
		Trades:     make(map[string][]Trade, len(s.trades)),
	}
	for sym, ob := range s.orderbooks {
		out.Orderbooks[sym] = ob.Clone()
	}
	for sym, t := range s.tickers {
		out.Tickers[sym] = t
	}
	for sym, trades := range s.trades {
		cp := make([]Trade, len(trades))
		copy(cp, trades)
		out.Trades[sym] = cp
	}
	if s.account != nil {
		acc := s.account.Clone()
		out.Account = &acc
	}
	return out
}
