// Package store implements the event-sourced state store of spec.md §4.2:
// deduplication, gap detection, out-of-order buffering, pure reducers,
// and snapshot-recovery escalation, all behind a synchronous Dispatch.
package store

import (
	"sync"

	"go.uber.org/zap"

	"tradecore/internal/event"
	"tradecore/internal/seqnum"
)

// TradeTapeCap is the per-symbol trade tape cap of spec.md §3.2/§9.
const TradeTapeCap = 500

// State is a read-only aggregate snapshot of every projection, returned
// by GetState.
type State struct {
	Orderbooks map[string]Orderbook
	Tickers    map[string]Ticker
	Trades     map[string][]Trade
	Account    *Account
}

// Store is the event-sourced state store. All public methods are safe
// for concurrent use: an internal mutex serializes Dispatch calls
// arriving from the transport's read pump against read accessors called
// from other goroutines. This is an implementation concession for a
// multi-goroutine Go host (see SPEC_FULL.md §5) — it does not change the
// single-threaded cooperative semantics spec.md §5 requires: no two
// Dispatch calls ever interleave their effects on a projection, and
// listeners only ever observe a fully-committed snapshot (the mutex is
// released before any listener runs, so a listener calling back into a
// read accessor cannot deadlock against Dispatch).
type Store struct {
	mu sync.Mutex

	log     *zap.Logger
	metrics *Metrics

	orderbooks map[string]Orderbook
	tickers    map[string]Ticker
	trades     map[string][]Trade
	account    *Account

	seqMetas map[string]*seqMeta
	buffers  map[string]*deltaBuffer

	stateListeners    map[int]func()
	snapshotListeners map[int]func(SnapshotRequest)
	nextListenerID    int
}

// New constructs an empty Store. logger and metrics may be nil (a no-op
// zap.Logger is substituted; nil *Metrics is valid and simply skips
// recording).
func New(logger *zap.Logger, metrics *Metrics) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		log:               logger,
		metrics:           metrics,
		orderbooks:        make(map[string]Orderbook),
		tickers:           make(map[string]Ticker),
		trades:            make(map[string][]Trade),
		seqMetas:          make(map[string]*seqMeta),
		buffers:           make(map[string]*deltaBuffer),
		stateListeners:    make(map[int]func()),
		snapshotListeners: make(map[int]func(SnapshotRequest)),
	}
}

// OnStateChange registers a listener invoked after every successful
// mutation. The returned function unsubscribes it.
func (s *Store) OnStateChange(listener func()) func() {
	s.mu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.stateListeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.stateListeners, id)
		s.mu.Unlock()
	}
}

// OnRequestSnapshot registers a callback invoked when the store needs a
// replay. The returned function unsubscribes it.
func (s *Store) OnRequestSnapshot(listener func(SnapshotRequest)) func() {
	s.mu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.snapshotListeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.snapshotListeners, id)
		s.mu.Unlock()
	}
}

func domainKeyFor(channel event.Channel, symbol string) string {
	if channel == event.ChannelAccount {
		return "account"
	}
	return string(channel) + "::" + symbol
}

// outcome accumulates the side effects of one Dispatch call, so that
// listener callbacks can run after the internal mutex is released.
type outcome struct {
	stateChanged     bool
	snapshotRequests []SnapshotRequest
}

// Dispatch routes ev through the pipeline of spec.md §4.2.2. It never
// panics or returns an error to the caller; every fault is reflected in
// metrics or converted into a recovery request, per spec.md §7.
func (s *Store) Dispatch(ev event.Event) {
	s.mu.Lock()
	var out outcome
	s.dispatchLocked(ev, &out)
	s.mu.Unlock()

	if out.stateChanged {
		s.fireStateChange()
	}
	for _, req := range out.snapshotRequests {
		s.fireSnapshotRequest(req)
	}
}

func (s *Store) dispatchLocked(ev event.Event, out *outcome) {
	symbol := event.Symbol(ev)
	domainKey := domainKeyFor(ev.Source, symbol)

	meta := s.seqMetas[domainKey]
	if meta == nil {
		meta = newSeqMeta()
		s.seqMetas[domainKey] = meta
	}
	buf := s.buffers[domainKey]
	if buf == nil {
		buf = newDeltaBuffer()
		s.buffers[domainKey] = buf
	}

	if ev.EventType == event.KindSnapshot {
		s.applySnapshot(domainKey, symbol, ev, meta, buf, out)
		return
	}

	s.dispatchDelta(domainKey, symbol, ev, meta, buf, out)
}

// applySnapshot implements spec.md §4.2.2's snapshot branch: snapshots
// are always accepted, regardless of sequence.
func (s *Store) applySnapshot(domainKey, symbol string, ev event.Event, meta *seqMeta, buf *deltaBuffer, out *outcome) {
	changed, err := s.reduceAndStoreSnapshot(ev.Source, symbol, ev)
	if err != nil {
		s.log.Warn("dropping snapshot with unexpected payload",
			zap.String("domain_key", domainKey), zap.Error(err))
		return
	}

	meta.lastSeq = ev.Sequence
	meta.seenIDs.Add(ev.EventID)
	s.metrics.recordApplied(domainKey)
	if changed {
		out.stateChanged = true
	}

	s.flushBuffer(domainKey, symbol, ev.Source, meta, buf)
}

// dispatchDelta implements spec.md §4.2.2's delta branch.
func (s *Store) dispatchDelta(domainKey, symbol string, ev event.Event, meta *seqMeta, buf *deltaBuffer, out *outcome) {
	// Step 1: duplicate detection.
	if meta.seenIDs.Has(ev.EventID) || ev.Sequence.LessEqual(meta.lastSeq) {
		s.metrics.recordIgnored(domainKey)
		return
	}

	expected := meta.lastSeq.Next()

	switch {
	case ev.Sequence.Equal(expected):
		if err := s.reduceAndStoreDelta(ev.Source, symbol, ev); err != nil {
			s.log.Warn("dropping delta with unexpected payload",
				zap.String("domain_key", domainKey), zap.Error(err))
			return
		}
		meta.lastSeq = ev.Sequence
		meta.seenIDs.Add(ev.EventID)
		s.metrics.recordApplied(domainKey)
		out.stateChanged = true

		s.flushBuffer(domainKey, symbol, ev.Source, meta, buf)

	case ev.Sequence.Greater(expected) && !meta.lastSeq.IsZero():
		// Gap: buffer and escalate from the last known-good sequence,
		// unless the buffer overflowed, which escalates to a full
		// resync (sinceSeq=0) on its own and supersedes this request.
		s.metrics.recordGap(domainKey)
		if overflowed := s.pushToBuffer(domainKey, symbol, ev, buf, out); !overflowed {
			out.snapshotRequests = append(out.snapshotRequests, s.snapshotRequest(ev.Source, symbol, meta.lastSeq))
		}

	case ev.Sequence.Greater(expected) && meta.lastSeq.IsZero():
		// No snapshot applied yet on this stream: buffer without
		// counting a gap, and request a fresh subscription snapshot,
		// unless the buffer overflow already requested one.
		if overflowed := s.pushToBuffer(domainKey, symbol, ev, buf, out); !overflowed {
			out.snapshotRequests = append(out.snapshotRequests, s.snapshotRequest(ev.Source, symbol, seqnum.Zero))
		}
	}
}

// pushToBuffer appends ev to the domain key's buffer, forcing a full
// resync on overflow per spec.md §4.2.2 step 6. It reports whether the
// push overflowed, so the caller can skip its own escalation request:
// on overflow, pushToBuffer has already appended the sinceSeq=0 full
// resync request, and it must be the only request this dispatch emits.
func (s *Store) pushToBuffer(domainKey, symbol string, ev event.Event, buf *deltaBuffer, out *outcome) (overflowed bool) {
	if buf.Push(ev) {
		buf.Clear()
		s.metrics.setBufferSize(domainKey, 0)
		s.log.Warn("delta buffer overflow, forcing full resync",
			zap.String("domain_key", domainKey))
		out.snapshotRequests = append(out.snapshotRequests, s.snapshotRequest(ev.Source, symbol, seqnum.Zero))
		return true
	}
	s.metrics.setBufferSize(domainKey, buf.Len())
	return false
}

// flushBuffer implements spec.md §4.2.4: after any successful apply or
// snapshot, drain the buffer of everything that has become applicable.
func (s *Store) flushBuffer(domainKey, symbol string, channel event.Channel, meta *seqMeta, buf *deltaBuffer) {
	for {
		applicable := buf.drainApplicable(meta.lastSeq)
		s.metrics.setBufferSize(domainKey, buf.Len())
		if len(applicable) == 0 {
			return
		}
		for _, ev := range applicable {
			if err := s.reduceAndStoreDelta(channel, symbol, ev); err != nil {
				s.log.Warn("dropping buffered delta with unexpected payload",
					zap.String("domain_key", domainKey), zap.Error(err))
				continue
			}
			meta.lastSeq = ev.Sequence
			meta.seenIDs.Add(ev.EventID)
			s.metrics.recordApplied(domainKey)
		}
	}
}

func (s *Store) snapshotRequest(channel event.Channel, symbol string, since seqnum.Seq) SnapshotRequest {
	req := SnapshotRequest{Channel: string(channel), SinceSeq: since}
	if channel == event.ChannelAccount {
		req.Params = map[string]string{}
	} else {
		req.Params = map[string]string{"symbol": symbol}
	}
	return req
}

func (s *Store) fireStateChange() {
	s.mu.Lock()
	listeners := make([]func(), 0, len(s.stateListeners))
	for _, l := range s.stateListeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l()
	}
}

func (s *Store) fireSnapshotRequest(req SnapshotRequest) {
	s.mu.Lock()
	listeners := make([]func(SnapshotRequest), 0, len(s.snapshotListeners))
	for _, l := range s.snapshotListeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(req)
	}
}
