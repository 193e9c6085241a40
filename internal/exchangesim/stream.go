package exchangesim

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tradecore/internal/event"
	"tradecore/internal/seqnum"
)

// subscriptionKey mirrors transport's canonical key: channel plus
// sorted parameter pairs.
func subscriptionKey(channel string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(channel)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	return b.String()
}

// stream is one server-side logical stream: its event log (for
// snapshot_since replay) and its current subscriber set.
type stream struct {
	mu      sync.Mutex
	channel event.Channel
	symbol  string
	lastSeq seqnum.Seq
	log     []event.Event
	subs    map[*clientConn]struct{}
}

func newStream(channel event.Channel, symbol string) *stream {
	return &stream{
		channel: channel,
		symbol:  symbol,
		subs:    make(map[*clientConn]struct{}),
	}
}

func (s *stream) addSub(c *clientConn) {
	s.mu.Lock()
	s.subs[c] = struct{}{}
	s.mu.Unlock()
}

func (s *stream) removeSub(c *clientConn) {
	s.mu.Lock()
	delete(s.subs, c)
	s.mu.Unlock()
}

func (s *stream) subscribers() []*clientConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*clientConn, 0, len(s.subs))
	for c := range s.subs {
		out = append(out, c)
	}
	return out
}

// append assigns the next sequence to ev, records it in the replay
// log, and returns the sequenced copy.
func (s *stream) append(ev event.Event) event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeq = s.lastSeq.Next()
	ev.Sequence = s.lastSeq
	s.log = append(s.log, ev)
	return ev
}

// replaySince returns every logged event with sequence > since, in
// ascending order.
func (s *stream) replaySince(since seqnum.Seq) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, 0)
	for _, ev := range s.log {
		if ev.Sequence.Greater(since) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *stream) currentSeq() seqnum.Seq {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

func newEventID() string {
	return uuid.NewString()
}

func marshalOrNil(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
