package store

import (
	"sort"

	"tradecore/internal/event"
	"tradecore/internal/seqnum"
)

// dedupCap and bufferCap are the bounds of spec.md §3.3/§3.4: the dedup
// set and the per-stream delta buffer are both capped at 10,000 entries.
const (
	dedupCap  = 10_000
	bufferCap = 10_000
)

// orderedSet is a bounded, insertion-ordered set of event IDs used for
// duplicate suppression (spec.md §4.2.7). No library in the retrieved
// corpus implements a bounded insertion-ordered set (see DESIGN.md), so
// this is a small hand-rolled structure: a map for O(1) membership plus
// a slice recording insertion order for O(1)-amortized oldest-eviction.
type orderedSet struct {
	members map[string]struct{}
	order   []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{members: make(map[string]struct{})}
}

func (s *orderedSet) Has(id string) bool {
	_, ok := s.members[id]
	return ok
}

// Add inserts id and evicts from the oldest end until the set is back
// at or under dedupCap, per spec.md §4.2.7.
func (s *orderedSet) Add(id string) {
	if s.Has(id) {
		return
	}
	s.members[id] = struct{}{}
	s.order = append(s.order, id)

	for len(s.order) > dedupCap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.members, oldest)
	}
}

// seqMeta is the per-domain-key sequence bookkeeping of spec.md §3.3.
type seqMeta struct {
	lastSeq seqnum.Seq
	seenIDs *orderedSet
}

func newSeqMeta() *seqMeta {
	return &seqMeta{lastSeq: seqnum.Zero, seenIDs: newOrderedSet()}
}

// deltaBuffer is the bounded, per-domain-key buffer of spec.md §3.4,
// holding deltas that arrived ahead of the expected sequence.
type deltaBuffer struct {
	entries []event.Event
}

func newDeltaBuffer() *deltaBuffer {
	return &deltaBuffer{}
}

func (b *deltaBuffer) Len() int { return len(b.entries) }

// Push appends ev. It reports whether the push would overflow bufferCap;
// on overflow the caller is responsible for clearing the buffer and
// issuing a full resync per spec.md §4.2.2 step 6.
func (b *deltaBuffer) Push(ev event.Event) (overflowed bool) {
	if len(b.entries) >= bufferCap {
		return true
	}
	b.entries = append(b.entries, ev)
	return false
}

func (b *deltaBuffer) Clear() {
	b.entries = nil
}

// drainApplicable sorts the buffer by ascending sequence and returns the
// prefix of entries that are either stale duplicates (dropped silently)
// or immediately applicable given lastSeq, removing all consumed and
// discarded entries from the buffer. It halts at the first entry that
// still represents a gap, per spec.md §4.2.4.
func (b *deltaBuffer) drainApplicable(lastSeq seqnum.Seq) []event.Event {
	if len(b.entries) == 0 {
		return nil
	}

	sortEventsBySequence(b.entries)

	var toApply []event.Event
	i := 0
	for ; i < len(b.entries); i++ {
		ev := b.entries[i]
		if ev.Sequence.LessEqual(lastSeq) {
			// Stale duplicate surfaced by the flush; discard silently.
			continue
		}
		if ev.Sequence.Equal(lastSeq.Next()) {
			toApply = append(toApply, ev)
			lastSeq = ev.Sequence
			continue
		}
		// Still a gap; stop scanning.
		break
	}
	b.entries = b.entries[i:]
	return toApply
}

func sortEventsBySequence(evs []event.Event) {
	sort.Slice(evs, func(i, j int) bool {
		return evs[i].Sequence.Less(evs[j].Sequence)
	})
}
