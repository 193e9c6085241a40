package store

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"tradecore/internal/event"
	"tradecore/internal/seqnum"
)

func TestOrderedSet_EvictsOldestBeyondCap(t *testing.T) {
	s := newOrderedSet()
	for i := 0; i < dedupCap+5; i++ {
		s.Add("id-" + strconv.Itoa(i))
	}
	require.Len(t, s.order, dedupCap)
	require.False(t, s.Has("id-0"))
	require.True(t, s.Has("id-"+strconv.Itoa(dedupCap+4)))
}

func TestDeltaBuffer_PushOverflow(t *testing.T) {
	b := newDeltaBuffer()
	for i := 0; i < bufferCap; i++ {
		overflowed := b.Push(event.Event{EventID: strconv.Itoa(i), Sequence: seqnum.FromInt64(int64(i))})
		require.False(t, overflowed)
	}
	overflowed := b.Push(event.Event{EventID: "one-too-many", Sequence: seqnum.FromInt64(int64(bufferCap))})
	require.True(t, overflowed)
}

func TestDeltaBuffer_DrainApplicableHaltsOnGap(t *testing.T) {
	b := newDeltaBuffer()
	b.Push(event.Event{EventID: "e103", Sequence: seqnum.FromInt64(103)})
	b.Push(event.Event{EventID: "e101", Sequence: seqnum.FromInt64(101)})
	b.Push(event.Event{EventID: "e100dup", Sequence: seqnum.FromInt64(100)})

	applicable := b.drainApplicable(seqnum.FromInt64(100))
	require.Len(t, applicable, 1)
	require.Equal(t, "101", applicable[0].Sequence.String())
	// 103 remains buffered; the stale 100 duplicate was discarded.
	require.Equal(t, 1, b.Len())
	require.Equal(t, "103", b.entries[0].Sequence.String())
}
