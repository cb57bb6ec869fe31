package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingScheduler_PopTickKeepsFIFO(t *testing.T) {
	s := NewRingScheduler(16)
	s.Enqueue(&Event{Tick: 2, Node: "a", Seq: 1})
	s.Enqueue(&Event{Tick: 2, Node: "b", Seq: 2})
	s.Enqueue(&Event{Tick: 1, Node: "c", Seq: 3})

	tick, batch := s.PopTick()
	assert.Equal(t, 1.0, tick)
	require.Len(t, batch, 1)
	assert.Equal(t, "c", string(batch[0].Node))

	tick, batch = s.PopTick()
	assert.Equal(t, 2.0, tick)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", string(batch[0].Node), "enqueue order preserved within a tick")
	assert.Equal(t, "b", string(batch[1].Node))
}

func TestRingScheduler_FractionalTicksShareASlot(t *testing.T) {
	s := NewRingScheduler(16)
	s.Enqueue(&Event{Tick: 3.7, Seq: 1})
	s.Enqueue(&Event{Tick: 3.2, Seq: 2})

	tick, batch := s.PopTick()
	assert.Equal(t, 3.2, tick)
	require.Len(t, batch, 1)

	tick, batch = s.PopTick()
	assert.Equal(t, 3.7, tick)
	require.Len(t, batch, 1)
}

func TestRingScheduler_PopUntilIsHalfOpen(t *testing.T) {
	s := NewRingScheduler(16)
	s.Enqueue(&Event{Tick: 1, Seq: 1})
	s.Enqueue(&Event{Tick: 2, Seq: 2})
	s.Enqueue(&Event{Tick: 2.5, Seq: 3})

	popped := s.PopUntil(2)
	require.Len(t, popped, 1)
	assert.Equal(t, 1.0, popped[0].Tick)
	assert.Equal(t, 2, s.Len())
}

func TestRingScheduler_LongTailSpillsToHeap(t *testing.T) {
	s := NewRingScheduler(8)
	s.Enqueue(&Event{Tick: 1, Seq: 1})
	s.Enqueue(&Event{Tick: 500, Seq: 2}) // far beyond the 8-tick ring

	assert.Equal(t, 2, s.Len())

	min, ok := s.PeekMinTick()
	require.True(t, ok)
	assert.Equal(t, 1.0, min)

	popped := s.PopUntil(2)
	require.Len(t, popped, 1)

	// The tail event surfaces once the base advances far enough.
	popped = s.PopUntil(501)
	require.Len(t, popped, 1)
	assert.Equal(t, 500.0, popped[0].Tick)
	assert.Equal(t, 0, s.Len())
}

func TestRingScheduler_RemoveByNodeAndEdge(t *testing.T) {
	s := NewRingScheduler(16)
	s.Enqueue(&Event{Tick: 1, Node: "a", Edge: "e1", Seq: 1})
	s.Enqueue(&Event{Tick: 2, Node: "b", Edge: "e2", Seq: 2})
	s.Enqueue(&Event{Tick: 900, Node: "a", Edge: "e3", Seq: 3})

	assert.Equal(t, 2, s.RemoveByNode("a"), "ring and heap are both swept")
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.RemoveByEdge("e2"))
	assert.Equal(t, 0, s.Len())
}

func TestRingScheduler_TakeByEdge(t *testing.T) {
	s := NewRingScheduler(16)
	s.Enqueue(&Event{Tick: 3, Node: "a", Edge: "e1", Seq: 1})
	s.Enqueue(&Event{Tick: 5, Node: "b", Edge: "e1", Seq: 2})
	s.Enqueue(&Event{Tick: 4, Node: "c", Edge: "e2", Seq: 3})

	taken := s.TakeByEdge("e1")
	require.Len(t, taken, 2)
	assert.Equal(t, 3.0, taken[0].Tick)
	assert.Equal(t, 5.0, taken[1].Tick)
	assert.Equal(t, 1, s.Len())
}

func TestRingScheduler_SelfEventsSurviveEdgeRemoval(t *testing.T) {
	s := NewRingScheduler(16)
	s.Enqueue(&Event{Tick: 1, Node: "p", Edge: "", Seq: 1})

	assert.Equal(t, 0, s.RemoveByEdge(""))
	assert.Equal(t, 1, s.Len())
}

func TestRingScheduler_InFlightSorted(t *testing.T) {
	s := NewRingScheduler(16)
	s.Enqueue(&Event{Tick: 5, Seq: 1})
	s.Enqueue(&Event{Tick: 1, Seq: 2})
	s.Enqueue(&Event{Tick: 5, Seq: 3})

	evs := s.InFlight()
	require.Len(t, evs, 3)
	assert.Equal(t, 1.0, evs[0].Tick)
	assert.Equal(t, int64(1), evs[1].Seq)
	assert.Equal(t, int64(3), evs[2].Seq)
	assert.Equal(t, 3, s.Len(), "InFlight must not consume")
}

func TestRingScheduler_Clear(t *testing.T) {
	s := NewRingScheduler(8)
	s.Enqueue(&Event{Tick: 1, Seq: 1})
	s.Enqueue(&Event{Tick: 100, Seq: 2})
	s.Clear()
	assert.Equal(t, 0, s.Len())
	_, ok := s.PeekMinTick()
	assert.False(t, ok)
}
