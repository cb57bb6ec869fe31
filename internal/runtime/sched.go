package runtime

import (
	"container/heap"
	"math"
	"sort"

	"github.com/roach88/pulsegrid/internal/grid"
)

// Scheduler is the tick-indexed event queue abstraction.
//
// Implementations must preserve FIFO order (by Seq) among events sharing a
// tick and must never block: overflow policy lives in the engine.
type Scheduler interface {
	Enqueue(*Event)
	// PopTick removes and returns all events sharing the minimum tick.
	PopTick() (float64, []*Event)
	// PopUntil removes and returns every event with tick < t, sorted by
	// (tick, seq).
	PopUntil(t float64) []*Event
	PeekMinTick() (float64, bool)
	RemoveByNode(grid.NodeID) int
	RemoveByEdge(grid.EdgeID) int
	// TakeByEdge removes and returns the in-flight events on one edge,
	// for rescheduling.
	TakeByEdge(grid.EdgeID) []*Event
	// InFlight returns all queued events sorted by (tick, seq) without
	// removing them.
	InFlight() []*Event
	Len() int
	Clear()
}

// DefaultRingHorizon is the ring width in integer ticks. Events beyond it
// spill to the long-tail heap and migrate into the ring as the base
// advances.
const DefaultRingHorizon = 1024

// ringScheduler is a flat tick-indexed ring plus a long-tail min-heap.
// Normal patches have dense tick distributions, so almost every event
// lands in the ring with O(1) enqueue; only extreme delays touch the heap.
type ringScheduler struct {
	horizon int
	base    int // floor tick of the earliest ring slot
	slots   [][]*Event
	tail    eventHeap
	count   int
}

// NewRingScheduler creates the default scheduler.
func NewRingScheduler(horizon int) Scheduler {
	if horizon <= 0 {
		horizon = DefaultRingHorizon
	}
	return &ringScheduler{
		horizon: horizon,
		slots:   make([][]*Event, horizon),
	}
}

func floorTick(t float64) int {
	f := int(math.Floor(t))
	if f < 0 {
		f = 0
	}
	return f
}

func (s *ringScheduler) Enqueue(ev *Event) {
	f := floorTick(ev.Tick)
	if f < s.base {
		// Late relative to the ring base: park it in the base slot so it
		// pops immediately. Times are never shifted.
		f = s.base
	}
	if f >= s.base+s.horizon {
		heap.Push(&s.tail, ev)
		s.count++
		return
	}
	idx := f % s.horizon
	s.slots[idx] = append(s.slots[idx], ev)
	s.count++
}

func (s *ringScheduler) Len() int { return s.count }

func (s *ringScheduler) Clear() {
	s.slots = make([][]*Event, s.horizon)
	s.tail = nil
	s.count = 0
}

// advanceTo moves the ring base forward, draining newly reachable tail
// events into the ring.
func (s *ringScheduler) advanceTo(base int) {
	if base <= s.base {
		return
	}
	s.base = base
	for len(s.tail) > 0 {
		minEv := s.tail[0]
		f := floorTick(minEv.Tick)
		if f >= s.base+s.horizon {
			break
		}
		heap.Pop(&s.tail)
		if f < s.base {
			f = s.base
		}
		idx := f % s.horizon
		s.slots[idx] = append(s.slots[idx], minEv)
	}
}

func (s *ringScheduler) PeekMinTick() (float64, bool) {
	if s.count == 0 {
		return 0, false
	}
	min := math.Inf(1)
	found := false
	for f := s.base; f < s.base+s.horizon; f++ {
		bucket := s.slots[f%s.horizon]
		for _, ev := range bucket {
			if ev.Tick < min {
				min = ev.Tick
				found = true
			}
		}
		if found {
			// Later slots can only hold later ticks.
			break
		}
	}
	if len(s.tail) > 0 && (!found || s.tail[0].Tick < min) {
		min = s.tail[0].Tick
		found = true
	}
	return min, found
}

func (s *ringScheduler) PopTick() (float64, []*Event) {
	min, ok := s.PeekMinTick()
	if !ok {
		return 0, nil
	}
	f := floorTick(min)
	if f < s.base {
		f = s.base
	}
	if f >= s.base+s.horizon {
		// The minimum lives in the tail; the ring is necessarily empty of
		// anything earlier, so jump the base forward to reach it.
		s.advanceTo(f)
	}
	idx := f % s.horizon
	bucket := s.slots[idx]

	var popped, rest []*Event
	for _, ev := range bucket {
		if ev.Tick == min {
			popped = append(popped, ev)
		} else {
			rest = append(rest, ev)
		}
	}
	s.slots[idx] = rest
	s.count -= len(popped)

	sortEvents(popped)
	// The ring base may lag; pull it up to the popped floor so the tail
	// drains.
	s.advanceTo(f)
	return min, popped
}

func (s *ringScheduler) PopUntil(t float64) []*Event {
	var out []*Event
	for {
		min, ok := s.PeekMinTick()
		if !ok || min >= t {
			break
		}
		_, batch := s.PopTick()
		out = append(out, batch...)
	}
	s.advanceTo(floorTick(t))
	return out
}

func (s *ringScheduler) RemoveByNode(id grid.NodeID) int {
	return s.removeWhere(func(ev *Event) bool { return ev.Node == id })
}

func (s *ringScheduler) RemoveByEdge(id grid.EdgeID) int {
	return s.removeWhere(func(ev *Event) bool { return ev.Edge == id && id != "" })
}

func (s *ringScheduler) TakeByEdge(id grid.EdgeID) []*Event {
	var taken []*Event
	s.removeWhereCollect(func(ev *Event) bool { return ev.Edge == id && id != "" }, &taken)
	sortEvents(taken)
	return taken
}

func (s *ringScheduler) removeWhere(pred func(*Event) bool) int {
	var taken []*Event
	s.removeWhereCollect(pred, &taken)
	return len(taken)
}

func (s *ringScheduler) removeWhereCollect(pred func(*Event) bool, taken *[]*Event) {
	for i := range s.slots {
		kept := s.slots[i][:0]
		for _, ev := range s.slots[i] {
			if pred(ev) {
				*taken = append(*taken, ev)
			} else {
				kept = append(kept, ev)
			}
		}
		s.slots[i] = kept
	}
	var keptTail eventHeap
	for _, ev := range s.tail {
		if pred(ev) {
			*taken = append(*taken, ev)
		} else {
			keptTail = append(keptTail, ev)
		}
	}
	heap.Init(&keptTail)
	s.tail = keptTail
	s.count -= len(*taken)
}

func (s *ringScheduler) InFlight() []*Event {
	out := make([]*Event, 0, s.count)
	for _, bucket := range s.slots {
		out = append(out, bucket...)
	}
	out = append(out, s.tail...)
	sortEvents(out)
	return out
}

func sortEvents(evs []*Event) {
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].Tick != evs[j].Tick {
			return evs[i].Tick < evs[j].Tick
		}
		return evs[i].Seq < evs[j].Seq
	})
}

// eventHeap is a min-heap by (tick, seq) for the long tail.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Tick != h[j].Tick {
		return h[i].Tick < h[j].Tick
	}
	return h[i].Seq < h[j].Seq
}
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(*Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}
