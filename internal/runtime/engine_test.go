package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pulsegrid/internal/build"
	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/model"
	"github.com/roach88/pulsegrid/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.MustNew(registry.Builtin()...)
}

// compileGraph builds a compiled graph from records and explicit delays.
func compileGraph(t *testing.T, reg *registry.Registry, nodes []model.NodeRecord, edges []model.EdgeRecord, delays map[grid.EdgeID]float64) *build.Graph {
	t.Helper()
	snap := &model.Snapshot{Nodes: nodes, Edges: edges}
	res := build.Compile(snap, reg, delays)
	require.True(t, res.OK, "compile errors: %v", res.Errors)
	return res.Graph
}

func TestQueryWindow_SinglePulse(t *testing.T) {
	reg := testRegistry(t)
	g := compileGraph(t, reg,
		[]model.NodeRecord{
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 3, Y: 0}},
		},
		[]model.EdgeRecord{
			{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		},
		map[grid.EdgeID]float64{"e1": 2},
	)

	e := New(reg, WithMinDelayTicks(1e-3))
	e.SetGraph(g)
	e.ResetPulses()

	out := e.QueryWindow(0, 10)
	require.Len(t, out, 2, "pulse fires at 0 and 4; arrivals at 2 and 6")
	assert.Equal(t, 2.0, out[0].Tick)
	assert.Equal(t, 6.0, out[1].Tick)
	assert.Equal(t, 1, out[0].Value)
	assert.Equal(t, 1, out[1].Value)
}

func TestQueryWindow_SpeedScaling(t *testing.T) {
	reg := testRegistry(t)
	g := compileGraph(t, reg,
		[]model.NodeRecord{
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "s1", Type: "speed", Pos: grid.Point{X: 0, Y: 0}, Param: 4},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 3, Y: 0}},
		},
		[]model.EdgeRecord{
			{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "s1", Slot: 0}},
			{ID: "e2", From: model.PortEnd{Node: "s1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		},
		// Zero-length hop into the speed node, length 2 after it.
		map[grid.EdgeID]float64{"e1": 0, "e2": 2},
	)

	e := New(reg, WithMinDelayTicks(1e-3))
	e.SetGraph(g)
	e.ResetPulses()

	out := e.QueryWindow(0, 10)
	require.Len(t, out, 3)
	// Each hop: min-delay epsilon into the speed node, then 2/4 ticks.
	assert.InDelta(t, 0.5, out[0].Tick, 0.01)
	assert.InDelta(t, 4.5, out[1].Tick, 0.01)
	assert.InDelta(t, 8.5, out[2].Tick, 0.01)
}

func TestQueryWindow_ControlRunsBeforeSignal(t *testing.T) {
	reg := testRegistry(t)
	g := compileGraph(t, reg,
		[]model.NodeRecord{
			{ID: "sig", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "ctl", Type: "pulse", Pos: grid.Point{X: 0, Y: 4}, Param: 5},
			{ID: "set", Type: "set", Pos: grid.Point{X: 4, Y: 0}},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 8, Y: 0}},
		},
		[]model.EdgeRecord{
			// Signal edge enqueues first; control-first must still win.
			{ID: "es", From: model.PortEnd{Node: "sig", Slot: 0}, To: model.PortEnd{Node: "set", Slot: 0}},
			{ID: "ec", From: model.PortEnd{Node: "ctl", Slot: 0}, To: model.PortEnd{Node: "set", Slot: 1}},
			{ID: "eo", From: model.PortEnd{Node: "set", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		},
		map[grid.EdgeID]float64{"es": 2, "ec": 2, "eo": 1},
	)

	e := New(reg, WithMinDelayTicks(1e-3))
	e.SetGraph(g)
	e.ResetPulses()

	out := e.QueryWindow(0, 4)
	require.Len(t, out, 1)
	assert.Equal(t, 3.0, out[0].Tick)
	assert.Equal(t, 5, out[0].Value, "signal must observe the param written by the same-tick control")
}

func TestQueryWindow_EventsWithinWindowSorted(t *testing.T) {
	reg := testRegistry(t)
	g := compileGraph(t, reg,
		[]model.NodeRecord{
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 3, Y: 0}},
		},
		[]model.EdgeRecord{
			{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		},
		map[grid.EdgeID]float64{"e1": 1},
	)

	e := New(reg)
	e.SetGraph(g)
	e.ResetPulses()

	out := e.QueryWindow(0, 40)
	require.NotEmpty(t, out)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1].Tick, out[i].Tick)
	}
	for _, ev := range out {
		assert.GreaterOrEqual(t, ev.Tick, 0.0)
		assert.Less(t, ev.Tick, 40.0)
	}
}

func TestQueryWindow_ZeroDelayCycleDoesNotHang(t *testing.T) {
	reg := testRegistry(t)
	// pulse -> speed -> speed -> back to first speed's input is not
	// wirable (one edge per port), so cycle through two speeds.
	g := compileGraph(t, reg,
		[]model.NodeRecord{
			{ID: "a", Type: "speed", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "b", Type: "speed", Pos: grid.Point{X: 4, Y: 0}},
		},
		[]model.EdgeRecord{
			{ID: "ab", From: model.PortEnd{Node: "a", Slot: 0}, To: model.PortEnd{Node: "b", Slot: 0}},
			{ID: "ba", From: model.PortEnd{Node: "b", Slot: 0}, To: model.PortEnd{Node: "a", Slot: 0}},
		},
		map[grid.EdgeID]float64{"ab": 0, "ba": 0},
	)

	e := New(reg, WithMinDelayTicks(0.25))
	e.SetGraph(g)
	// Seed one pulse into the cycle by hand.
	e.enqueue(&Event{Tick: 0, Node: "a", Edge: "", Role: grid.RoleSignal, Pulse: grid.Pulse{Value: 1, Speed: 1}})

	out := e.QueryWindow(0, 2)
	// The cycle spins at the min-delay floor; no outputs, but the window
	// terminates and the queue still holds the circulating pulse.
	assert.Empty(t, out)
	assert.Greater(t, e.QueueLen(), 0)
}

func TestQueryWindow_RandomIsDeterministicPerSeed(t *testing.T) {
	reg := testRegistry(t)
	mk := func(seed uint64) []OutputEvent {
		g := compileGraph(t, reg,
			[]model.NodeRecord{
				{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
				{ID: "r1", Type: "random", Pos: grid.Point{X: 3, Y: 0}},
				{ID: "o1", Type: "output", Pos: grid.Point{X: 6, Y: 0}},
			},
			[]model.EdgeRecord{
				{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "r1", Slot: 0}},
				{ID: "e2", From: model.PortEnd{Node: "r1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
			},
			map[grid.EdgeID]float64{"e1": 1, "e2": 1},
		)
		e := New(reg, WithSeed(seed))
		e.SetGraph(g)
		e.ResetPulses()
		return e.QueryWindow(0, 30)
	}

	a := mk(42)
	b := mk(42)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Value, b[i].Value, "same seed must replay identically")
	}
}

func TestApplyPatch_DelayChangeRespectsLookaheadWindow(t *testing.T) {
	reg := testRegistry(t)
	mk := func() *Engine {
		g := compileGraph(t, reg,
			[]model.NodeRecord{
				{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
				{ID: "o1", Type: "output", Pos: grid.Point{X: 3, Y: 0}},
			},
			[]model.EdgeRecord{
				{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
			},
			map[grid.EdgeID]float64{"e1": 10},
		)
		e := New(reg)
		e.SetGraph(g)
		e.ResetPulses()
		// Process the tick-0 firing; the arrival is now in flight at 10.
		e.QueryWindow(0, 1)
		return e
	}

	// Inside the lookahead window [4,12): the event keeps its time.
	e := mk()
	e.ApplyPatch(&Patch{UpdatedEdges: map[grid.EdgeID]float64{"e1": 15}}, 12)
	out := e.QueryWindow(1, 20)
	require.NotEmpty(t, out)
	assert.Equal(t, 10.0, out[0].Tick, "event inside the window is preserved")

	// Outside the window [4,8): the event is rescheduled from emit time.
	e = mk()
	e.ApplyPatch(&Patch{UpdatedEdges: map[grid.EdgeID]float64{"e1": 15}}, 8)
	out = e.QueryWindow(1, 20)
	require.NotEmpty(t, out)
	assert.Equal(t, 15.0, out[0].Tick, "event outside the window is rescheduled")
}

func TestApplyPatch_RemovedNodeDropsInFlight(t *testing.T) {
	reg := testRegistry(t)
	g := compileGraph(t, reg,
		[]model.NodeRecord{
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 3, Y: 0}},
		},
		[]model.EdgeRecord{
			{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		},
		map[grid.EdgeID]float64{"e1": 5},
	)
	e := New(reg)
	e.SetGraph(g)
	e.ResetPulses()
	e.QueryWindow(0, 1) // arrival at 5 in flight

	e.ApplyPatch(&Patch{RemovedNodes: []grid.NodeID{"o1"}, RemovedEdges: []grid.EdgeID{"e1"}}, 0)
	out := e.QueryWindow(1, 10)
	assert.Empty(t, out)
}

func TestApplyPatch_UpdatedParamReadByInFlightEvents(t *testing.T) {
	reg := testRegistry(t)
	g := compileGraph(t, reg,
		[]model.NodeRecord{
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "set", Type: "set", Pos: grid.Point{X: 3, Y: 0}},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 6, Y: 0}},
		},
		[]model.EdgeRecord{
			{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "set", Slot: 0}},
			{ID: "e2", From: model.PortEnd{Node: "set", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		},
		map[grid.EdgeID]float64{"e1": 5, "e2": 1},
	)
	e := New(reg)
	e.SetGraph(g)
	e.ResetPulses()
	e.QueryWindow(0, 1) // pulse fired; arrival at "set" in flight at 5

	e.ApplyPatch(&Patch{UpdatedParams: map[grid.NodeID]int{"set": 7}}, 0)

	out := e.QueryWindow(1, 8)
	require.NotEmpty(t, out)
	assert.Equal(t, 7, out[0].Value, "in-flight event reads the updated param on arrival")
}

func TestApplyPatch_EquivalentToSetGraphOnPostState(t *testing.T) {
	reg := testRegistry(t)
	nodes := []model.NodeRecord{
		{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
		{ID: "o1", Type: "output", Pos: grid.Point{X: 3, Y: 0}},
		{ID: "p2", Type: "pulse", Pos: grid.Point{X: 0, Y: 4}, Param: 3},
		{ID: "o2", Type: "output", Pos: grid.Point{X: 3, Y: 4}},
	}
	edges := []model.EdgeRecord{
		{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		{ID: "e2", From: model.PortEnd{Node: "p2", Slot: 0}, To: model.PortEnd{Node: "o2", Slot: 0}},
	}
	delays := map[grid.EdgeID]float64{"e1": 2, "e2": 1}
	full := compileGraph(t, reg, nodes, edges, delays)
	half := compileGraph(t, reg, nodes[:2], edges[:1], delays)

	// Patch path: start from the full graph and remove the second pair.
	patched := New(reg)
	patched.SetGraph(full)
	patched.ApplyPatch(&Patch{
		RemovedNodes: []grid.NodeID{"p2", "o2"},
		RemovedEdges: []grid.EdgeID{"e2"},
	}, 0)
	patched.ResetPulses()

	// Rebuild path: set the post-state graph directly.
	rebuilt := New(reg)
	rebuilt.SetGraph(half)
	rebuilt.ResetPulses()

	a := patched.QueryWindow(0, 12)
	b := rebuilt.QueryWindow(0, 12)
	assert.Equal(t, b, a, "patched engine must behave like the rebuilt post-state")
}

func TestSetGraph_ClearsSchedulerButKeepsCursor(t *testing.T) {
	reg := testRegistry(t)
	g := compileGraph(t, reg,
		[]model.NodeRecord{
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 3, Y: 0}},
		},
		[]model.EdgeRecord{
			{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		},
		map[grid.EdgeID]float64{"e1": 2},
	)
	e := New(reg)
	e.SetGraph(g)
	e.ResetPulses()
	e.QueryWindow(0, 5)

	e.SetGraph(g)
	assert.Equal(t, 0, e.QueueLen(), "scheduler cleared")
	assert.Equal(t, 5.0, e.Cursor(), "cursor survives graph swap")

	out := e.QueryWindow(5, 10)
	assert.Empty(t, out, "no auto re-seeded pulses")
}

func TestGetThumbState_Progress(t *testing.T) {
	reg := testRegistry(t)
	g := compileGraph(t, reg,
		[]model.NodeRecord{
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 3, Y: 0}},
		},
		[]model.EdgeRecord{
			{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		},
		map[grid.EdgeID]float64{"e1": 4},
	)
	e := New(reg)
	e.SetGraph(g)
	e.ResetPulses()
	e.QueryWindow(0, 1) // arrival in flight at 4, emitted at 0

	thumbs := e.GetThumbState(2)
	require.Len(t, thumbs, 1)
	assert.Equal(t, grid.EdgeID("e1"), thumbs[0].Edge)
	assert.InDelta(t, 0.5, thumbs[0].Progress, 1e-9)
	assert.Equal(t, 0.0, thumbs[0].EmitTick)

	assert.Equal(t, 1.0, e.GetThumbState(99)[0].Progress, "progress clamps at 1")
}

func TestEnqueue_HardCapDropsWithWarning(t *testing.T) {
	reg := testRegistry(t)
	e := New(reg, WithQueueCaps(1, 2))
	e.enqueue(&Event{Tick: 1, Node: "a"})
	e.enqueue(&Event{Tick: 2, Node: "b"}) // over soft cap: warn
	e.enqueue(&Event{Tick: 3, Node: "c"}) // over hard cap: drop

	assert.Equal(t, 2, e.QueueLen())
	warns := e.Warnings()
	require.NotEmpty(t, warns)
	assert.Equal(t, WarnQueueOverflow, warns[0].Code)
	assert.Equal(t, 2, warns[0].Count, "soft warn plus hard drop aggregate")
}

func TestWarnings_AggregatePerDrain(t *testing.T) {
	reg := testRegistry(t)
	e := New(reg)
	e.enqueue(&Event{Tick: 0.5, Node: "ghost", Role: grid.RoleSignal, Pulse: grid.Pulse{Value: 1, Speed: 1}})
	e.enqueue(&Event{Tick: 0.6, Node: "ghost", Role: grid.RoleSignal, Pulse: grid.Pulse{Value: 1, Speed: 1}})

	out := e.QueryWindow(0, 1)
	assert.Empty(t, out)

	warns := e.Warnings()
	require.Len(t, warns, 1)
	assert.Equal(t, WarnMissingNode, warns[0].Code)
	assert.Equal(t, 2, warns[0].Count)
	assert.Empty(t, e.Warnings(), "drain clears")
}
