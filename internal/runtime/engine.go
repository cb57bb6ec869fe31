package runtime

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/roach88/pulsegrid/internal/build"
	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/registry"
)

// DefaultMinDelayTicks is the positive delay floor. Every edge contributes
// at least this much, which is what lets feedback cycles exist: the
// scheduler breaks them by time.
const DefaultMinDelayTicks = 1e-3

// DefaultSoftCap is the queue size that starts overflow warnings.
const DefaultSoftCap = 4096

// nodeState is the engine's mutable per-node memory. The compiled graph
// stays immutable; params and state live here.
type nodeState struct {
	id    grid.NodeID
	typ   string
	def   *registry.Definition
	param int
	state map[string]any
}

// Engine is the stateful simulator.
//
// Single-owner: all methods must be called from the cooperative core
// thread. Nothing blocks; nothing locks.
type Engine struct {
	reg    *registry.Registry
	clock  *Clock
	sched  Scheduler
	logger *slog.Logger

	cursor   float64
	seed     uint64
	minDelay float64
	softCap  int
	hardCap  int // 0 = unlimited

	nodes     map[grid.NodeID]*nodeState
	nodeOrder []grid.NodeID
	edges     map[grid.EdgeID]*build.Edge
	edgesFrom map[grid.PortRef][]*build.Edge
	rngs      map[grid.NodeID]*rand.Rand

	warn *warnAggregator
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeed sets the global RNG seed.
func WithSeed(seed uint64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithMinDelayTicks overrides the delay floor. Must be > 0.
func WithMinDelayTicks(d float64) Option {
	return func(e *Engine) { e.minDelay = d }
}

// WithQueueCaps sets the soft warning cap and hard drop cap. hard = 0
// disables dropping.
func WithQueueCaps(soft, hard int) Option {
	return func(e *Engine) { e.softCap, e.hardCap = soft, hard }
}

// WithScheduler swaps the scheduler implementation.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine with an empty graph.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		reg:      reg,
		clock:    NewClock(),
		sched:    NewRingScheduler(DefaultRingHorizon),
		logger:   slog.Default(),
		minDelay: DefaultMinDelayTicks,
		softCap:  DefaultSoftCap,
		nodes:    map[grid.NodeID]*nodeState{},
		edges:    map[grid.EdgeID]*build.Edge{},
		edgesFrom: map[grid.PortRef][]*build.Edge{},
		rngs:     map[grid.NodeID]*rand.Rand{},
		warn:     newWarnAggregator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cursor returns the engine's current tick position.
func (e *Engine) Cursor() float64 { return e.cursor }

// QueueLen returns the number of in-flight events.
func (e *Engine) QueueLen() int { return e.sched.Len() }

// Warnings drains the warnings aggregated since the last drain.
func (e *Engine) Warnings() []Warning { return e.warn.drain() }

// SetGraph replaces the live graph, clears the scheduler, and resets
// per-node memory and RNGs. Pulse sources are NOT re-seeded; callers
// decide when to call ResetPulses.
func (e *Engine) SetGraph(g *build.Graph) {
	e.sched.Clear()
	e.nodes = make(map[grid.NodeID]*nodeState, len(g.Nodes))
	e.nodeOrder = e.nodeOrder[:0]
	e.edges = make(map[grid.EdgeID]*build.Edge, len(g.Edges))
	e.edgesFrom = make(map[grid.PortRef][]*build.Edge, len(g.EdgesFrom))
	e.rngs = map[grid.NodeID]*rand.Rand{}

	for _, n := range g.Nodes {
		e.insertNode(n)
	}
	for _, edge := range g.Edges {
		e.insertEdge(edge)
	}
	e.logger.Debug("graph set", "nodes", len(g.Nodes), "edges", len(g.Edges))
}

func (e *Engine) insertNode(n *build.Node) {
	st := &nodeState{id: n.ID, typ: n.Type, def: n.Def, param: n.Param}
	if n.State != nil {
		st.state = make(map[string]any, len(n.State))
		for k, v := range n.State {
			st.state[k] = v
		}
	}
	e.nodes[n.ID] = st
	e.nodeOrder = append(e.nodeOrder, n.ID)
}

func (e *Engine) insertEdge(edge *build.Edge) {
	cp := *edge
	e.edges[cp.ID] = &cp
	e.edgesFrom[cp.From] = append(e.edgesFrom[cp.From], &cp)
}

// ResetPulses clears the scheduler and seeds one self-firing per pulse
// node at the current cursor. Node params and state are untouched.
func (e *Engine) ResetPulses() {
	e.sched.Clear()
	for _, id := range e.nodeOrder {
		n := e.nodes[id]
		if n.typ != registry.TypePulse {
			continue
		}
		e.sched.Enqueue(&Event{
			Tick:     e.cursor,
			Node:     n.id,
			Role:     grid.RoleSignal,
			Pulse:    grid.Pulse{Value: n.param, Speed: 1},
			EmitTime: e.cursor,
			Seq:      e.clock.Next(),
		})
	}
	e.logger.Debug("pulses reset", "cursor", e.cursor)
}

// effectiveDelay applies speed scaling and the positive floor.
func (e *Engine) effectiveDelay(base float64, speed int) float64 {
	if speed < 1 {
		speed = 1
	}
	d := base / float64(speed)
	if d < e.minDelay {
		d = e.minDelay
	}
	return d
}

// QueryWindow advances the simulation to t1 and returns every pulse that
// arrived at an output node with tick in [t0, t1), sorted by tick, stable
// within a tick.
func (e *Engine) QueryWindow(t0, t1 float64) []OutputEvent {
	var outputs []OutputEvent

	for {
		min, ok := e.sched.PeekMinTick()
		if !ok || min >= t1 {
			break
		}
		tick, batch := e.sched.PopTick()
		e.processTick(tick, batch, t0, t1, &outputs)
	}

	if t1 > e.cursor {
		e.cursor = t1
	}
	return outputs
}

// processTick runs one tick's events: bucketed per node in first-arrival
// order, controls before signals inside each bucket.
func (e *Engine) processTick(tick float64, batch []*Event, t0, t1 float64, outputs *[]OutputEvent) {
	type bucket struct {
		node     grid.NodeID
		controls []*Event
		signals  []*Event
	}
	var order []grid.NodeID
	buckets := map[grid.NodeID]*bucket{}
	for _, ev := range batch {
		b, ok := buckets[ev.Node]
		if !ok {
			b = &bucket{node: ev.Node}
			buckets[ev.Node] = b
			order = append(order, ev.Node)
		}
		if ev.Role == grid.RoleControl {
			b.controls = append(b.controls, ev)
		} else {
			b.signals = append(b.signals, ev)
		}
	}

	for _, id := range order {
		b := buckets[id]
		for _, ev := range b.controls {
			e.processControl(ev)
		}
		for _, ev := range b.signals {
			e.processSignal(ev, t0, t1, outputs)
		}
	}
}

func (e *Engine) processControl(ev *Event) {
	n, ok := e.nodes[ev.Node]
	if !ok {
		e.warn.add(WarnMissingNode, fmt.Sprintf("control event for missing node %q dropped", ev.Node))
		return
	}
	if n.def == nil || n.def.OnControl == nil {
		return
	}
	res := n.def.OnControl(e.behaviorCtx(n, ev))
	if res == nil {
		return
	}
	if res.Param != nil {
		n.param = grid.ClampStep(*res.Param)
	}
	if res.State != nil {
		n.state = res.State
	}
}

func (e *Engine) processSignal(ev *Event, t0, t1 float64, outputs *[]OutputEvent) {
	n, ok := e.nodes[ev.Node]
	if !ok {
		e.warn.add(WarnMissingNode, fmt.Sprintf("signal event for missing node %q dropped", ev.Node))
		return
	}

	if n.typ == registry.TypeOutput {
		if ev.Tick < t0 {
			e.warn.add(WarnLateEvent, fmt.Sprintf("output event at tick %v before window start %v dropped", ev.Tick, t0))
			return
		}
		pulse := ev.Pulse.Clamped()
		*outputs = append(*outputs, OutputEvent{
			Tick:   ev.Tick,
			Node:   n.id,
			Value:  pulse.Value,
			Params: pulse.Params,
		})
		return
	}

	if n.def == nil || n.def.OnSignal == nil {
		e.warn.add(WarnMissingType, fmt.Sprintf("node %q has no signal behavior", n.id))
		return
	}

	res := n.def.OnSignal(e.behaviorCtx(n, ev))

	// Pulse sources re-arm themselves on every self-firing.
	if n.typ == registry.TypePulse && ev.Edge == "" && n.def.Period > 0 {
		e.enqueue(&Event{
			Tick:     ev.Tick + n.def.Period,
			Node:     n.id,
			Role:     grid.RoleSignal,
			Pulse:    grid.Pulse{Value: n.param, Speed: 1},
			EmitTime: ev.Tick,
		})
	}

	if res == nil {
		return
	}
	if res.State != nil {
		n.state = res.State
	}
	for _, out := range res.Outputs {
		e.fanOut(n, ev, out)
	}
}

// fanOut schedules one emitted output along every edge leaving the slot.
func (e *Engine) fanOut(n *nodeState, ev *Event, out registry.EmittedOutput) {
	edges := e.edgesFrom[grid.PortRef{Node: n.id, Dir: grid.DirOut, Slot: out.Slot}]
	if len(edges) == 0 {
		return
	}

	speed := out.Speed
	if speed == 0 {
		speed = ev.Pulse.Speed
	}
	params := out.Params
	if params == nil {
		params = ev.Pulse.Params
	}
	if !grid.InStepRange(out.Value) || !grid.InStepRange(speed) {
		e.warn.add(WarnInvalidValue, fmt.Sprintf("node %q emitted out-of-range value/speed, clamped", n.id))
	}
	pulse := grid.Pulse{Value: out.Value, Speed: speed, Params: params}.Clamped()

	for _, edge := range edges {
		e.enqueue(&Event{
			Tick:     ev.Tick + e.effectiveDelay(edge.Delay, pulse.Speed),
			Node:     edge.To.Node,
			Edge:     edge.ID,
			Role:     edge.Role,
			Pulse:    pulse,
			EmitTime: ev.Tick,
		})
	}
}

// enqueue stamps and schedules an event, enforcing queue caps. Existing
// event times are never shifted; overflow only drops new arrivals.
func (e *Engine) enqueue(ev *Event) {
	if e.hardCap > 0 && e.sched.Len() >= e.hardCap {
		e.warn.add(WarnQueueOverflow, fmt.Sprintf("hard cap %d reached, event for %q dropped", e.hardCap, ev.Node))
		return
	}
	if e.softCap > 0 && e.sched.Len() >= e.softCap {
		e.warn.add(WarnQueueOverflow, fmt.Sprintf("queue length %d exceeds soft cap %d", e.sched.Len(), e.softCap))
	}
	ev.Seq = e.clock.Next()
	e.sched.Enqueue(ev)
}

func (e *Engine) behaviorCtx(n *nodeState, ev *Event) *registry.BehaviorContext {
	return &registry.BehaviorContext{
		Tick:  ev.Tick,
		Slot:  e.inputSlot(ev),
		Param: n.param,
		State: n.state,
		Rand:  e.rngFor(n.id),
		Pulse: ev.Pulse,
	}
}

func (e *Engine) inputSlot(ev *Event) int {
	if ev.Edge == "" {
		return 0
	}
	if edge, ok := e.edges[ev.Edge]; ok {
		return edge.To.Slot
	}
	return 0
}

func (e *Engine) rngFor(id grid.NodeID) *rand.Rand {
	if r, ok := e.rngs[id]; ok {
		return r
	}
	r := rand.New(rand.NewSource(int64(grid.NodeSeed(e.seed, id))))
	e.rngs[id] = r
	return r
}

// ApplyPatch applies a live edit. windowUpper is the upper bound of the
// audio lookahead window currently in flight: events on a delay-updated
// edge that are due inside it keep their times (the host already heard
// about them); events beyond it are rescheduled from their emit time.
func (e *Engine) ApplyPatch(p *Patch, windowUpper float64) {
	for _, id := range p.RemovedNodes {
		e.sched.RemoveByNode(id)
		delete(e.nodes, id)
		delete(e.rngs, id)
		for i, oid := range e.nodeOrder {
			if oid == id {
				e.nodeOrder = append(e.nodeOrder[:i], e.nodeOrder[i+1:]...)
				break
			}
		}
	}
	for _, id := range p.RemovedEdges {
		e.sched.RemoveByEdge(id)
		if edge, ok := e.edges[id]; ok {
			delete(e.edges, id)
			from := e.edgesFrom[edge.From]
			for i, fe := range from {
				if fe.ID == id {
					e.edgesFrom[edge.From] = append(from[:i], from[i+1:]...)
					break
				}
			}
		}
	}
	for _, n := range p.AddedNodes {
		if _, dup := e.nodes[n.ID]; dup {
			e.warn.add(WarnInvalidValue, fmt.Sprintf("patch re-adds node %q, skipped", n.ID))
			continue
		}
		e.insertNode(n)
	}
	for _, edge := range p.AddedEdges {
		if _, dup := e.edges[edge.ID]; dup {
			e.warn.add(WarnInvalidValue, fmt.Sprintf("patch re-adds edge %q, skipped", edge.ID))
			continue
		}
		e.insertEdge(edge)
	}
	for id, param := range p.UpdatedParams {
		n, ok := e.nodes[id]
		if !ok {
			e.warn.add(WarnMissingNode, fmt.Sprintf("param update for missing node %q dropped", id))
			continue
		}
		n.param = grid.ClampStep(param)
	}
	for id, delay := range p.UpdatedEdges {
		edge, ok := e.edges[id]
		if !ok {
			e.warn.add(WarnMissingEdge, fmt.Sprintf("delay update for missing edge %q dropped", id))
			continue
		}
		edge.Delay = delay
		for _, ev := range e.sched.TakeByEdge(id) {
			if ev.Tick < windowUpper {
				// Already promised to the audio window; keep as-is.
				e.sched.Enqueue(ev)
				continue
			}
			ev.Tick = ev.EmitTime + e.effectiveDelay(delay, ev.Pulse.Speed)
			e.sched.Enqueue(ev)
		}
	}
}

// GetThumbState projects every in-flight cable pulse at nowTick.
func (e *Engine) GetThumbState(nowTick float64) []ThumbState {
	evs := e.sched.InFlight()
	out := make([]ThumbState, 0, len(evs))
	for _, ev := range evs {
		if ev.Edge == "" {
			continue
		}
		eff := ev.Tick - ev.EmitTime
		progress := 0.0
		if eff > 0 {
			progress = (nowTick - ev.EmitTime) / eff
		}
		if progress < 0 {
			progress = 0
		}
		if progress > 1 {
			progress = 1
		}
		out = append(out, ThumbState{
			Edge:     ev.Edge,
			Progress: progress,
			Speed:    ev.Pulse.Speed,
			EmitTick: ev.EmitTime,
		})
	}
	return out
}
