package runtime

import (
	"github.com/roach88/pulsegrid/internal/build"
	"github.com/roach88/pulsegrid/internal/grid"
)

// Event is one in-flight pulse heading for a node.
type Event struct {
	// Tick is when the pulse arrives at Node.
	Tick float64
	// Node is the target.
	Node grid.NodeID
	// Edge carries the pulse; empty for a pulse node's self-firing.
	Edge grid.EdgeID
	// Role mirrors the carrying edge's role.
	Role grid.Role
	// Pulse is the payload.
	Pulse grid.Pulse
	// EmitTime is the tick the pulse left its source. Reschedule-on-delay-
	// change and thumb projection both derive from it.
	EmitTime float64
	// Seq is the enqueue stamp; the stable within-tick tie-break.
	Seq int64
}

// OutputEvent is a pulse that reached an output node inside a query window.
type OutputEvent struct {
	Tick   float64        `json:"tick"`
	Node   grid.NodeID    `json:"node"`
	Value  int            `json:"value"`
	Params map[string]int `json:"params,omitempty"`
}

// ThumbState projects one in-flight pulse for the UI: how far along its
// cable it currently is.
type ThumbState struct {
	Edge     grid.EdgeID `json:"edge"`
	Progress float64     `json:"progress"` // 0..1
	Speed    int         `json:"speed"`
	EmitTick float64     `json:"emitTick"`
}

// Patch is a live edit applied to a running graph without a rebuild.
// Removals run first, then additions, then param and delay updates.
type Patch struct {
	RemovedNodes  []grid.NodeID
	RemovedEdges  []grid.EdgeID
	AddedNodes    []*build.Node
	AddedEdges    []*build.Edge
	UpdatedParams map[grid.NodeID]int
	// UpdatedEdges carries new base delays in ticks.
	UpdatedEdges map[grid.EdgeID]float64
}

// WarnCode categorizes runtime warnings. Warnings never halt the engine.
type WarnCode string

const (
	WarnMissingNode   WarnCode = "RUNTIME_MISSING_NODE"
	WarnMissingEdge   WarnCode = "RUNTIME_MISSING_EDGE"
	WarnMissingType   WarnCode = "RUNTIME_MISSING_TYPE"
	WarnInvalidValue  WarnCode = "RUNTIME_INVALID_VALUE"
	WarnQueueOverflow WarnCode = "RUNTIME_QUEUE_OVERFLOW"
	WarnLateEvent     WarnCode = "RUNTIME_LATE_EVENT"
)

// Warning is one aggregated warning: the first message under a code plus
// the number of occurrences since the last drain.
type Warning struct {
	Code    WarnCode `json:"code"`
	Message string   `json:"message"`
	Count   int      `json:"count"`
}

// warnAggregator rate-limits warnings per window: one entry per code with
// a count, drained by the caller after each query.
type warnAggregator struct {
	byCode map[WarnCode]*Warning
	order  []WarnCode
}

func newWarnAggregator() *warnAggregator {
	return &warnAggregator{byCode: map[WarnCode]*Warning{}}
}

func (w *warnAggregator) add(code WarnCode, message string) {
	if existing, ok := w.byCode[code]; ok {
		existing.Count++
		return
	}
	w.byCode[code] = &Warning{Code: code, Message: message, Count: 1}
	w.order = append(w.order, code)
}

// drain returns and clears the aggregated warnings in first-seen order.
func (w *warnAggregator) drain() []Warning {
	if len(w.order) == 0 {
		return nil
	}
	out := make([]Warning, 0, len(w.order))
	for _, code := range w.order {
		out = append(out, *w.byCode[code])
	}
	w.byCode = map[WarnCode]*Warning{}
	w.order = nil
	return out
}
