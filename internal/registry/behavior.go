package registry

import (
	"math/rand"

	"github.com/roach88/pulsegrid/internal/grid"
)

// BehaviorContext is everything a behavior may read when a pulse arrives.
// Behaviors must be synchronous and pure: no I/O, no mutation outside the
// returned result. State and Pulse are owned by the runtime; treat them as
// read-only and return replacements instead of editing in place.
type BehaviorContext struct {
	// Tick is the time the pulse arrives at this node.
	Tick float64
	// Slot is the input slot the pulse arrived on.
	Slot int
	// Param is the node's current param (1..8).
	Param int
	// State is the node's private state, nil until InitState or a prior
	// result populated it.
	State map[string]any
	// Rand is the node's deterministic RNG, seeded from
	// globalSeed XOR hash(nodeID). Only consume it in behaviors that
	// declare randomness; drawing from it is what makes a node random.
	Rand *rand.Rand
	// Pulse is the incoming payload.
	Pulse grid.Pulse
}

// ControlResult is what OnControl may return. A nil result means the pulse
// was consumed with no effect.
type ControlResult struct {
	// Param, when non-nil, replaces the node param (clamped by the runtime).
	Param *int
	// State, when non-nil, replaces the node state.
	State map[string]any
}

// SignalResult is what OnSignal may return. A nil result emits nothing.
type SignalResult struct {
	Outputs []EmittedOutput
	State   map[string]any
}

// EmittedOutput is one pulse leaving a node. Speed 0 and nil Params inherit
// from the incoming pulse.
type EmittedOutput struct {
	Slot   int
	Value  int
	Speed  int
	Params map[string]int
}

// IntParam is a convenience for ControlResult.Param.
func IntParam(v int) *int { return &v }

// MergeParams copies base and overlays key=val. Used by param-tagging nodes
// so the incoming overlay is preserved, never aliased.
func MergeParams(base map[string]int, key string, val int) map[string]int {
	out := make(map[string]int, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = val
	return out
}
