// Package runtime is the tick-accurate event simulator.
//
// The engine owns a compiled graph, per-node param/state memory, per-node
// deterministic RNGs, and a tick-indexed scheduler. QueryWindow drives the
// simulation forward over a half-open tick window and returns the pulses
// that arrived at output nodes, sorted by tick and stable within a tick.
//
// Ordering rules:
//   - within a tick, every control event at a node runs before any signal
//     event at that node, so signals observe freshly written params
//   - within a (node, tick, role) bucket, events follow enqueue order,
//     which follows edge insertion order
//
// The engine is single-owner: the cooperative core serializes all calls.
// Warnings never halt the simulation; events are dropped or clamped and
// the condition is aggregated per window.
package runtime
