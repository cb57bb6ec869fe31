// Package build fuses a model snapshot, the registry, and routing delays
// into a runtime-ready compiled graph.
//
// Compile is pure and non-fatal: it never mutates the editor graph, it
// collects every error instead of failing fast, and when anything is wrong
// it produces no graph at all - callers keep driving the runtime with their
// last valid one.
//
// Group instances are flattened here: internal nodes and edges are inlined
// under namespaced ids and external cables are rewritten to the mapped
// internal ports. The runtime only ever sees flat nodes and edges;
// GroupMeta survives for diagnostics.
package build
