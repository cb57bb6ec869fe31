// Package route is the geometric compiler: it turns a graph snapshot into
// orthogonal cable polylines and per-edge tick delays.
//
// Routing is a pure function of (snapshot, registry, config). Identical
// inputs produce byte-identical outputs - points, SVG path string, and
// length - which is what makes delays, and therefore the whole simulation,
// reproducible. There is no obstacle avoidance; cables may cross nodes.
//
// A Router adds an input-keyed cache on top: each edge's result is stored
// under a hash of everything that can affect its geometry, so unchanged
// edges are never recomputed.
package route
