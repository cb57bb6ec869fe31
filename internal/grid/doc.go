// Package grid holds the primitive value types shared by every layer of the
// engine: integer grid coordinates, rotations, port references, and the pulse
// payload that travels along cables.
//
// It also provides the two determinism primitives the rest of the engine is
// built on:
//
//   - Canonical JSON serialization (canonical.go) used for route-cache keys,
//     golden trace bytes, and anything else that must be byte-identical
//     across runs.
//   - Domain-separated SHA-256 hashing (hash.go) used for cache keys and
//     per-node RNG seeds.
//
// grid has no dependencies on other engine packages.
package grid
