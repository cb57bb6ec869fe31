// Package registry is the static catalog of node types.
//
// A Definition couples identity (the kebab-case type key), a port-placement
// archetype, param defaults, and the behavior functions the runtime invokes
// when pulses arrive. The catalog is validated once at construction and is
// read-only afterwards; every downstream layer shares one *Registry by
// reference.
package registry
