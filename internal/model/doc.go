// Package model is the authoritative store for the editable patch graph:
// nodes, edges, manual corners, and group definitions.
//
// All mutation goes through ApplyOps, which applies a batch of ops
// transactionally: every op validates against the staged state, and either
// the whole batch commits or none of it does. Derived indices are updated
// inside the same transaction; they are never rebuilt lazily and are always
// consistent with the committed records.
//
// Subscribers receive each committed op batch. Downstream layers (routing,
// build) pull snapshots rather than observing fine-grained changes.
package model
