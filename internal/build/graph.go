package build

import (
	"fmt"

	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/registry"
)

// ErrorCode categorizes build failures.
type ErrorCode string

const (
	CodeUnknownNodeType      ErrorCode = "BUILD_UNKNOWN_NODE_TYPE"
	CodePortSlotInvalid      ErrorCode = "BUILD_PORT_SLOT_INVALID"
	CodeSameDirection        ErrorCode = "BUILD_SAME_DIRECTION"
	CodeRoleMismatch         ErrorCode = "BUILD_ROLE_MISMATCH"
	CodePortAlreadyConnected ErrorCode = "BUILD_PORT_ALREADY_CONNECTED"
	CodeMissingDelay         ErrorCode = "BUILD_MISSING_DELAY"
	CodeGroupMappingInvalid  ErrorCode = "BUILD_GROUP_MAPPING_INVALID"
)

// Error is one build failure.
type Error struct {
	Code    ErrorCode `json:"code"`
	Entity  string    `json:"entity,omitempty"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Node is a compiled node: registry definition resolved, param merged,
// initial state materialized.
type Node struct {
	ID   grid.NodeID
	Type string
	Def  *registry.Definition
	Pos  grid.Point
	Rot  grid.Rotation
	// Param is the snapshot override when present, else the registry
	// default.
	Param int
	// State is the InitState product; nil when the definition has none.
	State map[string]any
	// GroupRef is set on flattened internal nodes: the instance they
	// came from. Diagnostics only.
	GroupRef grid.NodeID
}

// Edge is a compiled cable with its resolved role and base delay in ticks.
type Edge struct {
	ID    grid.EdgeID
	From  grid.PortRef
	To    grid.PortRef
	Role  grid.Role
	Delay float64
}

// GroupMeta records one flattened group instance for debug and UI. The
// runtime never consults it.
type GroupMeta struct {
	Instance        grid.NodeID
	Def             grid.GroupID
	NodeIDs         []grid.NodeID
	ExternalInputs  []grid.PortRef
	ExternalOutputs []grid.PortRef
	Controls        []grid.PortRef
}

// Graph is the compiled, flattened, immutable runtime graph. Callers must
// not mutate it; the runtime copies what it needs to own.
type Graph struct {
	// Nodes and Edges preserve insertion order; edge order is the
	// scheduling tie-break order within a tick.
	Nodes []*Node
	Edges []*Edge

	NodeByID map[grid.NodeID]*Node
	EdgeByID map[grid.EdgeID]*Edge
	// EdgeByPort maps each directed port to its single edge.
	EdgeByPort map[grid.PortRef]*Edge
	// EdgesFrom lists outgoing edges per output port in insertion order.
	EdgesFrom map[grid.PortRef][]*Edge
	// EdgesByNode lists incident edges per node in insertion order.
	EdgesByNode map[grid.NodeID][]*Edge
	// NodeAt is the positional index.
	NodeAt map[grid.Point]grid.NodeID

	Groups []GroupMeta
}

// Result is the compile outcome. OK false means Graph is nil and Errors is
// non-empty; callers retain their last valid graph.
type Result struct {
	OK       bool
	Graph    *Graph
	Errors   []*Error
	Warnings []string
}
