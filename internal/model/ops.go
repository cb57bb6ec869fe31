package model

import (
	"fmt"

	"github.com/roach88/pulsegrid/internal/grid"
)

// OpKind enumerates the supported graph operations.
type OpKind string

const (
	OpAddNode      OpKind = "addNode"
	OpRemoveNode   OpKind = "removeNode"
	OpMoveNode     OpKind = "moveNode"
	OpRotateNode   OpKind = "rotateNode"
	OpSetParam     OpKind = "setParam"
	OpRenameNode   OpKind = "renameNode"
	OpAddEdge      OpKind = "addEdge"
	OpRemoveEdge   OpKind = "removeEdge"
	OpAddCorner    OpKind = "addCorner"
	OpMoveCorner   OpKind = "moveCorner"
	OpRemoveCorner OpKind = "removeCorner"
	OpAddGroup     OpKind = "addGroup"
	OpRemoveGroup  OpKind = "removeGroup"
)

// Op is one graph operation. Kind selects which payload fields apply;
// unused fields stay zero. The flat shape keeps ops serializable for the
// op log and for change notifications.
type Op struct {
	Kind OpKind `json:"kind"`

	Node  *NodeRecord      `json:"node,omitempty"`  // addNode
	Edge  *EdgeRecord      `json:"edge,omitempty"`  // addEdge
	Group *GroupDefinition `json:"group,omitempty"` // addGroup

	NodeID  grid.NodeID  `json:"nodeId,omitempty"`
	EdgeID  grid.EdgeID  `json:"edgeId,omitempty"`
	GroupID grid.GroupID `json:"groupId,omitempty"`

	Pos    *grid.Point    `json:"pos,omitempty"`    // moveNode, addCorner, moveCorner
	Rot    *grid.Rotation `json:"rot,omitempty"`    // rotateNode
	Param  *int           `json:"param,omitempty"`  // setParam
	Name   string         `json:"name,omitempty"`   // renameNode
	Corner *int           `json:"corner,omitempty"` // corner index for add/move/removeCorner
}

// ErrorCode categorizes op validation failures.
type ErrorCode string

const (
	CodeInvalidPosition      ErrorCode = "MODEL_INVALID_POSITION"
	CodeUnknownNodeType      ErrorCode = "MODEL_UNKNOWN_NODE_TYPE"
	CodeDuplicateID          ErrorCode = "MODEL_DUPLICATE_ID"
	CodePortInvalid          ErrorCode = "MODEL_PORT_INVALID"
	CodeEdgeDirectionInvalid ErrorCode = "MODEL_EDGE_DIRECTION_INVALID"
	CodeEdgeDanglingEndpoint ErrorCode = "MODEL_EDGE_DANGLING_ENDPOINT"
	CodePortAlreadyConnected ErrorCode = "MODEL_PORT_ALREADY_CONNECTED"
	CodeInvalidRotation      ErrorCode = "MODEL_INVALID_ROTATION"
	CodeGroupRefInvalid      ErrorCode = "MODEL_GROUP_REF_INVALID"
	// CodeInvalidOp covers malformed ops: missing payloads, unknown kinds,
	// references to entities the batch never created. Documented extension
	// of the MODEL_* set.
	CodeInvalidOp ErrorCode = "MODEL_INVALID_OP"
)

// OpError locates one validation failure inside a batch.
type OpError struct {
	Index   int       `json:"index"` // position in the submitted batch
	Kind    OpKind    `json:"kind"`
	Code    ErrorCode `json:"code"`
	Entity  string    `json:"entity,omitempty"` // id of the offending entity
	Message string    `json:"message"`
}

func (e *OpError) Error() string {
	return fmt.Sprintf("op[%d] %s: %s: %s", e.Index, e.Kind, e.Code, e.Message)
}

// ApplyResult reports the outcome of one ApplyOps call. Application is
// all-or-nothing: OK false means nothing was written.
type ApplyResult struct {
	OK      bool       `json:"ok"`
	Changed bool       `json:"changed"`
	Errors  []*OpError `json:"errors,omitempty"`
}
