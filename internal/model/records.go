package model

import (
	"github.com/roach88/pulsegrid/internal/grid"
)

// PortEnd names one endpoint of an edge: a node plus a slot index. The
// direction is implied by the field it sits in (From = output, To = input).
type PortEnd struct {
	Node grid.NodeID `json:"node"`
	Slot int         `json:"slot"`
}

// NodeRecord is a stored node.
type NodeRecord struct {
	ID   grid.NodeID   `json:"id"`
	Type string        `json:"type"`
	Pos  grid.Point    `json:"pos"`
	Rot  grid.Rotation `json:"rot,omitempty"`
	// Param is the snapshot override; 0 means "use the registry default".
	Param    int          `json:"param,omitempty"`
	Name     string       `json:"name,omitempty"`
	GroupRef grid.GroupID `json:"groupRef,omitempty"`
}

// EdgeRecord is a stored cable. Direction is always output -> input.
type EdgeRecord struct {
	ID      grid.EdgeID  `json:"id"`
	From    PortEnd      `json:"from"`
	To      PortEnd      `json:"to"`
	Corners []grid.Point `json:"corners,omitempty"`
}

// GroupDefinition is a reusable subgraph. Internal nodes and edges carry
// their own ids, scoped to the definition; instances reference the
// definition through NodeRecord.GroupRef. Nested groups are not allowed.
type GroupDefinition struct {
	ID    grid.GroupID `json:"id"`
	Nodes []NodeRecord `json:"nodes"`
	Edges []EdgeRecord `json:"edges"`
	// Port projections, in external slot order.
	Inputs   []PortEnd `json:"inputs"`
	Outputs  []PortEnd `json:"outputs"`
	Controls []PortEnd `json:"controls,omitempty"`
}

// Snapshot is a deep copy of the stored graph in insertion order.
type Snapshot struct {
	Nodes  []NodeRecord                         `json:"nodes"`
	Edges  []EdgeRecord                         `json:"edges"`
	Groups map[grid.GroupID]GroupDefinition     `json:"groups,omitempty"`
}

// Node returns the node with the given id, if present.
func (s *Snapshot) Node(id grid.NodeID) (NodeRecord, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeRecord{}, false
}

// Edge returns the edge with the given id, if present.
func (s *Snapshot) Edge(id grid.EdgeID) (EdgeRecord, bool) {
	for _, e := range s.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return EdgeRecord{}, false
}

func cloneNode(n NodeRecord) NodeRecord { return n }

func cloneEdge(e EdgeRecord) EdgeRecord {
	out := e
	if e.Corners != nil {
		out.Corners = append([]grid.Point(nil), e.Corners...)
	}
	return out
}

func cloneGroup(g GroupDefinition) GroupDefinition {
	out := g
	out.Nodes = append([]NodeRecord(nil), g.Nodes...)
	out.Edges = make([]EdgeRecord, len(g.Edges))
	for i, e := range g.Edges {
		out.Edges[i] = cloneEdge(e)
	}
	out.Inputs = append([]PortEnd(nil), g.Inputs...)
	out.Outputs = append([]PortEnd(nil), g.Outputs...)
	if g.Controls != nil {
		out.Controls = append([]PortEnd(nil), g.Controls...)
	}
	return out
}
