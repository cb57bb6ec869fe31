package model

import (
	"fmt"
	"log/slog"

	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/registry"
)

// Indexes are the always-current derived lookups over the stored graph.
// They are rebuilt transactionally with every commit, never lazily.
type Indexes struct {
	NodeByID    map[grid.NodeID]*NodeRecord
	EdgeByID    map[grid.EdgeID]*EdgeRecord
	PortToEdge  map[grid.PortRef]grid.EdgeID
	EdgesByNode map[grid.NodeID][]grid.EdgeID // edge insertion order
}

// CommitNotice is delivered to subscribers after each committed batch.
type CommitNotice struct {
	Ops []Op
}

// Graph is the authoritative in-memory patch store.
//
// Thread-safety: Graph is single-owner. The engine core is a cooperative
// single-threaded design; callers serialize access externally.
type Graph struct {
	reg    *registry.Registry
	idgen  IDGenerator
	logger *slog.Logger

	st   state
	subs []func(CommitNotice)
}

// state is the mutable record set. ApplyOps stages a deep copy, mutates
// the copy, and swaps it in only when every op validated.
type state struct {
	nodes      []NodeRecord
	edges      []EdgeRecord
	groups     map[grid.GroupID]GroupDefinition
	groupOrder []grid.GroupID
	idx        Indexes
}

// Option configures a Graph.
type Option func(*Graph)

// WithIDGenerator overrides the id generator (tests use FixedIDGenerator).
func WithIDGenerator(g IDGenerator) Option {
	return func(gr *Graph) { gr.idgen = g }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(gr *Graph) { gr.logger = l }
}

// New creates an empty Graph bound to a registry.
func New(reg *registry.Registry, opts ...Option) *Graph {
	g := &Graph{
		reg:    reg,
		idgen:  UUIDv7Generator{},
		logger: slog.Default(),
	}
	g.st.groups = map[grid.GroupID]GroupDefinition{}
	g.st.idx = newIndexes()
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func newIndexes() Indexes {
	return Indexes{
		NodeByID:    map[grid.NodeID]*NodeRecord{},
		EdgeByID:    map[grid.EdgeID]*EdgeRecord{},
		PortToEdge:  map[grid.PortRef]grid.EdgeID{},
		EdgesByNode: map[grid.NodeID][]grid.EdgeID{},
	}
}

// Subscribe registers a callback invoked after every committed batch.
func (g *Graph) Subscribe(cb func(CommitNotice)) {
	g.subs = append(g.subs, cb)
}

// Snapshot returns a deep copy of the stored graph in insertion order.
func (g *Graph) Snapshot() Snapshot {
	return g.st.snapshot()
}

// Indexes returns the current derived lookups. The returned maps are live;
// callers must not mutate them.
func (g *Graph) Indexes() Indexes { return g.st.idx }

// NewNodeID mints a fresh node id.
func (g *Graph) NewNodeID() grid.NodeID { return grid.NodeID(g.idgen.Generate()) }

// NewEdgeID mints a fresh edge id.
func (g *Graph) NewEdgeID() grid.EdgeID { return grid.EdgeID(g.idgen.Generate()) }

// ApplyOps applies a batch transactionally. If any op fails validation,
// nothing is written and every collected error is returned.
func (g *Graph) ApplyOps(ops []Op) ApplyResult {
	if len(ops) == 0 {
		return ApplyResult{OK: true}
	}

	stage := g.st.clone()
	var errs []*OpError
	for i := range ops {
		if err := stage.apply(g.reg, &ops[i]); err != nil {
			err.Index = i
			err.Kind = ops[i].Kind
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		g.logger.Warn("op batch rejected",
			"ops", len(ops),
			"errors", len(errs),
			"first_code", errs[0].Code,
		)
		return ApplyResult{OK: false, Errors: errs}
	}

	g.st = stage
	g.logger.Debug("op batch committed",
		"ops", len(ops),
		"nodes", len(stage.nodes),
		"edges", len(stage.edges),
	)
	notice := CommitNotice{Ops: ops}
	for _, cb := range g.subs {
		cb(notice)
	}
	return ApplyResult{OK: true, Changed: true}
}

func (s *state) snapshot() Snapshot {
	snap := Snapshot{
		Nodes: make([]NodeRecord, len(s.nodes)),
		Edges: make([]EdgeRecord, len(s.edges)),
	}
	for i, n := range s.nodes {
		snap.Nodes[i] = cloneNode(n)
	}
	for i, e := range s.edges {
		snap.Edges[i] = cloneEdge(e)
	}
	if len(s.groups) > 0 {
		snap.Groups = make(map[grid.GroupID]GroupDefinition, len(s.groups))
		for id, gd := range s.groups {
			snap.Groups[id] = cloneGroup(gd)
		}
	}
	return snap
}

func (s *state) clone() state {
	out := state{
		nodes:      make([]NodeRecord, len(s.nodes)),
		edges:      make([]EdgeRecord, len(s.edges)),
		groups:     make(map[grid.GroupID]GroupDefinition, len(s.groups)),
		groupOrder: append([]grid.GroupID(nil), s.groupOrder...),
	}
	for i, n := range s.nodes {
		out.nodes[i] = cloneNode(n)
	}
	for i, e := range s.edges {
		out.edges[i] = cloneEdge(e)
	}
	for id, gd := range s.groups {
		out.groups[id] = cloneGroup(gd)
	}
	out.reindex()
	return out
}

// reindex rebuilds all derived lookups from the record slices. Used when a
// staged state is created; incremental updates keep it current inside the
// transaction.
func (s *state) reindex() {
	s.idx = newIndexes()
	for i := range s.nodes {
		s.idx.NodeByID[s.nodes[i].ID] = &s.nodes[i]
	}
	for i := range s.edges {
		s.indexEdge(&s.edges[i])
	}
}

func (s *state) indexEdge(e *EdgeRecord) {
	s.idx.EdgeByID[e.ID] = e
	s.idx.PortToEdge[grid.PortRef{Node: e.From.Node, Dir: grid.DirOut, Slot: e.From.Slot}] = e.ID
	s.idx.PortToEdge[grid.PortRef{Node: e.To.Node, Dir: grid.DirIn, Slot: e.To.Slot}] = e.ID
	s.idx.EdgesByNode[e.From.Node] = append(s.idx.EdgesByNode[e.From.Node], e.ID)
	if e.To.Node != e.From.Node {
		s.idx.EdgesByNode[e.To.Node] = append(s.idx.EdgesByNode[e.To.Node], e.ID)
	}
}

func (s *state) unindexEdge(e EdgeRecord) {
	delete(s.idx.EdgeByID, e.ID)
	delete(s.idx.PortToEdge, grid.PortRef{Node: e.From.Node, Dir: grid.DirOut, Slot: e.From.Slot})
	delete(s.idx.PortToEdge, grid.PortRef{Node: e.To.Node, Dir: grid.DirIn, Slot: e.To.Slot})
	s.idx.EdgesByNode[e.From.Node] = removeID(s.idx.EdgesByNode[e.From.Node], e.ID)
	if e.To.Node != e.From.Node {
		s.idx.EdgesByNode[e.To.Node] = removeID(s.idx.EdgesByNode[e.To.Node], e.ID)
	}
}

func removeID(ids []grid.EdgeID, id grid.EdgeID) []grid.EdgeID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// apply validates and executes one op against the staged state.
func (s *state) apply(reg *registry.Registry, op *Op) *OpError {
	switch op.Kind {
	case OpAddNode:
		return s.addNode(reg, op)
	case OpRemoveNode:
		return s.removeNode(op)
	case OpMoveNode:
		return s.moveNode(op)
	case OpRotateNode:
		return s.rotateNode(op)
	case OpSetParam:
		return s.setParam(op)
	case OpRenameNode:
		return s.renameNode(op)
	case OpAddEdge:
		return s.addEdge(reg, op)
	case OpRemoveEdge:
		return s.removeEdge(op)
	case OpAddCorner, OpMoveCorner, OpRemoveCorner:
		return s.cornerOp(op)
	case OpAddGroup:
		return s.addGroup(reg, op)
	case OpRemoveGroup:
		return s.removeGroup(op)
	}
	return &OpError{Code: CodeInvalidOp, Message: fmt.Sprintf("unknown op kind %q", op.Kind)}
}

func (s *state) addNode(reg *registry.Registry, op *Op) *OpError {
	if op.Node == nil {
		return &OpError{Code: CodeInvalidOp, Message: "addNode requires a node payload"}
	}
	n := cloneNode(*op.Node)
	if n.ID == "" {
		return &OpError{Code: CodeInvalidOp, Message: "addNode requires an id"}
	}
	if _, dup := s.idx.NodeByID[n.ID]; dup {
		return &OpError{Code: CodeDuplicateID, Entity: string(n.ID), Message: "node id already exists"}
	}
	def, ok := reg.Get(n.Type)
	if !ok {
		return &OpError{Code: CodeUnknownNodeType, Entity: string(n.ID), Message: fmt.Sprintf("unknown node type %q", n.Type)}
	}
	if !n.Rot.Valid() {
		return &OpError{Code: CodeInvalidRotation, Entity: string(n.ID), Message: fmt.Sprintf("rotation %d not in {0,90,180,270}", n.Rot)}
	}
	if def.Layout == registry.LayoutCustom {
		if n.GroupRef == "" {
			return &OpError{Code: CodeGroupRefInvalid, Entity: string(n.ID), Message: "group node requires a groupRef"}
		}
		if _, ok := s.groups[n.GroupRef]; !ok {
			return &OpError{Code: CodeGroupRefInvalid, Entity: string(n.ID), Message: fmt.Sprintf("groupRef %q not defined", n.GroupRef)}
		}
	}
	s.nodes = append(s.nodes, n)
	s.idx.NodeByID[n.ID] = &s.nodes[len(s.nodes)-1]
	// Appending may relocate the backing array; refresh stored pointers.
	s.refreshNodePointers()
	return nil
}

// refreshNodePointers repairs NodeByID after slice growth.
func (s *state) refreshNodePointers() {
	for i := range s.nodes {
		s.idx.NodeByID[s.nodes[i].ID] = &s.nodes[i]
	}
}

func (s *state) refreshEdgePointers() {
	for i := range s.edges {
		s.idx.EdgeByID[s.edges[i].ID] = &s.edges[i]
	}
}

func (s *state) removeNode(op *Op) *OpError {
	n, ok := s.idx.NodeByID[op.NodeID]
	if !ok {
		return &OpError{Code: CodeInvalidOp, Entity: string(op.NodeID), Message: "node not found"}
	}
	// Cascade: drop incident edges first, indices updated per edge.
	incident := append([]grid.EdgeID(nil), s.idx.EdgesByNode[n.ID]...)
	for _, eid := range incident {
		s.deleteEdge(eid)
	}
	delete(s.idx.NodeByID, n.ID)
	delete(s.idx.EdgesByNode, n.ID)
	for i := range s.nodes {
		if s.nodes[i].ID == n.ID {
			s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
			break
		}
	}
	s.refreshNodePointers()
	s.refreshEdgePointers()
	return nil
}

func (s *state) moveNode(op *Op) *OpError {
	n, ok := s.idx.NodeByID[op.NodeID]
	if !ok {
		return &OpError{Code: CodeInvalidOp, Entity: string(op.NodeID), Message: "node not found"}
	}
	if op.Pos == nil {
		return &OpError{Code: CodeInvalidPosition, Entity: string(op.NodeID), Message: "moveNode requires a position"}
	}
	n.Pos = *op.Pos
	return nil
}

func (s *state) rotateNode(op *Op) *OpError {
	n, ok := s.idx.NodeByID[op.NodeID]
	if !ok {
		return &OpError{Code: CodeInvalidOp, Entity: string(op.NodeID), Message: "node not found"}
	}
	if op.Rot == nil || !op.Rot.Valid() {
		return &OpError{Code: CodeInvalidRotation, Entity: string(op.NodeID), Message: "rotation must be one of {0,90,180,270}"}
	}
	n.Rot = *op.Rot
	return nil
}

func (s *state) setParam(op *Op) *OpError {
	n, ok := s.idx.NodeByID[op.NodeID]
	if !ok {
		return &OpError{Code: CodeInvalidOp, Entity: string(op.NodeID), Message: "node not found"}
	}
	if op.Param == nil || !grid.InStepRange(*op.Param) {
		return &OpError{Code: CodeInvalidOp, Entity: string(op.NodeID), Message: fmt.Sprintf("param must be %d..%d", grid.StepMin, grid.StepMax)}
	}
	n.Param = *op.Param
	return nil
}

func (s *state) renameNode(op *Op) *OpError {
	n, ok := s.idx.NodeByID[op.NodeID]
	if !ok {
		return &OpError{Code: CodeInvalidOp, Entity: string(op.NodeID), Message: "node not found"}
	}
	n.Name = op.Name
	return nil
}

// layoutFor derives the port layout for a staged node, resolving group
// external counts when the node is a group instance.
func (s *state) layoutFor(reg *registry.Registry, n *NodeRecord) (*registry.Layout, *OpError) {
	def, ok := reg.Get(n.Type)
	if !ok {
		return nil, &OpError{Code: CodeUnknownNodeType, Entity: string(n.ID), Message: fmt.Sprintf("unknown node type %q", n.Type)}
	}
	var ext *registry.ExternalPorts
	if def.Layout == registry.LayoutCustom {
		gd, ok := s.groups[n.GroupRef]
		if !ok {
			return nil, &OpError{Code: CodeGroupRefInvalid, Entity: string(n.ID), Message: fmt.Sprintf("groupRef %q not defined", n.GroupRef)}
		}
		ext = &registry.ExternalPorts{
			Inputs:   len(gd.Inputs),
			Outputs:  len(gd.Outputs),
			Controls: len(gd.Controls),
		}
	}
	l, err := registry.DeriveLayout(def, ext)
	if err != nil {
		return nil, &OpError{Code: CodePortInvalid, Entity: string(n.ID), Message: err.Error()}
	}
	return l, nil
}

func (s *state) addEdge(reg *registry.Registry, op *Op) *OpError {
	if op.Edge == nil {
		return &OpError{Code: CodeInvalidOp, Message: "addEdge requires an edge payload"}
	}
	e := cloneEdge(*op.Edge)
	if e.ID == "" {
		return &OpError{Code: CodeInvalidOp, Message: "addEdge requires an id"}
	}
	if _, dup := s.idx.EdgeByID[e.ID]; dup {
		return &OpError{Code: CodeDuplicateID, Entity: string(e.ID), Message: "edge id already exists"}
	}

	from, ok := s.idx.NodeByID[e.From.Node]
	if !ok {
		return &OpError{Code: CodeEdgeDanglingEndpoint, Entity: string(e.ID), Message: fmt.Sprintf("from node %q missing", e.From.Node)}
	}
	to, ok := s.idx.NodeByID[e.To.Node]
	if !ok {
		return &OpError{Code: CodeEdgeDanglingEndpoint, Entity: string(e.ID), Message: fmt.Sprintf("to node %q missing", e.To.Node)}
	}

	fromLayout, oerr := s.layoutFor(reg, from)
	if oerr != nil {
		return oerr
	}
	toLayout, oerr := s.layoutFor(reg, to)
	if oerr != nil {
		return oerr
	}

	// From must be a real output slot. If the slot would only be valid as
	// an input, the edge runs backwards.
	if _, ok := fromLayout.Output(e.From.Slot); !ok {
		if _, isInput := fromLayout.Input(e.From.Slot); isInput {
			return &OpError{Code: CodeEdgeDirectionInvalid, Entity: string(e.ID), Message: "edge must run output to input"}
		}
		return &OpError{Code: CodePortInvalid, Entity: string(e.ID), Message: fmt.Sprintf("output slot %d out of range on %q", e.From.Slot, e.From.Node)}
	}
	if _, ok := toLayout.Input(e.To.Slot); !ok {
		if _, isOutput := toLayout.Output(e.To.Slot); isOutput {
			return &OpError{Code: CodeEdgeDirectionInvalid, Entity: string(e.ID), Message: "edge must run output to input"}
		}
		return &OpError{Code: CodePortInvalid, Entity: string(e.ID), Message: fmt.Sprintf("input slot %d out of range on %q", e.To.Slot, e.To.Node)}
	}

	outRef := grid.PortRef{Node: e.From.Node, Dir: grid.DirOut, Slot: e.From.Slot}
	if eid, busy := s.idx.PortToEdge[outRef]; busy {
		return &OpError{Code: CodePortAlreadyConnected, Entity: string(e.ID), Message: fmt.Sprintf("output port %s already used by edge %q", outRef, eid)}
	}
	inRef := grid.PortRef{Node: e.To.Node, Dir: grid.DirIn, Slot: e.To.Slot}
	if eid, busy := s.idx.PortToEdge[inRef]; busy {
		return &OpError{Code: CodePortAlreadyConnected, Entity: string(e.ID), Message: fmt.Sprintf("input port %s already used by edge %q", inRef, eid)}
	}

	s.edges = append(s.edges, e)
	s.indexEdge(&s.edges[len(s.edges)-1])
	s.refreshEdgePointers()
	return nil
}

func (s *state) removeEdge(op *Op) *OpError {
	if _, ok := s.idx.EdgeByID[op.EdgeID]; !ok {
		return &OpError{Code: CodeInvalidOp, Entity: string(op.EdgeID), Message: "edge not found"}
	}
	s.deleteEdge(op.EdgeID)
	s.refreshEdgePointers()
	return nil
}

// deleteEdge resolves the record by id before compacting the slice;
// index pointers go stale the moment elements shift.
func (s *state) deleteEdge(id grid.EdgeID) {
	for i := range s.edges {
		if s.edges[i].ID == id {
			rec := cloneEdge(s.edges[i])
			s.edges = append(s.edges[:i], s.edges[i+1:]...)
			s.unindexEdge(rec)
			break
		}
	}
}

func (s *state) cornerOp(op *Op) *OpError {
	e, ok := s.idx.EdgeByID[op.EdgeID]
	if !ok {
		return &OpError{Code: CodeInvalidOp, Entity: string(op.EdgeID), Message: "edge not found"}
	}
	idx := 0
	if op.Corner != nil {
		idx = *op.Corner
	}
	switch op.Kind {
	case OpAddCorner:
		if op.Pos == nil {
			return &OpError{Code: CodeInvalidPosition, Entity: string(op.EdgeID), Message: "addCorner requires a position"}
		}
		if idx < 0 || idx > len(e.Corners) {
			return &OpError{Code: CodeInvalidPosition, Entity: string(op.EdgeID), Message: fmt.Sprintf("corner index %d out of range", idx)}
		}
		e.Corners = append(e.Corners, grid.Point{})
		copy(e.Corners[idx+1:], e.Corners[idx:])
		e.Corners[idx] = *op.Pos
	case OpMoveCorner:
		if op.Pos == nil {
			return &OpError{Code: CodeInvalidPosition, Entity: string(op.EdgeID), Message: "moveCorner requires a position"}
		}
		if idx < 0 || idx >= len(e.Corners) {
			return &OpError{Code: CodeInvalidPosition, Entity: string(op.EdgeID), Message: fmt.Sprintf("corner index %d out of range", idx)}
		}
		e.Corners[idx] = *op.Pos
	case OpRemoveCorner:
		if idx < 0 || idx >= len(e.Corners) {
			return &OpError{Code: CodeInvalidPosition, Entity: string(op.EdgeID), Message: fmt.Sprintf("corner index %d out of range", idx)}
		}
		e.Corners = append(e.Corners[:idx], e.Corners[idx+1:]...)
	}
	return nil
}

func (s *state) addGroup(reg *registry.Registry, op *Op) *OpError {
	if op.Group == nil {
		return &OpError{Code: CodeInvalidOp, Message: "addGroup requires a group payload"}
	}
	gd := cloneGroup(*op.Group)
	if gd.ID == "" {
		return &OpError{Code: CodeInvalidOp, Message: "addGroup requires an id"}
	}
	if _, dup := s.groups[gd.ID]; dup {
		return &OpError{Code: CodeDuplicateID, Entity: string(gd.ID), Message: "group id already exists"}
	}
	// Internal nodes must resolve and must not nest groups.
	for _, n := range gd.Nodes {
		def, ok := reg.Get(n.Type)
		if !ok {
			return &OpError{Code: CodeUnknownNodeType, Entity: string(n.ID), Message: fmt.Sprintf("unknown node type %q inside group", n.Type)}
		}
		if def.Layout == registry.LayoutCustom {
			return &OpError{Code: CodeGroupRefInvalid, Entity: string(gd.ID), Message: "nested groups are not allowed"}
		}
	}
	s.groups[gd.ID] = gd
	s.groupOrder = append(s.groupOrder, gd.ID)
	return nil
}

func (s *state) removeGroup(op *Op) *OpError {
	if _, ok := s.groups[op.GroupID]; !ok {
		return &OpError{Code: CodeInvalidOp, Entity: string(op.GroupID), Message: "group not found"}
	}
	for i := range s.nodes {
		if s.nodes[i].GroupRef == op.GroupID {
			return &OpError{
				Code:   CodeGroupRefInvalid,
				Entity: string(op.GroupID),
				Message: fmt.Sprintf("node %q still references group %q",
					s.nodes[i].ID, op.GroupID),
			}
		}
	}
	delete(s.groups, op.GroupID)
	for i, id := range s.groupOrder {
		if id == op.GroupID {
			s.groupOrder = append(s.groupOrder[:i], s.groupOrder[i+1:]...)
			break
		}
	}
	return nil
}
