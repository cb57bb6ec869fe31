package build

import (
	"fmt"

	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/model"
	"github.com/roach88/pulsegrid/internal/registry"
)

// Compile validates and fuses a snapshot with routing delays. Delays for
// group-internal edges are looked up first under "<instance>/<edge>" and
// then under the bare internal edge id, since internal geometry does not
// depend on the instance.
func Compile(snap *model.Snapshot, reg *registry.Registry, delays map[grid.EdgeID]float64) *Result {
	c := &compiler{
		snap:   snap,
		reg:    reg,
		delays: delays,
		graph: &Graph{
			NodeByID:    map[grid.NodeID]*Node{},
			EdgeByID:    map[grid.EdgeID]*Edge{},
			EdgeByPort:  map[grid.PortRef]*Edge{},
			EdgesFrom:   map[grid.PortRef][]*Edge{},
			EdgesByNode: map[grid.NodeID][]*Edge{},
			NodeAt:      map[grid.Point]grid.NodeID{},
		},
	}

	c.compileNodes()
	c.compileEdges()

	if len(c.errors) > 0 {
		return &Result{OK: false, Errors: c.errors, Warnings: c.warnings}
	}
	return &Result{OK: true, Graph: c.graph, Warnings: c.warnings}
}

type compiler struct {
	snap     *model.Snapshot
	reg      *registry.Registry
	delays   map[grid.EdgeID]float64
	graph    *Graph
	errors   []*Error
	warnings []string

	// portRemap rewrites external group-instance ports to internal ports.
	portRemap map[grid.PortRef]grid.PortRef
}

func (c *compiler) fail(code ErrorCode, entity, format string, args ...any) {
	c.errors = append(c.errors, &Error{
		Code: code, Entity: entity, Message: fmt.Sprintf(format, args...),
	})
}

// namespaced scopes a group-internal id to its instance.
func namespaced(instance grid.NodeID, id string) string {
	return string(instance) + "/" + id
}

func (c *compiler) compileNodes() {
	c.portRemap = map[grid.PortRef]grid.PortRef{}

	for i := range c.snap.Nodes {
		n := &c.snap.Nodes[i]
		def, ok := c.reg.Get(n.Type)
		if !ok {
			c.fail(CodeUnknownNodeType, string(n.ID), "unknown node type %q", n.Type)
			continue
		}
		if def.Layout == registry.LayoutCustom {
			c.flattenGroup(n, def)
			continue
		}
		c.addNode(compileNode(n, def), n.Pos)
	}
}

func compileNode(n *model.NodeRecord, def *registry.Definition) *Node {
	out := &Node{
		ID:    n.ID,
		Type:  n.Type,
		Def:   def,
		Pos:   n.Pos,
		Rot:   n.Rot,
		Param: def.DefaultParam,
	}
	if n.Param != 0 {
		out.Param = n.Param
	}
	if def.InitState != nil {
		out.State = def.InitState()
	}
	return out
}

func (c *compiler) addNode(n *Node, pos grid.Point) {
	if _, dup := c.graph.NodeByID[n.ID]; dup {
		c.fail(CodeGroupMappingInvalid, string(n.ID), "flattened node id collides")
		return
	}
	c.graph.Nodes = append(c.graph.Nodes, n)
	c.graph.NodeByID[n.ID] = n
	c.graph.NodeAt[pos] = n.ID
}

// flattenGroup inlines one group instance: internal nodes under namespaced
// ids, then a port remap so external edges can be rewritten during edge
// compilation.
func (c *compiler) flattenGroup(inst *model.NodeRecord, def *registry.Definition) {
	gd, ok := c.snap.Groups[inst.GroupRef]
	if !ok {
		c.fail(CodeGroupMappingInvalid, string(inst.ID), "group %q not defined", inst.GroupRef)
		return
	}

	meta := GroupMeta{Instance: inst.ID, Def: gd.ID}

	innerDefs := map[grid.NodeID]*registry.Definition{}
	for i := range gd.Nodes {
		inner := gd.Nodes[i]
		innerDef, ok := c.reg.Get(inner.Type)
		if !ok {
			c.fail(CodeUnknownNodeType, namespaced(inst.ID, string(inner.ID)),
				"unknown node type %q inside group %q", inner.Type, gd.ID)
			continue
		}
		innerDefs[inner.ID] = innerDef

		flat := inner
		flat.ID = grid.NodeID(namespaced(inst.ID, string(inner.ID)))
		// Internal positions are group-local; offset by the instance so
		// positional indices stay collision-free.
		flat.Pos = inst.Pos.Add(inner.Pos)
		cn := compileNode(&flat, innerDef)
		cn.GroupRef = inst.ID
		c.addNode(cn, flat.Pos)
		meta.NodeIDs = append(meta.NodeIDs, cn.ID)
	}

	mapPort := func(ends []model.PortEnd, slot int, dir grid.Direction, wantRole grid.Role, extDir grid.Direction) {
		if slot >= len(ends) {
			return
		}
		end := ends[slot]
		innerDef, ok := innerDefs[end.Node]
		if !ok {
			c.fail(CodeGroupMappingInvalid, string(inst.ID),
				"mapping references unknown internal node %q", end.Node)
			return
		}
		layout, err := registry.DeriveLayout(innerDef, nil)
		if err != nil {
			c.fail(CodeGroupMappingInvalid, string(inst.ID), "derive internal layout: %v", err)
			return
		}
		spec, ok := layout.Port(dir, end.Slot)
		if !ok {
			c.fail(CodeGroupMappingInvalid, string(inst.ID),
				"mapping slot %d out of range on internal node %q", end.Slot, end.Node)
			return
		}
		if spec.Role != wantRole {
			c.fail(CodeRoleMismatch, string(inst.ID),
				"mapping for external %s slot expects %s port, internal %s[%d] is %s",
				extDir, wantRole, end.Node, end.Slot, spec.Role)
			return
		}
		internal := grid.PortRef{
			Node: grid.NodeID(namespaced(inst.ID, string(end.Node))),
			Dir:  dir,
			Slot: end.Slot,
		}
		external := grid.PortRef{Node: inst.ID, Dir: extDir, Slot: slot}
		if extDir == grid.DirIn && wantRole == grid.RoleControl {
			external.Slot = len(gd.Inputs) + slot
		}
		c.portRemap[external] = internal
	}

	for slot := range gd.Inputs {
		mapPort(gd.Inputs, slot, grid.DirIn, grid.RoleSignal, grid.DirIn)
		if mapped, ok := c.portRemap[grid.PortRef{Node: inst.ID, Dir: grid.DirIn, Slot: slot}]; ok {
			meta.ExternalInputs = append(meta.ExternalInputs, mapped)
		}
	}
	for slot := range gd.Controls {
		mapPort(gd.Controls, slot, grid.DirIn, grid.RoleControl, grid.DirIn)
		if mapped, ok := c.portRemap[grid.PortRef{Node: inst.ID, Dir: grid.DirIn, Slot: len(gd.Inputs) + slot}]; ok {
			meta.Controls = append(meta.Controls, mapped)
		}
	}
	for slot := range gd.Outputs {
		mapPort(gd.Outputs, slot, grid.DirOut, grid.RoleSignal, grid.DirOut)
		if mapped, ok := c.portRemap[grid.PortRef{Node: inst.ID, Dir: grid.DirOut, Slot: slot}]; ok {
			meta.ExternalOutputs = append(meta.ExternalOutputs, mapped)
		}
	}

	// Internal edges inline with namespaced ids.
	for i := range gd.Edges {
		inner := gd.Edges[i]
		scoped := model.EdgeRecord{
			ID:   grid.EdgeID(namespaced(inst.ID, string(inner.ID))),
			From: model.PortEnd{Node: grid.NodeID(namespaced(inst.ID, string(inner.From.Node))), Slot: inner.From.Slot},
			To:   model.PortEnd{Node: grid.NodeID(namespaced(inst.ID, string(inner.To.Node))), Slot: inner.To.Slot},
		}
		c.compileEdge(&scoped, grid.EdgeID(inner.ID))
	}

	c.graph.Groups = append(c.graph.Groups, meta)
}

func (c *compiler) compileEdges() {
	for i := range c.snap.Edges {
		c.compileEdge(&c.snap.Edges[i], "")
	}
}

// compileEdge validates one edge and splices it into the graph.
// delayAlias, when non-empty, is a fallback key for the delay lookup
// (group-internal edges share geometry across instances).
func (c *compiler) compileEdge(e *model.EdgeRecord, delayAlias grid.EdgeID) {
	if _, dup := c.graph.EdgeByID[e.ID]; dup {
		c.fail(CodeGroupMappingInvalid, string(e.ID), "edge id collides after flattening")
		return
	}

	from := grid.PortRef{Node: e.From.Node, Dir: grid.DirOut, Slot: e.From.Slot}
	to := grid.PortRef{Node: e.To.Node, Dir: grid.DirIn, Slot: e.To.Slot}
	if mapped, ok := c.portRemap[from]; ok {
		from = mapped
	}
	if mapped, ok := c.portRemap[to]; ok {
		to = mapped
	}

	fromSpec, ok := c.resolvePort(e.ID, from)
	if !ok {
		return
	}
	toSpec, ok := c.resolvePort(e.ID, to)
	if !ok {
		return
	}
	if fromSpec.Dir == toSpec.Dir {
		c.fail(CodeSameDirection, string(e.ID), "edge endpoints share direction %s", fromSpec.Dir)
		return
	}
	if fromSpec.Role == grid.RoleControl {
		// Control-role source ports cannot exist on stock archetypes;
		// a bad group projection is the only way here.
		c.fail(CodeRoleMismatch, string(e.ID), "edge source resolves to a control port")
		return
	}

	role := toSpec.Role

	if prev, busy := c.graph.EdgeByPort[from]; busy {
		c.fail(CodePortAlreadyConnected, string(e.ID), "output port %s already used by edge %q", from, prev.ID)
		return
	}
	if prev, busy := c.graph.EdgeByPort[to]; busy {
		c.fail(CodePortAlreadyConnected, string(e.ID), "input port %s already used by edge %q", to, prev.ID)
		return
	}

	delay, ok := c.delays[e.ID]
	if !ok && delayAlias != "" {
		delay, ok = c.delays[delayAlias]
	}
	if !ok {
		c.fail(CodeMissingDelay, string(e.ID), "no delay entry for edge")
		return
	}

	edge := &Edge{ID: e.ID, From: from, To: to, Role: role, Delay: delay}
	c.graph.Edges = append(c.graph.Edges, edge)
	c.graph.EdgeByID[edge.ID] = edge
	c.graph.EdgeByPort[from] = edge
	c.graph.EdgeByPort[to] = edge
	c.graph.EdgesFrom[from] = append(c.graph.EdgesFrom[from], edge)
	c.graph.EdgesByNode[from.Node] = append(c.graph.EdgesByNode[from.Node], edge)
	if to.Node != from.Node {
		c.graph.EdgesByNode[to.Node] = append(c.graph.EdgesByNode[to.Node], edge)
	}
}

// resolvePort looks up the compiled node and derives the port spec for one
// endpoint. Reports the precise failure and returns ok=false on any miss.
func (c *compiler) resolvePort(edge grid.EdgeID, ref grid.PortRef) (registry.PortSpec, bool) {
	n, ok := c.graph.NodeByID[ref.Node]
	if !ok {
		c.fail(CodeUnknownNodeType, string(edge), "endpoint node %q not compiled", ref.Node)
		return registry.PortSpec{}, false
	}
	layout, err := registry.DeriveLayout(n.Def, nil)
	if err != nil {
		c.fail(CodePortSlotInvalid, string(edge), "derive layout for %q: %v", ref.Node, err)
		return registry.PortSpec{}, false
	}
	spec, ok := layout.Port(ref.Dir, ref.Slot)
	if !ok {
		// The slot may exist in the opposite direction; that is a
		// same-direction wiring mistake rather than a bad index.
		if opp, isOpp := layout.Port(opposite(ref.Dir), ref.Slot); isOpp {
			return opp, true
		}
		c.fail(CodePortSlotInvalid, string(edge), "%s slot %d out of range on %q", ref.Dir, ref.Slot, ref.Node)
		return registry.PortSpec{}, false
	}
	return spec, true
}

func opposite(d grid.Direction) grid.Direction {
	if d == grid.DirIn {
		return grid.DirOut
	}
	return grid.DirIn
}
