package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/model"
	"github.com/roach88/pulsegrid/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.MustNew(registry.Builtin()...)
}

func pulseToOutput() (*model.Snapshot, map[grid.EdgeID]float64) {
	snap := &model.Snapshot{
		Nodes: []model.NodeRecord{
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 5, Y: 0}},
		},
		Edges: []model.EdgeRecord{
			{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		},
	}
	return snap, map[grid.EdgeID]float64{"e1": 2}
}

func TestCompile_SimplePatch(t *testing.T) {
	snap, delays := pulseToOutput()
	res := Compile(snap, testRegistry(t), delays)
	require.True(t, res.OK, "errors: %v", res.Errors)

	g := res.Graph
	require.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)

	e := g.Edges[0]
	assert.Equal(t, grid.RoleSignal, e.Role)
	assert.Equal(t, 2.0, e.Delay)

	p := g.NodeByID["p1"]
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Param, "registry default merged")

	assert.Same(t, e, g.EdgeByPort[grid.PortRef{Node: "p1", Dir: grid.DirOut, Slot: 0}])
	assert.Same(t, e, g.EdgeByPort[grid.PortRef{Node: "o1", Dir: grid.DirIn, Slot: 0}])
	assert.Equal(t, grid.NodeID("p1"), g.NodeAt[grid.Point{X: 0, Y: 0}])
}

func TestCompile_ParamOverrideWins(t *testing.T) {
	snap, delays := pulseToOutput()
	snap.Nodes[0].Param = 6
	res := Compile(snap, testRegistry(t), delays)
	require.True(t, res.OK)
	assert.Equal(t, 6, res.Graph.NodeByID["p1"].Param)
}

func TestCompile_InitStateMaterialized(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: []model.NodeRecord{
			{ID: "g1", Type: "gate", Pos: grid.Point{X: 0, Y: 0}},
		},
	}
	res := Compile(snap, testRegistry(t), nil)
	require.True(t, res.OK)
	assert.Equal(t, map[string]any{"open": true}, res.Graph.NodeByID["g1"].State)
}

func TestCompile_CollectsAllErrors(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: []model.NodeRecord{
			{ID: "x1", Type: "no-such", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 2, Y: 0}},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 5, Y: 0}},
		},
		Edges: []model.EdgeRecord{
			{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		},
	}
	// No delay entry for e1 either: both errors must surface.
	res := Compile(snap, testRegistry(t), nil)
	require.False(t, res.OK)
	assert.Nil(t, res.Graph)

	codes := map[ErrorCode]bool{}
	for _, e := range res.Errors {
		codes[e.Code] = true
	}
	assert.True(t, codes[CodeUnknownNodeType])
	assert.True(t, codes[CodeMissingDelay])
}

func TestCompile_ControlEdgeRole(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: []model.NodeRecord{
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "s1", Type: "set", Pos: grid.Point{X: 4, Y: 0}},
		},
		Edges: []model.EdgeRecord{
			// Slot 1 on "set" is its control input.
			{ID: "c1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "s1", Slot: 1}},
		},
	}
	res := Compile(snap, testRegistry(t), map[grid.EdgeID]float64{"c1": 3})
	require.True(t, res.OK, "errors: %v", res.Errors)
	assert.Equal(t, grid.RoleControl, res.Graph.Edges[0].Role)
}

func TestCompile_SameDirectionRejected(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: []model.NodeRecord{
			{ID: "o1", Type: "output", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "o2", Type: "output", Pos: grid.Point{X: 5, Y: 0}},
		},
		Edges: []model.EdgeRecord{
			// Both endpoints are input slots.
			{ID: "e1", From: model.PortEnd{Node: "o1", Slot: 0}, To: model.PortEnd{Node: "o2", Slot: 0}},
		},
	}
	res := Compile(snap, testRegistry(t), map[grid.EdgeID]float64{"e1": 1})
	require.False(t, res.OK)
	assert.Equal(t, CodeSameDirection, res.Errors[0].Code)
}

func TestCompile_PortSlotInvalid(t *testing.T) {
	snap, delays := pulseToOutput()
	snap.Edges[0].To.Slot = 9
	res := Compile(snap, testRegistry(t), delays)
	require.False(t, res.OK)
	assert.Equal(t, CodePortSlotInvalid, res.Errors[0].Code)
}

func TestCompile_DuplicatePortRejected(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: []model.NodeRecord{
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 5, Y: 0}},
			{ID: "o2", Type: "output", Pos: grid.Point{X: 5, Y: 3}},
		},
		Edges: []model.EdgeRecord{
			{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
			{ID: "e2", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "o2", Slot: 0}},
		},
	}
	res := Compile(snap, testRegistry(t), map[grid.EdgeID]float64{"e1": 1, "e2": 1})
	require.False(t, res.OK)
	assert.Equal(t, CodePortAlreadyConnected, res.Errors[0].Code)
}

// groupSnapshot wires pulse -> [speed inside a group] -> output.
func groupSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Nodes: []model.NodeRecord{
			{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
			{ID: "g1", Type: registry.TypeGroup, Pos: grid.Point{X: 4, Y: 0}, GroupRef: "grp"},
			{ID: "o1", Type: "output", Pos: grid.Point{X: 9, Y: 0}},
		},
		Edges: []model.EdgeRecord{
			{ID: "e1", From: model.PortEnd{Node: "p1", Slot: 0}, To: model.PortEnd{Node: "g1", Slot: 0}},
			{ID: "e2", From: model.PortEnd{Node: "g1", Slot: 0}, To: model.PortEnd{Node: "o1", Slot: 0}},
		},
		Groups: map[grid.GroupID]model.GroupDefinition{
			"grp": {
				ID: "grp",
				Nodes: []model.NodeRecord{
					{ID: "sp", Type: "speed", Pos: grid.Point{X: 0, Y: 0}},
				},
				Inputs:  []model.PortEnd{{Node: "sp", Slot: 0}},
				Outputs: []model.PortEnd{{Node: "sp", Slot: 0}},
			},
		},
	}
}

func TestCompile_FlattensGroups(t *testing.T) {
	delays := map[grid.EdgeID]float64{"e1": 2, "e2": 3}
	res := Compile(groupSnapshot(), testRegistry(t), delays)
	require.True(t, res.OK, "errors: %v", res.Errors)

	g := res.Graph
	// The group shell disappears; the internal speed node is inlined.
	assert.Nil(t, g.NodeByID["g1"])
	inner := g.NodeByID["g1/sp"]
	require.NotNil(t, inner)
	assert.Equal(t, grid.NodeID("g1"), inner.GroupRef)

	// External cables now terminate at the internal ports.
	e1 := g.EdgeByID["e1"]
	require.NotNil(t, e1)
	assert.Equal(t, grid.NodeID("g1/sp"), e1.To.Node)
	e2 := g.EdgeByID["e2"]
	require.NotNil(t, e2)
	assert.Equal(t, grid.NodeID("g1/sp"), e2.From.Node)

	require.Len(t, g.Groups, 1)
	meta := g.Groups[0]
	assert.Equal(t, grid.NodeID("g1"), meta.Instance)
	assert.Equal(t, []grid.NodeID{"g1/sp"}, meta.NodeIDs)
}

func TestCompile_GroupMappingInvalid(t *testing.T) {
	snap := groupSnapshot()
	grp := snap.Groups["grp"]
	grp.Outputs = []model.PortEnd{{Node: "ghost", Slot: 0}}
	snap.Groups["grp"] = grp

	res := Compile(snap, testRegistry(t), map[grid.EdgeID]float64{"e1": 2, "e2": 3})
	require.False(t, res.OK)

	found := false
	for _, e := range res.Errors {
		if e.Code == CodeGroupMappingInvalid {
			found = true
		}
	}
	assert.True(t, found, "want BUILD_GROUP_MAPPING_INVALID, got %v", res.Errors)
}

func TestCompile_GroupControlMappingRoleMismatch(t *testing.T) {
	snap := groupSnapshot()
	grp := snap.Groups["grp"]
	// Project the speed node's SIGNAL input as an external control: the
	// roles disagree and the mapping must be rejected.
	grp.Controls = []model.PortEnd{{Node: "sp", Slot: 0}}
	snap.Groups["grp"] = grp

	res := Compile(snap, testRegistry(t), map[grid.EdgeID]float64{"e1": 2, "e2": 3})
	require.False(t, res.OK)

	found := false
	for _, e := range res.Errors {
		if e.Code == CodeRoleMismatch {
			found = true
		}
	}
	assert.True(t, found, "want BUILD_ROLE_MISMATCH, got %v", res.Errors)
}

func TestCompile_GroupInternalEdgeDelayFallback(t *testing.T) {
	snap := groupSnapshot()
	grp := snap.Groups["grp"]
	grp.Nodes = append(grp.Nodes, model.NodeRecord{ID: "sp2", Type: "speed", Pos: grid.Point{X: 3, Y: 0}})
	grp.Edges = []model.EdgeRecord{
		{ID: "ie1", From: model.PortEnd{Node: "sp", Slot: 0}, To: model.PortEnd{Node: "sp2", Slot: 0}},
	}
	grp.Outputs = []model.PortEnd{{Node: "sp2", Slot: 0}}
	snap.Groups["grp"] = grp

	// Delay keyed by the bare internal edge id: instances share geometry.
	delays := map[grid.EdgeID]float64{"e1": 2, "e2": 3, "ie1": 1.5}
	res := Compile(snap, testRegistry(t), delays)
	require.True(t, res.OK, "errors: %v", res.Errors)

	ie := res.Graph.EdgeByID["g1/ie1"]
	require.NotNil(t, ie)
	assert.Equal(t, 1.5, ie.Delay)
}

func TestCompile_Idempotent(t *testing.T) {
	snap, delays := pulseToOutput()
	reg := testRegistry(t)

	a := Compile(snap, reg, delays)
	b := Compile(snap, reg, delays)
	require.True(t, a.OK)
	require.True(t, b.OK)

	require.Equal(t, len(a.Graph.Nodes), len(b.Graph.Nodes))
	for i := range a.Graph.Nodes {
		assert.Equal(t, a.Graph.Nodes[i].ID, b.Graph.Nodes[i].ID)
		assert.Equal(t, a.Graph.Nodes[i].Param, b.Graph.Nodes[i].Param)
	}
	for i := range a.Graph.Edges {
		assert.Equal(t, *a.Graph.Edges[i], *b.Graph.Edges[i])
	}
}

func TestCompile_DoesNotMutateSnapshot(t *testing.T) {
	snap, delays := pulseToOutput()
	before := snap.Nodes[0]
	_ = Compile(snap, testRegistry(t), delays)
	assert.Equal(t, before, snap.Nodes[0])
}
