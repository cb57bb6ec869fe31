package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pulsegrid/internal/audio"
	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/model"
)

func sampleProject() *Project {
	return &Project{
		SchemaVersion: CurrentSchemaVersion,
		Graph: model.Snapshot{
			Nodes: []model.NodeRecord{
				{ID: "p1", Type: "pulse", Pos: grid.Point{X: 0, Y: 0}},
				{ID: "o1", Type: "output", Pos: grid.Point{X: 5, Y: 3}, Param: 2, Name: "kick out"},
			},
			Edges: []model.EdgeRecord{
				{
					ID:      "e1",
					From:    model.PortEnd{Node: "p1", Slot: 0},
					To:      model.PortEnd{Node: "o1", Slot: 0},
					Corners: []grid.Point{{X: 3, Y: 2}},
				},
			},
			Groups: map[grid.GroupID]model.GroupDefinition{
				"grp": {
					ID:      "grp",
					Nodes:   []model.NodeRecord{{ID: "sp", Type: "speed", Pos: grid.Point{X: 0, Y: 0}}},
					Inputs:  []model.PortEnd{{Node: "sp", Slot: 0}},
					Outputs: []model.PortEnd{{Node: "sp", Slot: 0}},
				},
			},
		},
		Samples:  []*audio.Slot{{S: "bd", N: 0}, {S: "sd", N: 1}},
		Settings: &Settings{Tempo: 128},
		Project:  &Meta{Name: "demo"},
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	p := sampleProject()
	data, err := Save(p)
	require.NoError(t, err)

	res := Load(data)
	require.True(t, res.OK, "errors: %v", res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, p, res.Project)
}

func TestLoad_MissingVersionTreatedAsZeroAndMigrated(t *testing.T) {
	doc := []byte(`{
		"graph": {"nodes": [], "edges": []},
		"groups": {
			"grp": {"id": "grp", "nodes": [], "edges": [], "inputs": [], "outputs": []}
		}
	}`)

	res := Load(doc)
	require.True(t, res.OK, "errors: %v", res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnVersionMigrated, res.Warnings[0].Code)

	// v0 top-level groups moved into graph.groups.
	require.Contains(t, res.Project.Graph.Groups, grid.GroupID("grp"))
	assert.Equal(t, CurrentSchemaVersion, res.Project.SchemaVersion)
}

func TestLoad_NewerVersionFails(t *testing.T) {
	doc := []byte(`{"schemaVersion": 99, "graph": {"nodes": [], "edges": []}}`)
	res := Load(doc)
	require.False(t, res.OK)
	assert.Nil(t, res.Project)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeVersionUnsupported, res.Errors[0].Code)
}

func TestLoad_ParseErrorKeepsNothing(t *testing.T) {
	res := Load([]byte(`{"schemaVersion": 1, "graph": `))
	require.False(t, res.OK)
	assert.Nil(t, res.Project)
	assert.Equal(t, CodeParse, res.Errors[0].Code)
}

func TestLoad_NonIntegerCoordinatesRejected(t *testing.T) {
	doc := []byte(`{
		"schemaVersion": 1,
		"graph": {"nodes": [{"id": "n1", "type": "pulse", "pos": {"x": 1.5, "y": 0}}], "edges": []}
	}`)
	res := Load(doc)
	require.False(t, res.OK)
	assert.Equal(t, CodeParse, res.Errors[0].Code)
}

func TestLoad_ArrayOrderPreserved(t *testing.T) {
	p := sampleProject()
	p.Graph.Nodes = append(p.Graph.Nodes, model.NodeRecord{ID: "z9", Type: "pulse", Pos: grid.Point{X: 9, Y: 9}})
	data, err := Save(p)
	require.NoError(t, err)

	res := Load(data)
	require.True(t, res.OK)
	ids := make([]grid.NodeID, 0, len(res.Project.Graph.Nodes))
	for _, n := range res.Project.Graph.Nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []grid.NodeID{"p1", "o1", "z9"}, ids)
}
