package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/roach88/pulsegrid/internal/build"
	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/model"
	"github.com/roach88/pulsegrid/internal/registry"
	"github.com/roach88/pulsegrid/internal/route"
	"github.com/roach88/pulsegrid/internal/serial"
)

func sortedGroupIDs(groups map[grid.GroupID]model.GroupDefinition) []grid.GroupID {
	out := make([]grid.GroupID, 0, len(groups))
	for id := range groups {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// pipeline is the shared load-route-compile path behind most commands.
type pipeline struct {
	reg      *registry.Registry
	project  *serial.Project
	snapshot model.Snapshot
	routed   *route.Result
	compiled *build.Result
	warnings []string
}

// loadProject reads and parses one project file.
func loadProject(path string) (*serial.Project, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "read project", err)
	}
	res := serial.Load(data)
	if !res.OK {
		return nil, nil, NewExitError(ExitFailure, fmt.Sprintf("load project: %v", res.Errors[0]))
	}
	var warnings []string
	for _, w := range res.Warnings {
		warnings = append(warnings, fmt.Sprintf("%s: %s", w.Code, w.Message))
	}
	return res.Project, warnings, nil
}

// runPipeline loads a project and carries it through model, routing, and
// build. Any stage failure becomes an ExitError with the stage's first
// diagnostic.
func runPipeline(path string) (*pipeline, error) {
	p := &pipeline{}

	project, warnings, err := loadProject(path)
	if err != nil {
		return nil, err
	}
	p.project = project
	p.warnings = warnings

	p.reg, err = registry.New(registry.Builtin()...)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "registry", err)
	}

	g := model.New(p.reg)
	ops := snapshotOps(&project.Graph)
	if res := g.ApplyOps(ops); !res.OK {
		return nil, NewExitError(ExitFailure, fmt.Sprintf("graph invalid: %v", res.Errors[0]))
	}
	p.snapshot = g.Snapshot()

	router := route.NewRouter(route.DefaultConfig())
	p.routed = router.RouteAll(&p.snapshot, p.reg, nil)
	if len(p.routed.Errors) > 0 {
		return nil, NewExitError(ExitFailure, fmt.Sprintf("routing failed: %v", p.routed.Errors[0]))
	}

	delays := make(map[grid.EdgeID]float64, len(p.routed.Delays))
	for id, d := range p.routed.Delays {
		delays[id] = d
	}
	// Group-internal edges route against their own sub-snapshot; the
	// builder looks their delays up by bare internal id.
	for _, id := range sortedGroupIDs(p.snapshot.Groups) {
		gd := p.snapshot.Groups[id]
		sub := model.Snapshot{Nodes: gd.Nodes, Edges: gd.Edges}
		res := route.NewRouter(route.DefaultConfig()).RouteAll(&sub, p.reg, nil)
		if len(res.Errors) > 0 {
			return nil, NewExitError(ExitFailure, fmt.Sprintf("routing group %q failed: %v", id, res.Errors[0]))
		}
		for eid, d := range res.Delays {
			delays[eid] = d
		}
	}

	p.compiled = build.Compile(&p.snapshot, p.reg, delays)
	if !p.compiled.OK {
		return nil, NewExitError(ExitFailure, fmt.Sprintf("build failed: %v", p.compiled.Errors[0]))
	}
	return p, nil
}

// snapshotOps converts a persisted snapshot into one model batch, groups
// first so instances validate.
func snapshotOps(snap *model.Snapshot) []model.Op {
	var ops []model.Op
	for _, id := range sortedGroupIDs(snap.Groups) {
		gd := snap.Groups[id]
		ops = append(ops, model.Op{Kind: model.OpAddGroup, Group: &gd})
	}
	for i := range snap.Nodes {
		n := snap.Nodes[i]
		ops = append(ops, model.Op{Kind: model.OpAddNode, Node: &n})
	}
	for i := range snap.Edges {
		e := snap.Edges[i]
		ops = append(ops, model.Op{Kind: model.OpAddEdge, Edge: &e})
	}
	return ops
}
