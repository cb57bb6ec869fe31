package harness

import (
	"fmt"

	"github.com/roach88/pulsegrid/internal/build"
	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/model"
	"github.com/roach88/pulsegrid/internal/registry"
	"github.com/roach88/pulsegrid/internal/route"
	"github.com/roach88/pulsegrid/internal/runtime"
)

// Result is one scenario execution.
type Result struct {
	Scenario *Scenario
	Events   []runtime.OutputEvent
	Warnings []runtime.Warning
}

// Run executes a scenario through the full pipeline with the builtin
// catalog. Every stage must succeed; stage failures abort with the
// collected diagnostics.
func Run(s *Scenario) (*Result, error) {
	reg, err := registry.New(registry.Builtin()...)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: registry: %w", s.Name, err)
	}

	g := model.New(reg)
	ops, err := s.ops()
	if err != nil {
		return nil, err
	}
	if res := g.ApplyOps(ops); !res.OK {
		return nil, fmt.Errorf("scenario %q: ops rejected: %v", s.Name, res.Errors[0])
	}
	snap := g.Snapshot()

	cfg := route.DefaultConfig()
	if s.TicksPerGrid != 0 {
		cfg.TicksPerGrid = s.TicksPerGrid
	}
	routed := route.NewRouter(cfg).RouteAll(&snap, reg, nil)
	if len(routed.Errors) > 0 {
		return nil, fmt.Errorf("scenario %q: routing: %v", s.Name, routed.Errors[0])
	}

	compiled := build.Compile(&snap, reg, routed.Delays)
	if !compiled.OK {
		return nil, fmt.Errorf("scenario %q: build: %v", s.Name, compiled.Errors[0])
	}

	eng := runtime.New(reg, runtime.WithSeed(s.Seed))
	eng.SetGraph(compiled.Graph)
	eng.ResetPulses()

	events := eng.QueryWindow(s.Window.From, s.Window.To)
	return &Result{
		Scenario: s,
		Events:   events,
		Warnings: eng.Warnings(),
	}, nil
}

// ops converts the scenario graph into one model batch.
func (s *Scenario) ops() ([]model.Op, error) {
	var ops []model.Op
	for _, n := range s.Graph.Nodes {
		rot := grid.Rotation(n.Rot)
		if !rot.Valid() {
			return nil, fmt.Errorf("scenario %q: node %q rotation %d invalid", s.Name, n.ID, n.Rot)
		}
		ops = append(ops, model.Op{Kind: model.OpAddNode, Node: &model.NodeRecord{
			ID:    grid.NodeID(n.ID),
			Type:  n.Type,
			Pos:   grid.Point{X: n.X, Y: n.Y},
			Rot:   rot,
			Param: n.Param,
		}})
	}
	for _, e := range s.Graph.Edges {
		ops = append(ops, model.Op{Kind: model.OpAddEdge, Edge: &model.EdgeRecord{
			ID:   grid.EdgeID(e.ID),
			From: model.PortEnd{Node: grid.NodeID(e.From), Slot: e.FromSlot},
			To:   model.PortEnd{Node: grid.NodeID(e.To), Slot: e.ToSlot},
		}})
	}
	return ops, nil
}
