package registry

import (
	"fmt"

	"github.com/roach88/pulsegrid/internal/grid"
)

// Archetype names a port-placement template.
type Archetype string

const (
	LayoutSingleIO         Archetype = "single-io"
	LayoutSingleIOControl  Archetype = "single-io-control"
	LayoutSingleIn         Archetype = "single-in"
	LayoutMultiOut6        Archetype = "multi-out-6"
	LayoutMultiOut6Control Archetype = "multi-out-6-control"
	LayoutMultiIn6         Archetype = "multi-in-6"
	LayoutCustom           Archetype = "custom"
)

type archetypeSpec struct {
	inputs, outputs              int
	allowControl, requireControl bool
}

var archetypeSpecs = map[Archetype]archetypeSpec{
	LayoutSingleIO:         {inputs: 1, outputs: 1},
	LayoutSingleIOControl:  {inputs: 1, outputs: 1, allowControl: true, requireControl: true},
	LayoutSingleIn:         {inputs: 1, outputs: 0},
	LayoutMultiOut6:        {inputs: 1, outputs: 6},
	LayoutMultiOut6Control: {inputs: 1, outputs: 6, allowControl: true, requireControl: true},
	LayoutMultiIn6:         {inputs: 6, outputs: 1},
	LayoutCustom:           {allowControl: true},
}

// sixWay is the globally fixed multi-IO placement order: top-left,
// top-right, right-top, right-bottom, bottom-right, bottom-left. Defined at
// rotation 0; rotation never permutes slots, only the rendered geometry.
var sixWay = []struct {
	side  grid.Side
	index int
}{
	{grid.SideTop, 0},
	{grid.SideTop, 1},
	{grid.SideRight, 0},
	{grid.SideRight, 1},
	{grid.SideBottom, 1},
	{grid.SideBottom, 0},
}

// PortSpec is one derived port: its slot, side placement at rotation 0, the
// 0-based index along that side, and its role.
type PortSpec struct {
	Dir   grid.Direction
	Slot  int
	Side  grid.Side
	Index int
	Role  grid.Role
}

// Layout is a node's full derived port placement. Extent is the node's side
// length in grid units; anchors land on 1..N along each side with N+1 = Extent.
type Layout struct {
	Inputs  []PortSpec // signal inputs first, then control inputs
	Outputs []PortSpec
	Extent  int
}

// Input returns the input spec for a slot index.
func (l *Layout) Input(slot int) (PortSpec, bool) {
	if slot < 0 || slot >= len(l.Inputs) {
		return PortSpec{}, false
	}
	return l.Inputs[slot], true
}

// Output returns the output spec for a slot index.
func (l *Layout) Output(slot int) (PortSpec, bool) {
	if slot < 0 || slot >= len(l.Outputs) {
		return PortSpec{}, false
	}
	return l.Outputs[slot], true
}

// Port resolves a directed slot.
func (l *Layout) Port(dir grid.Direction, slot int) (PortSpec, bool) {
	if dir == grid.DirIn {
		return l.Input(slot)
	}
	return l.Output(slot)
}

// ExternalPorts carries the group-definition port counts a custom-layout
// node exposes. Nil for every non-group definition.
type ExternalPorts struct {
	Inputs   int
	Outputs  int
	Controls int
}

// DeriveLayout computes the port placement for a definition. For custom
// layouts, ext supplies the group's external port counts; for every other
// archetype ext is ignored.
//
// Placement rules (rotation 0):
//   - signal inputs stack on the left edge, control inputs follow them
//   - single outputs sit on the right edge
//   - six-way ports follow the fixed sixWay order
//   - multi-in-6 inputs occupy the six-way spots and the lone output takes
//     the left edge
//   - custom inputs (signal then control) stack left, outputs stack right
func DeriveLayout(d *Definition, ext *ExternalPorts) (*Layout, error) {
	switch d.Layout {
	case LayoutSingleIO, LayoutSingleIOControl, LayoutSingleIn:
		return stackedLayout(d.Inputs, d.Outputs, d.ControlPorts), nil

	case LayoutMultiOut6, LayoutMultiOut6Control:
		l := &Layout{}
		l.Inputs = append(l.Inputs, PortSpec{Dir: grid.DirIn, Slot: 0, Side: grid.SideLeft, Index: 0, Role: grid.RoleSignal})
		for c := 0; c < d.ControlPorts; c++ {
			l.Inputs = append(l.Inputs, PortSpec{
				Dir: grid.DirIn, Slot: 1 + c, Side: grid.SideLeft, Index: 1 + c, Role: grid.RoleControl,
			})
		}
		for s, pos := range sixWay {
			l.Outputs = append(l.Outputs, PortSpec{
				Dir: grid.DirOut, Slot: s, Side: pos.side, Index: pos.index, Role: grid.RoleSignal,
			})
		}
		l.Extent = extentFor(l)
		return l, nil

	case LayoutMultiIn6:
		l := &Layout{}
		for s, pos := range sixWay {
			l.Inputs = append(l.Inputs, PortSpec{
				Dir: grid.DirIn, Slot: s, Side: pos.side, Index: pos.index, Role: grid.RoleSignal,
			})
		}
		l.Outputs = append(l.Outputs, PortSpec{Dir: grid.DirOut, Slot: 0, Side: grid.SideLeft, Index: 0, Role: grid.RoleSignal})
		l.Extent = extentFor(l)
		return l, nil

	case LayoutCustom:
		if ext == nil {
			return nil, fmt.Errorf("custom layout %q needs external port counts", d.Type)
		}
		return stackedLayout(ext.Inputs, ext.Outputs, ext.Controls), nil
	}
	return nil, fmt.Errorf("unknown archetype %q", d.Layout)
}

// stackedLayout places inputs (signal then control) down the left edge and
// outputs down the right edge.
func stackedLayout(inputs, outputs, controls int) *Layout {
	l := &Layout{}
	for s := 0; s < inputs; s++ {
		l.Inputs = append(l.Inputs, PortSpec{
			Dir: grid.DirIn, Slot: s, Side: grid.SideLeft, Index: s, Role: grid.RoleSignal,
		})
	}
	for c := 0; c < controls; c++ {
		l.Inputs = append(l.Inputs, PortSpec{
			Dir: grid.DirIn, Slot: inputs + c, Side: grid.SideLeft, Index: inputs + c, Role: grid.RoleControl,
		})
	}
	for s := 0; s < outputs; s++ {
		l.Outputs = append(l.Outputs, PortSpec{
			Dir: grid.DirOut, Slot: s, Side: grid.SideRight, Index: s, Role: grid.RoleSignal,
		})
	}
	l.Extent = extentFor(l)
	return l
}

// extentFor sizes the node so the fullest side fits: L = portsOnSide + 1.
func extentFor(l *Layout) int {
	counts := map[grid.Side]int{}
	for _, p := range l.Inputs {
		counts[p.Side]++
	}
	for _, p := range l.Outputs {
		counts[p.Side]++
	}
	max := 1
	for _, n := range counts {
		if n > max {
			max = n
		}
	}
	return max + 1
}
