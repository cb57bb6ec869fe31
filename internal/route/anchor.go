package route

import (
	"fmt"

	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/model"
	"github.com/roach88/pulsegrid/internal/registry"
)

// anchorFor derives the world-space grid anchor and outward side for one
// directed port on a node.
//
// Unrotated placement with L = layout extent: left ports at (0, 1..N),
// right at (L, 1..N), top at (1..N, 0), bottom at (1..N, L). Rotation is
// applied in 90-degree steps around the node square; slot indices never
// change, only where they land.
func anchorFor(n *model.NodeRecord, layout *registry.Layout, dir grid.Direction, slot int) (grid.Point, grid.Side, error) {
	spec, ok := layout.Port(dir, slot)
	if !ok {
		return grid.Point{}, "", fmt.Errorf("%s slot %d out of range", dir, slot)
	}

	l := layout.Extent
	var local grid.Point
	switch spec.Side {
	case grid.SideLeft:
		local = grid.Point{X: 0, Y: spec.Index + 1}
	case grid.SideRight:
		local = grid.Point{X: l, Y: spec.Index + 1}
	case grid.SideTop:
		local = grid.Point{X: spec.Index + 1, Y: 0}
	case grid.SideBottom:
		local = grid.Point{X: spec.Index + 1, Y: l}
	}

	local = rotateLocal(local, l, n.Rot)
	side := spec.Side.Rotate(n.Rot)
	return n.Pos.Add(local), side, nil
}

// rotateLocal rotates a point on the 0..l node square clockwise.
func rotateLocal(p grid.Point, l int, r grid.Rotation) grid.Point {
	switch r {
	case grid.Rot90:
		return grid.Point{X: l - p.Y, Y: p.X}
	case grid.Rot180:
		return grid.Point{X: l - p.X, Y: l - p.Y}
	case grid.Rot270:
		return grid.Point{X: p.Y, Y: l - p.X}
	}
	return p
}
