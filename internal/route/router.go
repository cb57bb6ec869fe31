package route

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/model"
	"github.com/roach88/pulsegrid/internal/registry"
)

// ErrorCode categorizes per-edge routing failures.
type ErrorCode string

const (
	CodeMissingNode   ErrorCode = "ROUTE_MISSING_NODE"
	CodeMissingEdge   ErrorCode = "ROUTE_MISSING_EDGE"
	CodeInvalidPort   ErrorCode = "ROUTE_INVALID_PORT"
	CodeAnchorFail    ErrorCode = "ROUTE_ANCHOR_FAIL"
	CodeInternalError ErrorCode = "ROUTE_INTERNAL_ERROR"
)

// Error is one edge's routing failure. A failed edge produces no geometry
// and no delay; there is no silent fallback.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Edge    grid.EdgeID `json:"edge"`
	Message string      `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: edge %q: %s", e.Code, e.Edge, e.Message)
}

// Preference breaks the tie between the two L-shaped candidates when the
// horizontal and vertical spans are equal.
type Preference string

const (
	PreferHorizontal Preference = "horizontal"
	PreferVertical   Preference = "vertical"
)

// Config is the routing configuration. It participates in cache keys.
type Config struct {
	// TicksPerGrid scales polyline length to delay ticks.
	TicksPerGrid float64
	// BendPreference picks the L orientation when spans tie.
	BendPreference Preference
}

// DefaultConfig returns the stock configuration: one tick per grid unit,
// horizontal-first ties.
func DefaultConfig() Config {
	return Config{TicksPerGrid: 1, BendPreference: PreferHorizontal}
}

// EdgeRoute is the routing output for one edge.
type EdgeRoute struct {
	Edge grid.EdgeID `json:"edge"`
	// Points is the grid-integer polyline from output anchor to input
	// anchor, manual corners included.
	Points []grid.Point `json:"points"`
	// PathD is the pure-geometry SVG path. Join styling is a renderer
	// concern, not data.
	PathD string `json:"pathD"`
	// TotalLength is the polyline length in grid units.
	TotalLength int `json:"totalLength"`
	// DelayTicks = TotalLength * TicksPerGrid. May be zero; the runtime
	// enforces its positive floor.
	DelayTicks float64 `json:"delayTicks"`
}

// Result is a batch routing outcome. Failed edges appear in Errors and in
// neither map.
type Result struct {
	Routes map[grid.EdgeID]*EdgeRoute
	Delays map[grid.EdgeID]float64
	Errors []*Error
}

type cacheEntry struct {
	key   string
	route *EdgeRoute
}

// Router routes snapshots incrementally through a per-edge cache.
type Router struct {
	cfg    Config
	cache  map[grid.EdgeID]cacheEntry
	logger *slog.Logger
}

// NewRouter creates a Router with the given config.
func NewRouter(cfg Config) *Router {
	if cfg.TicksPerGrid == 0 {
		cfg.TicksPerGrid = 1
	}
	if cfg.BendPreference == "" {
		cfg.BendPreference = PreferHorizontal
	}
	return &Router{cfg: cfg, cache: map[grid.EdgeID]cacheEntry{}, logger: slog.Default()}
}

// RouteAll routes every edge in the snapshot. When changed is non-nil,
// edges outside the set reuse their cached entry verbatim; edges inside it
// are recomputed. Callers derive the changed set from model indices (a node
// move dirties every incident edge). Cache entries for edges no longer in
// the snapshot are dropped.
func (r *Router) RouteAll(snap *model.Snapshot, reg *registry.Registry, changed map[grid.EdgeID]bool) *Result {
	res := &Result{
		Routes: make(map[grid.EdgeID]*EdgeRoute, len(snap.Edges)),
		Delays: make(map[grid.EdgeID]float64, len(snap.Edges)),
	}

	live := make(map[grid.EdgeID]bool, len(snap.Edges))
	for i := range snap.Edges {
		e := &snap.Edges[i]
		live[e.ID] = true

		if changed != nil && !changed[e.ID] {
			if entry, ok := r.cache[e.ID]; ok {
				res.Routes[e.ID] = entry.route
				res.Delays[e.ID] = entry.route.DelayTicks
				continue
			}
		}

		key, rt, rerr := r.routeEdge(snap, reg, e)
		if rerr != nil {
			res.Errors = append(res.Errors, rerr)
			delete(r.cache, e.ID)
			continue
		}
		if entry, ok := r.cache[e.ID]; ok && entry.key == key {
			rt = entry.route
		} else {
			r.cache[e.ID] = cacheEntry{key: key, route: rt}
		}
		res.Routes[e.ID] = rt
		res.Delays[e.ID] = rt.DelayTicks
	}

	for id := range r.cache {
		if !live[id] {
			delete(r.cache, id)
		}
	}
	if len(res.Errors) > 0 {
		r.logger.Warn("routing completed with failures",
			"edges", len(snap.Edges), "failed", len(res.Errors))
	}
	return res
}

// Route routes a single edge by id, bypassing the cache.
func (r *Router) Route(snap *model.Snapshot, reg *registry.Registry, id grid.EdgeID) (*EdgeRoute, *Error) {
	for i := range snap.Edges {
		if snap.Edges[i].ID == id {
			_, rt, rerr := r.routeEdge(snap, reg, &snap.Edges[i])
			return rt, rerr
		}
	}
	return nil, &Error{Code: CodeMissingEdge, Edge: id, Message: "edge not in snapshot"}
}

// routeEdge computes the cache key and geometry for one edge.
func (r *Router) routeEdge(snap *model.Snapshot, reg *registry.Registry, e *model.EdgeRecord) (string, *EdgeRoute, *Error) {
	from, ok := snap.Node(e.From.Node)
	if !ok {
		return "", nil, &Error{Code: CodeMissingNode, Edge: e.ID, Message: fmt.Sprintf("from node %q missing", e.From.Node)}
	}
	to, ok := snap.Node(e.To.Node)
	if !ok {
		return "", nil, &Error{Code: CodeMissingNode, Edge: e.ID, Message: fmt.Sprintf("to node %q missing", e.To.Node)}
	}

	fromLayout, err := layoutFor(snap, reg, &from)
	if err != nil {
		return "", nil, &Error{Code: CodeAnchorFail, Edge: e.ID, Message: err.Error()}
	}
	toLayout, err := layoutFor(snap, reg, &to)
	if err != nil {
		return "", nil, &Error{Code: CodeAnchorFail, Edge: e.ID, Message: err.Error()}
	}

	key, err := grid.RouteKey(map[string]any{
		"fromPos":  from.Pos,
		"fromRot":  from.Rot,
		"fromSlot": e.From.Slot,
		"fromType": from.Type,
		"toPos":    to.Pos,
		"toRot":    to.Rot,
		"toSlot":   e.To.Slot,
		"toType":   to.Type,
		"corners":  e.Corners,
		"tpg":      r.cfg.TicksPerGrid,
		"bend":     string(r.cfg.BendPreference),
	})
	if err != nil {
		return "", nil, &Error{Code: CodeInternalError, Edge: e.ID, Message: err.Error()}
	}

	outAnchor, outSide, err := anchorFor(&from, fromLayout, grid.DirOut, e.From.Slot)
	if err != nil {
		return "", nil, &Error{Code: CodeInvalidPort, Edge: e.ID, Message: err.Error()}
	}
	inAnchor, inSide, err := anchorFor(&to, toLayout, grid.DirIn, e.To.Slot)
	if err != nil {
		return "", nil, &Error{Code: CodeInvalidPort, Edge: e.ID, Message: err.Error()}
	}

	points := orthogonal(outAnchor, outSide, inAnchor, inSide, e.Corners, r.cfg.BendPreference)

	total := 0
	for i := 1; i < len(points); i++ {
		total += points[i-1].Manhattan(points[i])
	}

	rt := &EdgeRoute{
		Edge:        e.ID,
		Points:      points,
		PathD:       pathD(points),
		TotalLength: total,
		DelayTicks:  float64(total) * r.cfg.TicksPerGrid,
	}
	return key, rt, nil
}

func layoutFor(snap *model.Snapshot, reg *registry.Registry, n *model.NodeRecord) (*registry.Layout, error) {
	def, ok := reg.Get(n.Type)
	if !ok {
		return nil, fmt.Errorf("unknown node type %q", n.Type)
	}
	var ext *registry.ExternalPorts
	if def.Layout == registry.LayoutCustom {
		gd, ok := snap.Groups[n.GroupRef]
		if !ok {
			return nil, fmt.Errorf("group %q not defined", n.GroupRef)
		}
		ext = &registry.ExternalPorts{
			Inputs: len(gd.Inputs), Outputs: len(gd.Outputs), Controls: len(gd.Controls),
		}
	}
	return registry.DeriveLayout(def, ext)
}

// orthogonal builds the axis-aligned polyline: unit stubs along the port
// normals, manual corners as hard constraints in order, and a minimum-bend
// L between consecutive constraints.
func orthogonal(outAnchor grid.Point, outSide grid.Side, inAnchor grid.Point, inSide grid.Side, corners []grid.Point, pref Preference) []grid.Point {
	stubOut := outAnchor.Add(outSide.Normal())
	stubIn := inAnchor.Add(inSide.Normal())

	constraints := make([]grid.Point, 0, len(corners)+2)
	constraints = append(constraints, stubOut)
	constraints = append(constraints, corners...)
	constraints = append(constraints, stubIn)

	manual := make(map[grid.Point]bool, len(corners))
	for _, c := range corners {
		manual[c] = true
	}

	pts := []grid.Point{outAnchor}
	cur := outAnchor
	for _, next := range constraints {
		pts = appendSegment(pts, cur, next, pref)
		cur = next
	}
	pts = appendSegment(pts, cur, inAnchor, pref)

	return collapse(pts, manual)
}

// appendSegment extends pts from a to b with at most one bend.
func appendSegment(pts []grid.Point, a, b grid.Point, pref Preference) []grid.Point {
	if a == b {
		return pts
	}
	if a.X == b.X || a.Y == b.Y {
		return append(pts, b)
	}
	dx := abs(b.X - a.X)
	dy := abs(b.Y - a.Y)
	horizontalFirst := dx > dy || (dx == dy && pref == PreferHorizontal)
	if horizontalFirst {
		return append(pts, grid.Point{X: b.X, Y: a.Y}, b)
	}
	return append(pts, grid.Point{X: a.X, Y: b.Y}, b)
}

// collapse removes duplicate consecutive points and drops collinear
// midpoints, keeping manual corners even when collinear.
func collapse(pts []grid.Point, manual map[grid.Point]bool) []grid.Point {
	out := make([]grid.Point, 0, len(pts))
	for _, p := range pts {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}

	if len(out) < 3 {
		return out
	}
	kept := out[:1]
	for i := 1; i < len(out)-1; i++ {
		prev := kept[len(kept)-1]
		cur, next := out[i], out[i+1]
		if !manual[cur] && collinear(prev, cur, next) {
			continue
		}
		kept = append(kept, cur)
	}
	kept = append(kept, out[len(out)-1])
	return kept
}

func collinear(a, b, c grid.Point) bool {
	return (a.X == b.X && b.X == c.X) || (a.Y == b.Y && b.Y == c.Y)
}

func pathD(pts []grid.Point) string {
	if len(pts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("M ")
	sb.WriteString(strconv.Itoa(pts[0].X))
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(pts[0].Y))
	for _, p := range pts[1:] {
		sb.WriteString(" L ")
		sb.WriteString(strconv.Itoa(p.X))
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(p.Y))
	}
	return sb.String()
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
