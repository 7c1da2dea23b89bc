package core

import (
	"github.com/paulmach/orb"

	"github.com/signalsfoundry/infection-simulator/model"
)

// BoundaryHandler keeps actor centres inside the arena with elastic wall bounces.
type BoundaryHandler struct {
	Bounds orb.Bound
}

// NewBoundaryHandler constructs a handler for the given arena.
func NewBoundaryHandler(bounds orb.Bound) BoundaryHandler {
	return BoundaryHandler{Bounds: bounds}
}

// Apply reflects the outward velocity component and clamps the position for
// every wall the actor has reached or crossed. An actor sitting exactly on a
// wall and moving outward is reflected. It reports whether anything changed;
// applying it twice is the same as applying it once.
func (h BoundaryHandler) Apply(a *model.Actor) bool {
	if !a.Alive() {
		return false
	}
	x, vx, cx := bounce(a.Pos.X, a.Vel.X, h.Bounds.Min[0], h.Bounds.Max[0])
	y, vy, cy := bounce(a.Pos.Y, a.Vel.Y, h.Bounds.Min[1], h.Bounds.Max[1])
	if !cx && !cy {
		return false
	}
	a.Pos = model.Vec2{X: x, Y: y}
	a.Vel = model.Vec2{X: vx, Y: vy}
	return true
}

// Clamp pulls a position back inside the arena without touching velocity
// and reports whether it had to. Separation pushes use it so they never
// leave an actor outside the walls.
func (h BoundaryHandler) Clamp(a *model.Actor) bool {
	x := clamp(a.Pos.X, h.Bounds.Min[0], h.Bounds.Max[0])
	y := clamp(a.Pos.Y, h.Bounds.Min[1], h.Bounds.Max[1])
	if x == a.Pos.X && y == a.Pos.Y {
		return false
	}
	a.Pos = model.Vec2{X: x, Y: y}
	return true
}

func bounce(p, v, lo, hi float64) (float64, float64, bool) {
	switch {
	case p <= lo && (p < lo || v < 0):
		if v < 0 {
			v = -v
		}
		return lo, v, true
	case p >= hi && (p > hi || v > 0):
		if v > 0 {
			v = -v
		}
		return hi, v, true
	}
	return p, v, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
