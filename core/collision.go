package core

import (
	"math"

	"github.com/signalsfoundry/infection-simulator/model"
)

// Contact reports what happened when a pair was resolved.
type Contact struct {
	Pair Pair
	// Exchanged is false when the pair was touching but not approaching.
	Exchanged bool
	// Infected counts transmissions in this contact (0 or 1).
	Infected int
	// Degenerate is set when the centres coincided and a random normal was used.
	Degenerate bool
}

// coincidentEpsilon is the centre distance below which the contact normal is
// undefined.
const coincidentEpsilon = 1e-12

// separationSlop is the overlap below which actors count as just touching.
const separationSlop = 1e-10

// CollisionResolver applies elastic collision response, overlap separation and
// infection exposure to a touching pair.
type CollisionResolver struct {
	Boundary BoundaryHandler
}

// NewCollisionResolver constructs a resolver that keeps separated actors inside boundary.
func NewCollisionResolver(boundary BoundaryHandler) *CollisionResolver {
	return &CollisionResolver{Boundary: boundary}
}

// Resolve handles one contact between a and b. Velocities along the line of
// centres are exchanged with the two-body elastic formula, the pair is
// pushed apart, and each actor is exposed to the other's pre-contact state.
func (r *CollisionResolver) Resolve(a, b *model.Actor, rng model.Rand) Contact {
	var c Contact
	if !a.Alive() || !b.Alive() {
		return c
	}

	n, dist, degenerate := contactNormal(a, b, rng)
	c.Degenerate = degenerate
	c.Exchanged = exchange(a, b, n)
	r.separate(a, b, n, dist)

	sa, sb := a.State(), b.State()
	if a.Expose(sb, b.Params.TransmissionProb, rng) {
		c.Infected++
	}
	if b.Expose(sa, a.Params.TransmissionProb, rng) {
		c.Infected++
	}
	return c
}

// Separate only removes overlap. It is used by relaxation passes after the
// main resolution and never changes velocity or infection state.
func (r *CollisionResolver) Separate(a, b *model.Actor, rng model.Rand) bool {
	if !a.Alive() || !b.Alive() {
		return false
	}
	n, dist, _ := contactNormal(a, b, rng)
	return r.separate(a, b, n, dist)
}

// contactNormal returns the unit vector from a to b. Coincident centres get a
// direction drawn from rng.
func contactNormal(a, b *model.Actor, rng model.Rand) (model.Vec2, float64, bool) {
	d := b.Pos.Sub(a.Pos)
	dist := d.Norm()
	if dist < coincidentEpsilon {
		theta := 2 * math.Pi * rng.Float64()
		return model.Vec2{X: math.Cos(theta), Y: math.Sin(theta)}, 0, true
	}
	return model.Vec2{X: d.X / dist, Y: d.Y / dist}, dist, false
}

// exchange applies the 1-D elastic collision along n. Perpendicular
// components are untouched. Pairs that are not closing get no impulse.
func exchange(a, b *model.Actor, n model.Vec2) bool {
	closing := a.Vel.Sub(b.Vel).Dot(n)
	if closing <= 0 {
		return false
	}
	ma, mb := a.Params.Mass, b.Params.Mass
	total := ma + mb
	a.Vel = a.Vel.Sub(n.Scale(2 * mb / total * closing))
	b.Vel = b.Vel.Add(n.Scale(2 * ma / total * closing))
	return true
}

// separate pushes the pair apart along n so they just touch, sharing the
// correction in proportion to inverse mass.
func (r *CollisionResolver) separate(a, b *model.Actor, n model.Vec2, dist float64) bool {
	overlap := a.Params.Radius + b.Params.Radius - dist
	if overlap <= separationSlop {
		return false
	}
	invA, invB := 1/a.Params.Mass, 1/b.Params.Mass
	share := invA + invB
	a.Pos = a.Pos.Sub(n.Scale(overlap * invA / share))
	b.Pos = b.Pos.Add(n.Scale(overlap * invB / share))
	aPinned := r.Boundary.Clamp(a)
	bPinned := r.Boundary.Clamp(b)

	// A wall absorbed part of the push; the free actor takes the rest.
	if aPinned == bPinned {
		return true
	}
	rest := a.Params.Radius + b.Params.Radius - a.Pos.DistanceTo(b.Pos)
	if rest <= separationSlop {
		return true
	}
	if aPinned {
		b.Pos = b.Pos.Add(n.Scale(rest))
		r.Boundary.Clamp(b)
	} else {
		a.Pos = a.Pos.Sub(n.Scale(rest))
		r.Boundary.Clamp(a)
	}
	return true
}
