package model

import "fmt"

// DefaultMass is the mass given to actors that do not set one.
const DefaultMass = 1.0

// Rand is the random source actors draw from. *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Params are the per-actor stochastic and physical parameters.
type Params struct {
	// TransmissionProb is the chance an infected actor sheds the pathogen on contact.
	TransmissionProb float64
	// InfectionProb is the chance a susceptible actor contracts the pathogen
	// from a shedding contact.
	InfectionProb float64
	// SurvivalProb is the chance of Recovered rather than Dead when the
	// infection timer runs out.
	SurvivalProb float64
	// InfectionDuration is loaded into the infection timer on transition
	// into Infected.
	InfectionDuration float64

	Radius float64
	Mass   float64
}

// Actor is one simulated person. Kinematics are plain fields mutated by the
// engine; the epidemiological state only changes through Expose and
// TickInfection.
type Actor struct {
	ID  int
	Pos Vec2
	Vel Vec2

	Params Params

	state          EpiState
	infectionTimer float64
}

// NewActor constructs an actor. An actor created Infected with a zero timer
// is given its InfectionDuration.
func NewActor(id int, pos, vel Vec2, state EpiState, timer float64, p Params) *Actor {
	if p.Mass == 0 {
		p.Mass = DefaultMass
	}
	a := &Actor{
		ID:     id,
		Pos:    pos,
		Vel:    vel,
		Params: p,
		state:  state,
	}
	if state == Infected {
		a.infectionTimer = timer
		if a.infectionTimer <= 0 {
			a.infectionTimer = p.InfectionDuration
		}
	}
	return a
}

func (a *Actor) String() string {
	return fmt.Sprintf("<Actor %d at: x=%.2f, y=%.2f>", a.ID, a.Pos.X, a.Pos.Y)
}

// State returns the current epidemiological state.
func (a *Actor) State() EpiState { return a.state }

// InfectionTimer returns the remaining infection time; zero unless Infected.
func (a *Actor) InfectionTimer() float64 { return a.infectionTimer }

// Alive reports whether the actor still takes part in motion and contact.
func (a *Actor) Alive() bool { return a.state != Dead }

// Advance integrates position by velocity over dt. Dead actors stay put.
func (a *Actor) Advance(dt float64) {
	if a.state == Dead {
		return
	}
	a.Pos = a.Pos.Add(a.Vel.Scale(dt))
}

// TickInfection counts down the infection timer. When it runs out the actor
// recovers with probability SurvivalProb and dies otherwise. It reports
// whether a transition happened.
func (a *Actor) TickInfection(dt float64, rng Rand) bool {
	if a.state != Infected {
		return false
	}
	a.infectionTimer -= dt
	if a.infectionTimer > 0 {
		return false
	}
	a.infectionTimer = 0
	if rng.Float64() < a.Params.SurvivalProb {
		a.state = Recovered
	} else {
		a.state = Dead
	}
	return true
}

// Expose evaluates contact with another actor. A Susceptible actor touching an
// Infected one becomes Infected when the other's transmission draw succeeds
// and then its own infection draw succeeds. The second draw is only taken
// when the first passes. It reports whether the actor was infected.
func (a *Actor) Expose(other EpiState, otherTransmissionProb float64, rng Rand) bool {
	if a.state != Susceptible || other != Infected {
		return false
	}
	if rng.Float64() >= otherTransmissionProb {
		return false
	}
	if rng.Float64() >= a.Params.InfectionProb {
		return false
	}
	a.state = Infected
	a.infectionTimer = a.Params.InfectionDuration
	return true
}
