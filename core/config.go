package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/infection-simulator/model"
)

var (
	// ErrInvalidConfig indicates a Simulation could not be constructed.
	ErrInvalidConfig = errors.New("invalid simulation config")
	// ErrInvalidState indicates an operation is not allowed in the current run state.
	ErrInvalidState = errors.New("invalid simulation state")
)

const (
	// DefaultGridThreshold is the alive-population size below which the
	// spatial index falls back to direct pairwise checks.
	DefaultGridThreshold = 64
	// DefaultRelaxIterations caps the separation-only passes per step.
	// Passes stop early once nothing moves, so the cap only binds for
	// jammed packings that cannot be separated.
	DefaultRelaxIterations = 64
)

// StopMode selects how a run terminates.
type StopMode int

const (
	// StopAfterSteps completes the run after MaxSteps steps.
	StopAfterSteps StopMode = iota
	// StopWhenNoInfected completes the run once no actor is Infected. A
	// positive MaxSteps still caps the run.
	StopWhenNoInfected
)

// StopCondition is the caller-selected termination rule.
type StopCondition struct {
	Mode     StopMode
	MaxSteps int
}

// Config describes a simulation run.
type Config struct {
	Width    float64
	Height   float64
	Timestep float64
	Seed     int64
	Stop     StopCondition

	// Defaults fill any parameter an ActorSpec leaves unset.
	Defaults model.Params

	// GridThreshold overrides DefaultGridThreshold when positive.
	GridThreshold int
	// RelaxIterations overrides DefaultRelaxIterations when positive; a
	// negative value disables relaxation.
	RelaxIterations int
}

// Bounds returns the arena as a planar bound.
func (c Config) Bounds() orb.Bound {
	return orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{c.Width, c.Height}}
}

// ActorSpec is the initial state of one actor. Nil parameter fields take the
// Config defaults.
type ActorSpec struct {
	X, Y   float64
	VX, VY float64
	State  model.EpiState
	// InfectionTimer is used when State is Infected; zero means the actor's
	// InfectionDuration.
	InfectionTimer float64

	TransmissionProb  *float64
	InfectionProb     *float64
	SurvivalProb      *float64
	InfectionDuration *float64
	Radius            *float64
	Mass              *float64
}

// Float is a helper for filling optional ActorSpec fields.
func Float(v float64) *float64 { return &v }

func (c Config) validate() error {
	if !(c.Width > 0) || !(c.Height > 0) || math.IsInf(c.Width, 0) || math.IsInf(c.Height, 0) {
		return fmt.Errorf("%w: bounding box %vx%v must have positive area", ErrInvalidConfig, c.Width, c.Height)
	}
	if !(c.Timestep > 0) || math.IsInf(c.Timestep, 0) {
		return fmt.Errorf("%w: timestep %v must be positive", ErrInvalidConfig, c.Timestep)
	}
	switch c.Stop.Mode {
	case StopAfterSteps:
		if c.Stop.MaxSteps <= 0 {
			return fmt.Errorf("%w: step-count stop condition needs MaxSteps > 0", ErrInvalidConfig)
		}
	case StopWhenNoInfected:
		if c.Stop.MaxSteps < 0 {
			return fmt.Errorf("%w: MaxSteps %d must not be negative", ErrInvalidConfig, c.Stop.MaxSteps)
		}
	default:
		return fmt.Errorf("%w: unknown stop mode %d", ErrInvalidConfig, c.Stop.Mode)
	}
	if err := validateParams(c.Defaults, false); err != nil {
		return fmt.Errorf("%w: defaults: %v", ErrInvalidConfig, err)
	}
	return nil
}

// validateParams checks probabilities and physical sizes. Zero radius and
// mass are allowed for defaults since they may be overridden per actor.
func validateParams(p model.Params, resolved bool) error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"transmission_prob", p.TransmissionProb},
		{"infection_prob", p.InfectionProb},
		{"survival_prob", p.SurvivalProb},
	} {
		if !(f.v >= 0 && f.v <= 1) {
			return fmt.Errorf("%s %v outside [0,1]", f.name, f.v)
		}
	}
	if !(p.InfectionDuration >= 0) || math.IsInf(p.InfectionDuration, 0) {
		return fmt.Errorf("infection_duration %v must be a finite non-negative value", p.InfectionDuration)
	}
	if p.Radius < 0 || p.Mass < 0 || math.IsNaN(p.Radius) || math.IsNaN(p.Mass) {
		return fmt.Errorf("radius %v and mass %v must not be negative", p.Radius, p.Mass)
	}
	if resolved {
		if !(p.Radius > 0) || math.IsInf(p.Radius, 0) {
			return fmt.Errorf("radius %v must be positive", p.Radius)
		}
		if !(p.Mass > 0) || math.IsInf(p.Mass, 0) {
			return fmt.Errorf("mass %v must be positive", p.Mass)
		}
	}
	return nil
}

// buildActor resolves a spec against the defaults and validates the result.
func (c Config) buildActor(id int, s ActorSpec) (*model.Actor, error) {
	p := c.Defaults
	if p.Mass == 0 {
		p.Mass = model.DefaultMass
	}
	override := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	override(&p.TransmissionProb, s.TransmissionProb)
	override(&p.InfectionProb, s.InfectionProb)
	override(&p.SurvivalProb, s.SurvivalProb)
	override(&p.InfectionDuration, s.InfectionDuration)
	override(&p.Radius, s.Radius)
	override(&p.Mass, s.Mass)

	if err := validateParams(p, true); err != nil {
		return nil, fmt.Errorf("%w: actor %d: %v", ErrInvalidConfig, id, err)
	}
	if !s.State.Valid() {
		return nil, fmt.Errorf("%w: actor %d: unknown state %d", ErrInvalidConfig, id, s.State)
	}
	if s.InfectionTimer < 0 || math.IsNaN(s.InfectionTimer) {
		return nil, fmt.Errorf("%w: actor %d: infection timer %v must not be negative", ErrInvalidConfig, id, s.InfectionTimer)
	}
	for _, v := range []float64{s.X, s.Y, s.VX, s.VY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: actor %d: non-finite kinematics", ErrInvalidConfig, id)
		}
	}
	if !c.Bounds().Contains(orb.Point{s.X, s.Y}) {
		return nil, fmt.Errorf("%w: actor %d: position (%v,%v) outside %vx%v arena", ErrInvalidConfig, id, s.X, s.Y, c.Width, c.Height)
	}

	return model.NewActor(id, model.Vec2{X: s.X, Y: s.Y}, model.Vec2{X: s.VX, Y: s.VY}, s.State, s.InfectionTimer, p), nil
}
