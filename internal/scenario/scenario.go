// Package scenario loads YAML run descriptions and turns them into a
// core.Config plus the initial actor population.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/infection-simulator/core"
	"github.com/signalsfoundry/infection-simulator/model"
)

// ErrInvalidScenario indicates a scenario file could not be decoded or
// describes an impossible run.
var ErrInvalidScenario = errors.New("invalid scenario")

// File is the on-disk scenario layout.
type File struct {
	Arena    Arena   `yaml:"arena"`
	Timestep float64 `yaml:"timestep"`
	Seed     int64   `yaml:"seed"`
	Stop     Stop    `yaml:"stop"`
	Defaults Params  `yaml:"defaults"`
	Engine   Engine  `yaml:"engine"`

	// Population, when set, is sampled before the explicit Actors list.
	Population *Population `yaml:"population,omitempty"`
	Actors     []Actor     `yaml:"actors,omitempty"`
}

// Arena is the bounding box size.
type Arena struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Stop selects the termination rule: "steps" or "no_infected".
type Stop struct {
	Mode     string `yaml:"mode"`
	MaxSteps int    `yaml:"max_steps"`
}

// Params are the per-actor defaults.
type Params struct {
	TransmissionProb  float64 `yaml:"transmission_prob"`
	InfectionProb     float64 `yaml:"infection_prob"`
	SurvivalProb      float64 `yaml:"survival_prob"`
	InfectionDuration float64 `yaml:"infection_duration"`
	Radius            float64 `yaml:"radius"`
	Mass              float64 `yaml:"mass"`
}

// Engine holds tuning knobs that do not change semantics.
type Engine struct {
	GridThreshold   int `yaml:"grid_threshold"`
	RelaxIterations int `yaml:"relax_iterations"`
}

// Population describes a randomly sampled starting population.
type Population struct {
	Count    int     `yaml:"count"`
	Infected int     `yaml:"infected"`
	Speed    float64 `yaml:"speed"`
}

// Actor is one explicitly placed actor. Nil parameters take the defaults.
type Actor struct {
	X              float64 `yaml:"x"`
	Y              float64 `yaml:"y"`
	VX             float64 `yaml:"vx"`
	VY             float64 `yaml:"vy"`
	State          string  `yaml:"state"`
	InfectionTimer float64 `yaml:"infection_timer"`

	TransmissionProb  *float64 `yaml:"transmission_prob,omitempty"`
	InfectionProb     *float64 `yaml:"infection_prob,omitempty"`
	SurvivalProb      *float64 `yaml:"survival_prob,omitempty"`
	InfectionDuration *float64 `yaml:"infection_duration,omitempty"`
	Radius            *float64 `yaml:"radius,omitempty"`
	Mass              *float64 `yaml:"mass,omitempty"`
}

// Load decodes a scenario from r. Unknown keys are rejected.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidScenario)
		}
		return nil, fmt.Errorf("%w: decode failed: %v", ErrInvalidScenario, err)
	}
	return &f, nil
}

// LoadFile opens path and decodes it with Load.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario %q: %w", path, err)
	}
	defer fh.Close()
	return Load(fh)
}

// Build converts the file into engine inputs. Sampling uses a generator
// seeded from Seed, so the same file always yields the same population.
// Range checks on parameters are left to core.NewSimulation.
func (f *File) Build() (core.Config, []core.ActorSpec, error) {
	mode, err := parseStopMode(f.Stop.Mode)
	if err != nil {
		return core.Config{}, nil, err
	}
	cfg := core.Config{
		Width:    f.Arena.Width,
		Height:   f.Arena.Height,
		Timestep: f.Timestep,
		Seed:     f.Seed,
		Stop:     core.StopCondition{Mode: mode, MaxSteps: f.Stop.MaxSteps},
		Defaults: model.Params{
			TransmissionProb:  f.Defaults.TransmissionProb,
			InfectionProb:     f.Defaults.InfectionProb,
			SurvivalProb:      f.Defaults.SurvivalProb,
			InfectionDuration: f.Defaults.InfectionDuration,
			Radius:            f.Defaults.Radius,
			Mass:              f.Defaults.Mass,
		},
		GridThreshold:   f.Engine.GridThreshold,
		RelaxIterations: f.Engine.RelaxIterations,
	}

	var specs []core.ActorSpec
	if p := f.Population; p != nil {
		rng := rand.New(rand.NewSource(f.Seed))
		specs, err = GeneratePopulation(rng, p.Count, p.Infected, cfg.Width, cfg.Height, cfg.Defaults.Radius, p.Speed)
		if err != nil {
			return core.Config{}, nil, err
		}
	}

	for i, a := range f.Actors {
		state := model.Susceptible
		if a.State != "" {
			s, ok := model.ParseEpiState(strings.ToLower(a.State))
			if !ok {
				s, ok = model.ParseEpiState(strings.ToUpper(a.State))
			}
			if !ok {
				return core.Config{}, nil, fmt.Errorf("%w: actor %d: unknown state %q", ErrInvalidScenario, i, a.State)
			}
			state = s
		}
		specs = append(specs, core.ActorSpec{
			X:                 a.X,
			Y:                 a.Y,
			VX:                a.VX,
			VY:                a.VY,
			State:             state,
			InfectionTimer:    a.InfectionTimer,
			TransmissionProb:  a.TransmissionProb,
			InfectionProb:     a.InfectionProb,
			SurvivalProb:      a.SurvivalProb,
			InfectionDuration: a.InfectionDuration,
			Radius:            a.Radius,
			Mass:              a.Mass,
		})
	}
	return cfg, specs, nil
}

func parseStopMode(s string) (core.StopMode, error) {
	switch strings.ToLower(s) {
	case "", "steps":
		return core.StopAfterSteps, nil
	case "no_infected", "burnout":
		return core.StopWhenNoInfected, nil
	default:
		return 0, fmt.Errorf("%w: unknown stop mode %q", ErrInvalidScenario, s)
	}
}

// GeneratePopulation samples n actors with uniform positions inside the
// arena and uniform headings at the given speed. Exactly infected of them,
// chosen at random, start Infected. Positions keep a radius margin from the
// walls when the arena is large enough.
func GeneratePopulation(rng *rand.Rand, n, infected int, width, height, radius, speed float64) ([]core.ActorSpec, error) {
	if rng == nil {
		return nil, fmt.Errorf("%w: nil generator", ErrInvalidScenario)
	}
	if n < 0 || infected < 0 || infected > n {
		return nil, fmt.Errorf("%w: population count %d with %d infected", ErrInvalidScenario, n, infected)
	}
	if !(width > 0) || !(height > 0) {
		return nil, fmt.Errorf("%w: arena %vx%v must have positive area", ErrInvalidScenario, width, height)
	}
	if speed < 0 || math.IsNaN(speed) {
		return nil, fmt.Errorf("%w: speed %v must not be negative", ErrInvalidScenario, speed)
	}

	span := func(size float64) (lo, w float64) {
		if radius > 0 && 2*radius < size {
			return radius, size - 2*radius
		}
		return 0, size
	}
	x0, xw := span(width)
	y0, yw := span(height)

	specs := make([]core.ActorSpec, n)
	for i := range specs {
		heading := 2 * math.Pi * rng.Float64()
		specs[i] = core.ActorSpec{
			X:  x0 + xw*rng.Float64(),
			Y:  y0 + yw*rng.Float64(),
			VX: speed * math.Cos(heading),
			VY: speed * math.Sin(heading),
		}
	}
	for _, i := range rng.Perm(n)[:infected] {
		specs[i].State = model.Infected
	}
	return specs, nil
}
