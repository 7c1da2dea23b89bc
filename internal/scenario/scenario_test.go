package scenario

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/infection-simulator/core"
	"github.com/signalsfoundry/infection-simulator/model"
)

const explicitScenario = `
arena: {width: 20, height: 10}
timestep: 0.1
seed: 9
stop: {mode: no_infected, max_steps: 500}
defaults:
  transmission_prob: 0.4
  infection_prob: 0.5
  survival_prob: 0.9
  infection_duration: 3
  radius: 0.5
engine: {grid_threshold: 8, relax_iterations: 2}
actors:
  - {x: 1, y: 1, vx: 1, state: infected, infection_timer: 1.5}
  - {x: 5, y: 5, vy: -1, radius: 1.5, mass: 4}
  - {x: 9, y: 2, state: R}
`

func TestLoadAndBuildExplicitActors(t *testing.T) {
	f, err := Load(strings.NewReader(explicitScenario))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, specs, err := f.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if cfg.Width != 20 || cfg.Height != 10 || cfg.Timestep != 0.1 || cfg.Seed != 9 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Stop.Mode != core.StopWhenNoInfected || cfg.Stop.MaxSteps != 500 {
		t.Fatalf("unexpected stop condition: %+v", cfg.Stop)
	}
	if cfg.Defaults.InfectionDuration != 3 || cfg.GridThreshold != 8 || cfg.RelaxIterations != 2 {
		t.Fatalf("defaults not carried: %+v", cfg)
	}

	if len(specs) != 3 {
		t.Fatalf("got %d specs, want 3", len(specs))
	}
	if specs[0].State != model.Infected || specs[0].InfectionTimer != 1.5 || specs[0].VX != 1 {
		t.Fatalf("actor 0 = %+v", specs[0])
	}
	if specs[1].Radius == nil || *specs[1].Radius != 1.5 || specs[1].Mass == nil || *specs[1].Mass != 4 {
		t.Fatalf("actor 1 overrides not carried: %+v", specs[1])
	}
	if specs[1].TransmissionProb != nil {
		t.Fatalf("unset override should stay nil")
	}
	if specs[2].State != model.Recovered {
		t.Fatalf("actor 2 state = %v, want recovered", specs[2].State)
	}

	if _, err := core.NewSimulation(cfg, specs); err != nil {
		t.Fatalf("NewSimulation from scenario: %v", err)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"unknown key", "arena: {width: 1, height: 1}\nspeedup: 3\n"},
		{"malformed", "arena: [1, 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(tc.doc)); !errors.Is(err, ErrInvalidScenario) {
				t.Fatalf("Load err = %v, want ErrInvalidScenario", err)
			}
		})
	}
}

func TestBuildRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		f    File
	}{
		{"stop mode", File{Stop: Stop{Mode: "forever"}}},
		{"state", File{Actors: []Actor{{State: "zombie"}}}},
		{"too many infected", File{
			Arena:      Arena{Width: 10, Height: 10},
			Population: &Population{Count: 2, Infected: 3},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := tc.f.Build(); !errors.Is(err, ErrInvalidScenario) {
				t.Fatalf("Build err = %v, want ErrInvalidScenario", err)
			}
		})
	}
}

func TestGeneratePopulation(t *testing.T) {
	specs, err := GeneratePopulation(rand.New(rand.NewSource(5)), 300, 7, 40, 20, 1, 3)
	if err != nil {
		t.Fatalf("GeneratePopulation: %v", err)
	}
	if len(specs) != 300 {
		t.Fatalf("got %d actors", len(specs))
	}

	infected := 0
	for i, s := range specs {
		if s.X < 1 || s.X > 39 || s.Y < 1 || s.Y > 19 {
			t.Fatalf("actor %d at (%v,%v) outside margin", i, s.X, s.Y)
		}
		if speed := math.Hypot(s.VX, s.VY); math.Abs(speed-3) > 1e-9 {
			t.Fatalf("actor %d speed = %v, want 3", i, speed)
		}
		if s.State == model.Infected {
			infected++
		}
	}
	if infected != 7 {
		t.Fatalf("infected = %d, want 7", infected)
	}

	again, _ := GeneratePopulation(rand.New(rand.NewSource(5)), 300, 7, 40, 20, 1, 3)
	for i := range specs {
		if specs[i] != again[i] {
			t.Fatalf("same seed produced different actor %d", i)
		}
	}
}

func TestGeneratePopulationTinyArena(t *testing.T) {
	specs, err := GeneratePopulation(rand.New(rand.NewSource(1)), 10, 0, 1, 1, 2, 0)
	if err != nil {
		t.Fatalf("GeneratePopulation: %v", err)
	}
	for _, s := range specs {
		if s.X < 0 || s.X > 1 || s.Y < 0 || s.Y > 1 {
			t.Fatalf("actor at (%v,%v) outside arena", s.X, s.Y)
		}
	}
}

func TestShippedScenariosBuild(t *testing.T) {
	for _, name := range []string{"outbreak.yaml", "head_on.yaml"} {
		t.Run(name, func(t *testing.T) {
			f, err := LoadFile(filepath.Join("..", "..", "configs", name))
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			cfg, specs, err := f.Build()
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if _, err := core.NewSimulation(cfg, specs); err != nil {
				t.Fatalf("NewSimulation: %v", err)
			}
		})
	}
}
