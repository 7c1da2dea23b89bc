package core

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/infection-simulator/internal/logging"
	"github.com/signalsfoundry/infection-simulator/model"
)

const tracerName = "github.com/signalsfoundry/infection-simulator/core"

// RunState is the lifecycle of a Simulation.
type RunState int

const (
	Initialized RunState = iota
	Running
	Stopped
	Completed
)

func (s RunState) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// MetricsRecorder receives per-step measurements. observability.SimulationCollector
// implements it.
type MetricsRecorder interface {
	ObserveStep(d time.Duration, counts Counts, contacts, infections, deaths int)
	IncDroppedSnapshots(n int)
}

// Option configures optional Simulation collaborators.
type Option func(*Simulation)

// WithLogger attaches a structured logger for lifecycle events.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulation) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsRecorder attaches a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Simulation) {
		s.metrics = m
	}
}

// Simulation owns the population, the random generator and the fixed
// timestep loop. All methods are safe to call from multiple goroutines but
// steps themselves run strictly one at a time.
type Simulation struct {
	mu sync.Mutex

	cfg    Config
	actors []*model.Actor
	rng    *rand.Rand

	boundary BoundaryHandler
	index    *SpatialIndex
	resolver *CollisionResolver
	relax    int

	state RunState
	step  int
	last  Snapshot

	subs []*Subscription

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
}

// NewSimulation validates cfg and the initial population and builds a
// Simulation in the Initialized state. Nothing is constructed on error.
func NewSimulation(cfg Config, specs []ActorSpec, opts ...Option) (*Simulation, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	actors := make([]*model.Actor, 0, len(specs))
	maxRadius := 0.0
	for i, spec := range specs {
		a, err := cfg.buildActor(i, spec)
		if err != nil {
			return nil, err
		}
		if a.Params.Radius > maxRadius {
			maxRadius = a.Params.Radius
		}
		actors = append(actors, a)
	}

	threshold := cfg.GridThreshold
	if threshold <= 0 {
		threshold = DefaultGridThreshold
	}
	relax := cfg.RelaxIterations
	switch {
	case relax == 0:
		relax = DefaultRelaxIterations
	case relax < 0:
		relax = 0
	}

	boundary := NewBoundaryHandler(cfg.Bounds())
	s := &Simulation{
		cfg:      cfg,
		actors:   actors,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		boundary: boundary,
		index:    NewSpatialIndex(cfg.Bounds(), maxRadius, threshold),
		resolver: NewCollisionResolver(boundary),
		relax:    relax,
		state:    Initialized,
		log:      logging.Noop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.last = takeSnapshot(0, 0, s.actors)
	return s, nil
}

// Config returns the configuration the simulation was built with.
func (s *Simulation) Config() Config { return s.cfg }

// State returns the current lifecycle state.
func (s *Simulation) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done reports whether the run reached Completed or Stopped.
func (s *Simulation) Done() bool {
	st := s.State()
	return st == Completed || st == Stopped
}

// Snapshot returns the most recent snapshot; before the first step this is
// the initial population.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Subscribe registers a consumer channel with the given buffer. On a
// finished simulation the returned channel is already closed.
func (s *Simulation) Subscribe(buffer int) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := newSubscription(buffer)
	if s.state == Completed || s.state == Stopped {
		sub.close()
		return sub
	}
	s.subs = append(s.subs, sub)
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (s *Simulation) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subs {
		if existing == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			sub.close()
			return
		}
	}
}

// Stop ends the run early. Stopping a finished simulation is a no-op.
func (s *Simulation) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Completed || s.state == Stopped {
		return
	}
	s.state = Stopped
	s.closeSubsLocked()
	s.log.Info(context.Background(), "simulation stopped",
		logging.Int("step", s.step),
	)
}

// Step advances exactly one timestep and returns the resulting snapshot.
func (s *Simulation) Step(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepLocked(ctx)
}

// Run performs up to n steps, returning early when the stop condition is
// met. Cancelling ctx stops the simulation.
func (s *Simulation) Run(ctx context.Context, n int) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "Simulation/Run", trace.WithAttributes(attribute.Int("steps.requested", n)))
	defer span.End()

	snap := s.Snapshot()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			s.Stop()
			span.RecordError(err)
			return snap, err
		}
		var err error
		snap, err = s.Step(ctx)
		if err != nil {
			span.RecordError(err)
			return snap, err
		}
		if s.Done() {
			break
		}
	}
	return snap, nil
}

// RunUntilStopped steps until the configured stop condition completes the
// run or ctx is cancelled.
func (s *Simulation) RunUntilStopped(ctx context.Context) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "Simulation/RunUntilStopped")
	defer span.End()

	snap := s.Snapshot()
	for !s.Done() {
		if err := ctx.Err(); err != nil {
			s.Stop()
			span.RecordError(err)
			return snap, err
		}
		var err error
		snap, err = s.Step(ctx)
		if err != nil {
			span.RecordError(err)
			return snap, err
		}
	}
	return snap, nil
}

func (s *Simulation) stepLocked(ctx context.Context) (Snapshot, error) {
	switch s.state {
	case Completed, Stopped:
		return s.last, fmt.Errorf("%w: step called on %s simulation", ErrInvalidState, s.state)
	case Initialized:
		s.state = Running
		s.log.Info(ctx, "simulation started",
			logging.Int("actors", len(s.actors)),
			logging.Any("seed", s.cfg.Seed),
			logging.Any("timestep", s.cfg.Timestep),
		)
	}

	ctx, span := s.tracer.Start(ctx, "Simulation/Step")
	defer span.End()
	start := time.Now()
	dt := s.cfg.Timestep

	// 1-2. Motion and walls.
	for _, a := range s.actors {
		a.Advance(dt)
		s.boundary.Apply(a)
	}

	// 3-4. Contacts, each unordered pair resolved once.
	pairs := s.index.Pairs(s.actors)
	infections := 0
	for _, p := range pairs {
		c := s.resolver.Resolve(s.actors[p.I], s.actors[p.J], s.rng)
		infections += c.Infected
	}
	s.relaxLocked()

	// 5. Infection timers.
	deaths := 0
	for _, a := range s.actors {
		if a.TickInfection(dt, s.rng) && a.State() == model.Dead {
			deaths++
		}
	}

	// 6. Snapshot.
	s.step++
	snap := takeSnapshot(s.step, float64(s.step)*dt, s.actors)
	s.last = snap
	s.emitLocked(snap)

	if s.metrics != nil {
		s.metrics.ObserveStep(time.Since(start), snap.Counts, len(pairs), infections, deaths)
	}
	span.SetAttributes(
		attribute.Int("step", snap.Step),
		attribute.Int("contacts", len(pairs)),
		attribute.Int("infections", infections),
		attribute.Int("population.infected", snap.Counts.Infected),
	)
	s.log.Debug(ctx, "step",
		logging.Int("step", snap.Step),
		logging.Int("contacts", len(pairs)),
		logging.Int("infections", infections),
		logging.Int("infected", snap.Counts.Infected),
	)

	if s.finishedLocked(snap) {
		s.state = Completed
		s.closeSubsLocked()
		s.log.Info(ctx, "simulation completed",
			logging.Int("step", snap.Step),
			logging.Int("susceptible", snap.Counts.Susceptible),
			logging.Int("infected", snap.Counts.Infected),
			logging.Int("recovered", snap.Counts.Recovered),
			logging.Int("dead", snap.Counts.Dead),
		)
	}
	return snap, nil
}

// relaxLocked runs separation-only passes until a pass moves nothing. The
// relax budget caps the passes for packings with no overlap-free layout.
func (s *Simulation) relaxLocked() {
	for i := 0; i < s.relax; i++ {
		moved := false
		for _, p := range s.index.Pairs(s.actors) {
			if s.resolver.Separate(s.actors[p.I], s.actors[p.J], s.rng) {
				moved = true
			}
		}
		if !moved {
			return
		}
	}
}

func (s *Simulation) finishedLocked(snap Snapshot) bool {
	switch s.cfg.Stop.Mode {
	case StopWhenNoInfected:
		if snap.Counts.Infected == 0 {
			return true
		}
	}
	return s.cfg.Stop.MaxSteps > 0 && snap.Step >= s.cfg.Stop.MaxSteps
}

func (s *Simulation) emitLocked(snap Snapshot) {
	dropped := 0
	for _, sub := range s.subs {
		if !sub.offer(snap) {
			dropped++
		}
	}
	if dropped > 0 && s.metrics != nil {
		s.metrics.IncDroppedSnapshots(dropped)
	}
}

func (s *Simulation) closeSubsLocked() {
	for _, sub := range s.subs {
		sub.close()
	}
	s.subs = nil
}
