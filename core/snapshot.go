package core

import (
	"sync/atomic"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/infection-simulator/model"
)

// ActorRecord is the public per-actor view carried in a Snapshot.
type ActorRecord struct {
	ID    int            `json:"id"`
	X     float64        `json:"x"`
	Y     float64        `json:"y"`
	State model.EpiState `json:"state"`
}

// Counts tallies the population by epidemiological state.
type Counts struct {
	Susceptible int `json:"susceptible"`
	Infected    int `json:"infected"`
	Recovered   int `json:"recovered"`
	Dead        int `json:"dead"`
}

// Total returns the population size.
func (c Counts) Total() int {
	return c.Susceptible + c.Infected + c.Recovered + c.Dead
}

func (c *Counts) add(s model.EpiState) {
	switch s {
	case model.Susceptible:
		c.Susceptible++
	case model.Infected:
		c.Infected++
	case model.Recovered:
		c.Recovered++
	case model.Dead:
		c.Dead++
	}
}

// Snapshot is an immutable view of the population after a step. Step 0 is
// the initial population.
type Snapshot struct {
	Step   int
	Time   float64
	Counts Counts
	// Extent bounds the alive actors; it is the zero bound when none are alive.
	Extent orb.Bound

	actors []ActorRecord
}

// Len returns the number of actors in the snapshot.
func (s Snapshot) Len() int { return len(s.actors) }

// Actor returns the i-th record in population order.
func (s Snapshot) Actor(i int) ActorRecord { return s.actors[i] }

// Actors returns a copy of all records in population order.
func (s Snapshot) Actors() []ActorRecord {
	out := make([]ActorRecord, len(s.actors))
	copy(out, s.actors)
	return out
}

func takeSnapshot(step int, t float64, actors []*model.Actor) Snapshot {
	snap := Snapshot{
		Step:   step,
		Time:   t,
		actors: make([]ActorRecord, len(actors)),
	}
	first := true
	for i, a := range actors {
		snap.actors[i] = ActorRecord{ID: a.ID, X: a.Pos.X, Y: a.Pos.Y, State: a.State()}
		snap.Counts.add(a.State())
		if !a.Alive() {
			continue
		}
		p := orb.Point{a.Pos.X, a.Pos.Y}
		if first {
			snap.Extent = orb.Bound{Min: p, Max: p}
			first = false
		} else {
			snap.Extent = snap.Extent.Extend(p)
		}
	}
	return snap
}

// Subscription delivers snapshots on a buffered channel. When the buffer is
// full the snapshot is dropped for this subscriber and counted. C is closed
// when the run ends or the subscription is cancelled.
type Subscription struct {
	C <-chan Snapshot

	ch      chan Snapshot
	dropped atomic.Uint64
	closed  bool
}

// Dropped returns how many snapshots this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func newSubscription(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	return &Subscription{C: ch, ch: ch}
}

// offer never blocks.
func (s *Subscription) offer(snap Snapshot) bool {
	select {
	case s.ch <- snap:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscription) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
