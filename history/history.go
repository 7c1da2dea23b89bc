// Package history records the epidemic curve of a run from its snapshot
// stream. It is safe for concurrent readers while a consumer goroutine feeds it.
package history

import (
	"context"
	"sync"

	"github.com/signalsfoundry/infection-simulator/core"
)

// EventType indicates what kind of change happened in the recorder.
type EventType int

const (
	// EventStepRecorded fires for every recorded snapshot.
	EventStepRecorded EventType = iota
	// EventNewPeak fires when the infected count exceeds every earlier step.
	EventNewPeak
	// EventBurnout fires the first time the infected count falls to zero
	// after having been positive.
	EventBurnout
)

// Point is one step of the epidemic curve.
type Point struct {
	Step   int         `json:"step"`
	Time   float64     `json:"time"`
	Counts core.Counts `json:"counts"`
}

// Event is emitted to subscribers after a snapshot is recorded.
type Event struct {
	Type  EventType
	Point Point
}

// Recorder is an in-memory, thread-safe store of per-step population counts.
type Recorder struct {
	mu sync.RWMutex

	curve  []Point
	latest core.Snapshot
	seen   bool

	peak      Point
	hasPeak   bool
	burnedOut bool

	subs   map[int]func(Event)
	nextID int
}

// NewRecorder constructs an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{subs: make(map[int]func(Event))}
}

// Record appends a snapshot's counts and notifies subscribers.
func (r *Recorder) Record(snap core.Snapshot) {
	p := Point{Step: snap.Step, Time: snap.Time, Counts: snap.Counts}

	r.mu.Lock()
	r.curve = append(r.curve, p)
	r.latest = snap
	r.seen = true

	events := []Event{{Type: EventStepRecorded, Point: p}}
	if !r.hasPeak || p.Counts.Infected > r.peak.Counts.Infected {
		r.peak = p
		r.hasPeak = true
		events = append(events, Event{Type: EventNewPeak, Point: p})
	}
	if !r.burnedOut && p.Counts.Infected == 0 && r.peak.Counts.Infected > 0 {
		r.burnedOut = true
		events = append(events, Event{Type: EventBurnout, Point: p})
	}
	subs := make([]func(Event), 0, len(r.subs))
	for id := 0; id < r.nextID; id++ {
		if fn, ok := r.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	r.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// Consume records snapshots from ch until it is closed or ctx is done.
func (r *Recorder) Consume(ctx context.Context, ch <-chan core.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			r.Record(snap)
		}
	}
}

// OnRecord registers a callback for recorder events. It returns an
// unsubscribe function.
func (r *Recorder) OnRecord(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Curve returns a copy of the recorded epidemic curve in step order.
func (r *Recorder) Curve() []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Point, len(r.curve))
	copy(out, r.curve)
	return out
}

// Len returns the number of recorded steps.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.curve)
}

// Peak returns the step with the most infected actors. Ties keep the earliest.
func (r *Recorder) Peak() (Point, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peak, r.hasPeak
}

// Latest returns the most recently recorded snapshot.
func (r *Recorder) Latest() (core.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.seen
}

// AttackRate is the share of the population ever infected, as seen by the
// latest snapshot.
func (r *Recorder) AttackRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.seen || r.latest.Counts.Total() == 0 {
		return 0
	}
	c := r.latest.Counts
	return float64(c.Infected+c.Recovered+c.Dead) / float64(c.Total())
}
