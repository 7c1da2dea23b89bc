package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/infection-simulator/core"
	"github.com/signalsfoundry/infection-simulator/model"
)

func snap(step, s, i, r, d int) core.Snapshot {
	return core.Snapshot{
		Step:   step,
		Time:   float64(step) * 0.1,
		Counts: core.Counts{Susceptible: s, Infected: i, Recovered: r, Dead: d},
	}
}

func TestRecordBuildsCurveAndPeak(t *testing.T) {
	rec := NewRecorder()
	for _, s := range []core.Snapshot{
		snap(0, 9, 1, 0, 0),
		snap(1, 7, 3, 0, 0),
		snap(2, 5, 3, 2, 0),
		snap(3, 5, 0, 4, 1),
	} {
		rec.Record(s)
	}

	curve := rec.Curve()
	if len(curve) != 4 || rec.Len() != 4 {
		t.Fatalf("curve length = %d, want 4", len(curve))
	}
	for i, p := range curve {
		if p.Step != i {
			t.Fatalf("curve[%d].Step = %d", i, p.Step)
		}
	}

	peak, ok := rec.Peak()
	if !ok || peak.Step != 1 || peak.Counts.Infected != 3 {
		t.Fatalf("Peak() = %+v, %v; want step 1 with 3 infected", peak, ok)
	}
	latest, ok := rec.Latest()
	if !ok || latest.Step != 3 {
		t.Fatalf("Latest() = %+v, %v", latest, ok)
	}
	if got := rec.AttackRate(); got != 0.5 {
		t.Fatalf("AttackRate() = %v, want 0.5", got)
	}

	// Mutating the returned curve must not affect the recorder.
	curve[0].Counts.Infected = 99
	if rec.Curve()[0].Counts.Infected != 1 {
		t.Fatalf("Curve returned shared storage")
	}
}

func TestEmptyRecorder(t *testing.T) {
	rec := NewRecorder()
	if _, ok := rec.Peak(); ok {
		t.Fatalf("empty recorder reports a peak")
	}
	if _, ok := rec.Latest(); ok {
		t.Fatalf("empty recorder reports a latest snapshot")
	}
	if rec.AttackRate() != 0 {
		t.Fatalf("empty recorder attack rate should be 0")
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	rec := NewRecorder()
	var got []EventType
	unsubscribe := rec.OnRecord(func(ev Event) {
		got = append(got, ev.Type)
	})

	rec.Record(snap(0, 9, 1, 0, 0))
	rec.Record(snap(1, 9, 1, 0, 0))
	rec.Record(snap(2, 10, 0, 0, 0))
	unsubscribe()
	rec.Record(snap(3, 10, 0, 0, 0))

	want := []EventType{
		EventStepRecorded, EventNewPeak,
		EventStepRecorded,
		EventStepRecorded, EventBurnout,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestSubscriberMayQueryRecorder(t *testing.T) {
	rec := NewRecorder()
	var lens []int
	rec.OnRecord(func(ev Event) {
		if ev.Type == EventStepRecorded {
			lens = append(lens, rec.Len())
		}
	})
	rec.Record(snap(0, 1, 0, 0, 0))
	rec.Record(snap(1, 1, 0, 0, 0))
	if len(lens) != 2 || lens[0] != 1 || lens[1] != 2 {
		t.Fatalf("subscriber saw lengths %v", lens)
	}
}

func TestConsumeSimulationSubscription(t *testing.T) {
	cfg := core.Config{
		Width:    20,
		Height:   20,
		Timestep: 0.1,
		Seed:     7,
		Stop:     core.StopCondition{Mode: core.StopAfterSteps, MaxSteps: 10},
		Defaults: model.Params{InfectionDuration: 5, SurvivalProb: 1, Radius: 1},
	}
	specs := []core.ActorSpec{
		{X: 5, Y: 5, VX: 1, State: model.Infected},
		{X: 15, Y: 15, VY: -1},
	}
	sim, err := core.NewSimulation(cfg, specs)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	sub := sim.Subscribe(16)

	rec := NewRecorder()
	var wg sync.WaitGroup
	var consumeErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumeErr = rec.Consume(context.Background(), sub.C)
	}()

	if _, err := sim.RunUntilStopped(context.Background()); err != nil {
		t.Fatalf("RunUntilStopped: %v", err)
	}
	wg.Wait()

	if consumeErr != nil {
		t.Fatalf("Consume: %v", consumeErr)
	}
	if rec.Len() != 10 {
		t.Fatalf("recorded %d steps, want 10", rec.Len())
	}
	latest, _ := rec.Latest()
	if latest.Step != 10 || latest.Counts.Total() != 2 {
		t.Fatalf("latest snapshot = step %d total %d", latest.Step, latest.Counts.Total())
	}
}

func TestConsumeStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan core.Snapshot)
	done := make(chan error, 1)
	go func() { done <- NewRecorder().Consume(ctx, ch) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Consume err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Consume did not return after cancel")
	}
}
