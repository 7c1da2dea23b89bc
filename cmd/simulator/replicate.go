package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/infection-simulator/core"
	"github.com/signalsfoundry/infection-simulator/history"
	"github.com/signalsfoundry/infection-simulator/internal/logging"
	"github.com/signalsfoundry/infection-simulator/internal/observability"
	"github.com/signalsfoundry/infection-simulator/internal/scenario"
	"github.com/signalsfoundry/infection-simulator/timectrl"
)

type replicate struct {
	index     int
	file      scenario.File
	opts      options
	collector *observability.SimulationCollector
	log       logging.Logger
}

// result summarises one finished replicate.
type result struct {
	Replicate   int
	Seed        int64
	RunID       string
	State       core.RunState
	Steps       int
	Final       core.Counts
	Peak        history.Point
	AttackRate  float64
	Dropped     uint64
	SinkDropped uint64
}

func (r result) String() string {
	return fmt.Sprintf("replicate=%d seed=%d state=%s steps=%d susceptible=%d infected=%d recovered=%d dead=%d peak_infected=%d peak_step=%d attack_rate=%.3f",
		r.Replicate, r.Seed, r.State, r.Steps,
		r.Final.Susceptible, r.Final.Infected, r.Final.Recovered, r.Final.Dead,
		r.Peak.Counts.Infected, r.Peak.Step, r.AttackRate)
}

func runReplicate(ctx context.Context, rep replicate) (res result, err error) {
	cfg, specs, err := buildReplicate(rep.file, rep.index, rep.opts)
	if err != nil {
		return result{}, err
	}

	ctx, log := logging.WithRunLogger(ctx, rep.log.With(
		logging.Int("replicate", rep.index),
		logging.Int64("seed", cfg.Seed),
	))

	sim, err := core.NewSimulation(cfg, specs,
		core.WithLogger(log),
		core.WithMetricsRecorder(rep.collector),
	)
	if err != nil {
		return result{}, err
	}
	rep.collector.SetPopulation(sim.Snapshot().Counts)

	sink, err := openSnapshotSink(rep.opts.snapshotsPath, rep.index, rep.opts.replicates)
	if err != nil {
		return result{}, err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			res, err = result{}, fmt.Errorf("close snapshot file: %w", cerr)
		}
	}()

	rec := history.NewRecorder()
	rec.Record(sim.Snapshot())
	unsubscribe := rec.OnRecord(func(ev history.Event) {
		switch ev.Type {
		case history.EventBurnout:
			log.Info(ctx, "outbreak burned out",
				logging.Int("step", ev.Point.Step),
				logging.Float("time", ev.Point.Time),
			)
		case history.EventNewPeak:
			log.Debug(ctx, "new infection peak",
				logging.Int("step", ev.Point.Step),
				logging.Int("infected", ev.Point.Counts.Infected),
			)
		}
	})
	defer unsubscribe()

	tick, mode := pacing(rep.opts)
	tc := timectrl.NewTimeController(tick, mode)
	if every := rep.opts.progressEvery; every > 0 {
		tc.AddListener(func(step int) {
			if step%every != 0 {
				return
			}
			counts := sim.Snapshot().Counts
			log.Info(ctx, "progress",
				logging.Int("step", step),
				logging.Int("infected", counts.Infected),
				logging.Int("recovered", counts.Recovered),
				logging.Int("dead", counts.Dead),
			)
		})
	}

	sub := sim.Subscribe(rep.opts.subBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.Consume(gctx, sub.C)
	})

	var sinkSub *core.Subscription
	if sink.enabled() {
		if err := sink.Write(sim.Snapshot()); err != nil {
			return result{}, err
		}
		sinkSub = sim.Subscribe(rep.opts.sinkBuffer)
		g.Go(func() error {
			return drainSnapshots(gctx, sinkSub.C, sink)
		})
	}

	g.Go(func() error {
		err := tc.Drive(gctx, func(ctx context.Context) (bool, error) {
			if _, err := sim.Step(ctx); err != nil {
				return false, err
			}
			return sim.Done(), nil
		})
		if err != nil {
			// Stopping closes the subscriptions so the consumers return.
			sim.Stop()
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return result{}, err
	}

	final := sim.Snapshot()
	peak, _ := rec.Peak()
	res = result{
		Replicate:  rep.index,
		Seed:       cfg.Seed,
		RunID:      logging.RunIDFromContext(ctx),
		State:      sim.State(),
		Steps:      final.Step,
		Final:      final.Counts,
		Peak:       peak,
		AttackRate: rec.AttackRate(),
		Dropped:    sub.Dropped(),
	}
	if sinkSub != nil {
		res.SinkDropped = sinkSub.Dropped()
	}
	log.Info(ctx, "replicate finished",
		logging.String("state", res.State.String()),
		logging.Int("steps", tc.Steps()),
		logging.Int("peak_infected", peak.Counts.Infected),
		logging.Float("attack_rate", res.AttackRate),
		logging.Any("dropped_snapshots", res.Dropped),
		logging.Any("dropped_sink_snapshots", res.SinkDropped),
	)
	return res, nil
}

// drainSnapshots writes snapshots from ch until it closes or ctx is done.
// It runs beside the step loop, so a slow disk only costs dropped lines.
func drainSnapshots(ctx context.Context, ch <-chan core.Snapshot, sink *snapshotSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			if err := sink.Write(snap); err != nil {
				return err
			}
		}
	}
}

// snapshotSink writes one JSON object per snapshot. A zero sink discards.
type snapshotSink struct {
	c   io.Closer
	w   *bufio.Writer
	enc *json.Encoder
}

type snapshotLine struct {
	Step   int                `json:"step"`
	Time   float64            `json:"time"`
	Counts core.Counts        `json:"counts"`
	Actors []core.ActorRecord `json:"actors"`
}

// openSnapshotSink opens path for writing. With several replicates each
// one writes to its own file, suffixed with the replicate index.
func openSnapshotSink(path string, index, replicates int) (*snapshotSink, error) {
	if path == "" {
		return &snapshotSink{}, nil
	}
	if replicates > 1 {
		ext := filepath.Ext(path)
		path = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), index, ext)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}
	return newSnapshotSink(f), nil
}

func newSnapshotSink(w io.WriteCloser) *snapshotSink {
	bw := bufio.NewWriter(w)
	return &snapshotSink{c: w, w: bw, enc: json.NewEncoder(bw)}
}

func (s *snapshotSink) enabled() bool { return s.enc != nil }

func (s *snapshotSink) Write(snap core.Snapshot) error {
	if s.enc == nil {
		return nil
	}
	return s.enc.Encode(snapshotLine{
		Step:   snap.Step,
		Time:   snap.Time,
		Counts: snap.Counts,
		Actors: snap.Actors(),
	})
}

// Close flushes buffered lines and closes the file.
func (s *snapshotSink) Close() error {
	if s.c == nil {
		return nil
	}
	err := s.w.Flush()
	if cerr := s.c.Close(); err == nil {
		err = cerr
	}
	return err
}
