package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/infection-simulator/core"
	"github.com/signalsfoundry/infection-simulator/internal/logging"
	"github.com/signalsfoundry/infection-simulator/internal/observability"
	"github.com/signalsfoundry/infection-simulator/internal/scenario"
	"github.com/signalsfoundry/infection-simulator/timectrl"
)

// options are the parsed command-line flags.
type options struct {
	scenarioPath  string
	steps         int
	untilBurnout  bool
	seed          int64
	seedSet       bool
	replicates    int
	parallel      int
	realtime      bool
	tick          time.Duration
	metricsAddr   string
	snapshotsPath string
	subBuffer     int
	sinkBuffer    int
	progressEvery int
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.StringVar(&opts.scenarioPath, "scenario", "", "path to a YAML scenario file (built-in outbreak when empty)")
	fs.IntVar(&opts.steps, "steps", 0, "override the scenario's step cap")
	fs.BoolVar(&opts.untilBurnout, "until-burnout", false, "run until no actor is infected")
	fs.Int64Var(&opts.seed, "seed", 0, "override the scenario seed")
	fs.IntVar(&opts.replicates, "replicates", 1, "number of independent runs, seeded seed..seed+N-1")
	fs.IntVar(&opts.parallel, "parallel", runtime.GOMAXPROCS(0), "maximum replicates running at once")
	fs.BoolVar(&opts.realtime, "realtime", false, "pace steps against the wall clock")
	fs.DurationVar(&opts.tick, "tick", 50*time.Millisecond, "wall-clock time per step in real-time mode")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics (disabled when empty)")
	fs.StringVar(&opts.snapshotsPath, "snapshots", "", "write every snapshot as JSON lines to this file")
	fs.IntVar(&opts.subBuffer, "subscriber-buffer", 64, "snapshot buffer for the epidemic-curve recorder")
	fs.IntVar(&opts.sinkBuffer, "snapshot-buffer", 1024, "snapshot buffer for the JSON-lines writer")
	fs.IntVar(&opts.progressEvery, "progress-every", 1000, "log progress every N steps (0 disables)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.seedSet = true
		}
	})
	if opts.replicates < 1 {
		return options{}, fmt.Errorf("replicates must be at least 1, got %d", opts.replicates)
	}
	if opts.parallel < 1 {
		opts.parallel = 1
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, log, os.Stdout, nil); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "simulation failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
}

// run loads the scenario, starts observability, and executes every
// replicate. A nil registerer uses the global Prometheus registry.
func run(ctx context.Context, opts options, log logging.Logger, out io.Writer, reg prometheus.Registerer) error {
	file, err := loadScenario(opts.scenarioPath)
	if err != nil {
		return err
	}
	if opts.seedSet {
		file.Seed = opts.seed
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimulationCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()
	if opts.metricsAddr != "" {
		serveMetrics(serveCtx, g, opts.metricsAddr, collector, log)
	}

	results := make([]result, opts.replicates)
	reps, rctx := errgroup.WithContext(gctx)
	reps.SetLimit(opts.parallel)
	for i := 0; i < opts.replicates; i++ {
		i := i
		reps.Go(func() error {
			r, err := runReplicate(rctx, replicate{
				index:     i,
				file:      *file,
				opts:      opts,
				collector: collector,
				log:       log,
			})
			if err != nil {
				return fmt.Errorf("replicate %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	runErr := reps.Wait()
	stopServing()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	for _, r := range results {
		fmt.Fprintln(out, r)
	}
	return nil
}

func loadScenario(path string) (*scenario.File, error) {
	if path == "" {
		return defaultScenario(), nil
	}
	return scenario.LoadFile(path)
}

// defaultScenario is a small closed-room outbreak used when no file is given.
func defaultScenario() *scenario.File {
	return &scenario.File{
		Arena:    scenario.Arena{Width: 100, Height: 100},
		Timestep: 0.05,
		Seed:     1,
		Stop:     scenario.Stop{Mode: "no_infected", MaxSteps: 20000},
		Defaults: scenario.Params{
			TransmissionProb:  0.8,
			InfectionProb:     0.6,
			SurvivalProb:      0.95,
			InfectionDuration: 8,
			Radius:            1,
			Mass:              1,
		},
		Population: &scenario.Population{Count: 200, Infected: 3, Speed: 4},
	}
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, collector *observability.SimulationCollector, log logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// pacing maps the flags onto a time controller mode.
func pacing(opts options) (time.Duration, timectrl.Mode) {
	if opts.realtime {
		return opts.tick, timectrl.RealTime
	}
	return opts.tick, timectrl.Accelerated
}

// buildReplicate derives replicate i's engine inputs. Each replicate gets
// seed+i for both population sampling and the engine generator.
func buildReplicate(file scenario.File, i int, opts options) (core.Config, []core.ActorSpec, error) {
	file.Seed += int64(i)
	cfg, specs, err := file.Build()
	if err != nil {
		return core.Config{}, nil, err
	}
	if opts.untilBurnout {
		cfg.Stop.Mode = core.StopWhenNoInfected
	}
	if opts.steps > 0 {
		cfg.Stop.MaxSteps = opts.steps
	}
	return cfg, specs, nil
}
