package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/infection-simulator/core"
)

// SimulationCollector bundles Prometheus metrics for the step loop. It
// satisfies core.MetricsRecorder so a Simulation drives it directly.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	StepsTotal       prometheus.Counter
	StepDuration     prometheus.Histogram
	Population       *prometheus.GaugeVec
	ContactsTotal    prometheus.Counter
	InfectionsTotal  prometheus.Counter
	DeathsTotal      prometheus.Counter
	SnapshotsDropped prometheus.Counter
}

var _ core.MetricsRecorder = (*SimulationCollector)(nil)

// NewSimulationCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice on the same registry returns the existing collectors.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_steps_total",
		Help: "Total number of simulation steps executed.",
	}), "sim_steps_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_step_duration_seconds",
		Help:    "Wall-clock time spent computing one simulation step.",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}), "sim_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	population, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_population",
		Help: "Current number of actors by epidemiological state.",
	}, []string{"state"}), "sim_population")
	if err != nil {
		return nil, err
	}

	contacts, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_contacts_total",
		Help: "Total number of resolved actor contacts.",
	}), "sim_contacts_total")
	if err != nil {
		return nil, err
	}

	infections, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_infections_total",
		Help: "Total number of transmissions on contact.",
	}), "sim_infections_total")
	if err != nil {
		return nil, err
	}

	deaths, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_deaths_total",
		Help: "Total number of infections that ended in death.",
	}), "sim_deaths_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_snapshots_dropped_total",
		Help: "Snapshots dropped because a subscriber's buffer was full.",
	}), "sim_snapshots_dropped_total")
	if err != nil {
		return nil, err
	}

	return &SimulationCollector{
		gatherer:         gatherer,
		StepsTotal:       steps,
		StepDuration:     duration,
		Population:       population,
		ContactsTotal:    contacts,
		InfectionsTotal:  infections,
		DeathsTotal:      deaths,
		SnapshotsDropped: dropped,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulationCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveStep records one completed step.
func (c *SimulationCollector) ObserveStep(d time.Duration, counts core.Counts, contacts, infections, deaths int) {
	if c == nil {
		return
	}
	c.StepsTotal.Inc()
	c.StepDuration.Observe(d.Seconds())
	c.ContactsTotal.Add(float64(contacts))
	c.InfectionsTotal.Add(float64(infections))
	c.DeathsTotal.Add(float64(deaths))
	c.SetPopulation(counts)
}

// SetPopulation updates the per-state gauges.
func (c *SimulationCollector) SetPopulation(counts core.Counts) {
	if c == nil || c.Population == nil {
		return
	}
	c.Population.WithLabelValues("susceptible").Set(float64(counts.Susceptible))
	c.Population.WithLabelValues("infected").Set(float64(counts.Infected))
	c.Population.WithLabelValues("recovered").Set(float64(counts.Recovered))
	c.Population.WithLabelValues("dead").Set(float64(counts.Dead))
}

// IncDroppedSnapshots counts snapshots lost to slow subscribers.
func (c *SimulationCollector) IncDroppedSnapshots(n int) {
	if c == nil || c.SnapshotsDropped == nil {
		return
	}
	c.SnapshotsDropped.Add(float64(n))
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
