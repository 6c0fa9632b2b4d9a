/*package metrics exports counters describing decomposition and force passes
to Prometheus. Every series is labelled by rank, so ranks sharing a process
can share one Metrics.
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ddgrav"

// Metrics holds every series ddgrav exports. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	AcceptedNodes *prometheus.CounterVec
	Interactions  *prometheus.CounterVec
	RemoteFetches *prometheus.CounterVec
	FetchRounds   *prometheus.CounterVec
	Migrated      *prometheus.CounterVec
	Rebalances    *prometheus.CounterVec
	Steps         *prometheus.CounterVec
	StepSeconds   *prometheus.HistogramVec
}

// New creates the series and registers them with reg. reg may be nil, in
// which case nothing is registered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: help,
		}, []string{"rank"})
	}

	return &Metrics{
		AcceptedNodes: counter("accepted_nodes_total",
			"Tree nodes used in place of their contents."),
		Interactions: counter("interactions_total",
			"Particle-particle force evaluations."),
		RemoteFetches: counter("remote_fetches_total",
			"Tree nodes fetched from other ranks."),
		FetchRounds: counter("fetch_rounds_total",
			"Request rounds needed by tree walks."),
		Migrated: counter("migrated_particles_total",
			"Particles sent to another rank."),
		Rebalances: counter("rebalances_total",
			"Steps which re-partitioned space."),
		Steps: counter("steps_total", "Completed steps."),
		StepSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "step_duration_seconds",
			Help:    "Wall-clock time of one step.",
			Buckets: prometheus.ExponentialBuckets(1e-3, 4, 10),
		}, []string{"rank"}),
	}
}

// Walk records the work done by one force pass.
func (m *Metrics) Walk(rank int, accepted, interactions, fetches, rounds int64) {
	if m == nil {
		return
	}
	r := strconv.Itoa(rank)
	m.AcceptedNodes.WithLabelValues(r).Add(float64(accepted))
	m.Interactions.WithLabelValues(r).Add(float64(interactions))
	m.RemoteFetches.WithLabelValues(r).Add(float64(fetches))
	m.FetchRounds.WithLabelValues(r).Add(float64(rounds))
}

// Step records a finished step.
func (m *Metrics) Step(rank, migrated int, rebalanced bool, dt time.Duration) {
	if m == nil {
		return
	}
	r := strconv.Itoa(rank)
	m.Migrated.WithLabelValues(r).Add(float64(migrated))
	if rebalanced {
		m.Rebalances.WithLabelValues(r).Inc()
	}
	m.Steps.WithLabelValues(r).Inc()
	m.StepSeconds.WithLabelValues(r).Observe(dt.Seconds())
}

// Handler serves the series gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
