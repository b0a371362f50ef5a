// Package metrics exports the progress of the Markov chains to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mpmccode/mpmc/pkg/mc"
	"github.com/mpmccode/mpmc/pkg/stats"
	"github.com/mpmccode/mpmc/pkg/system"
)

// Collector is an observer that keeps Prometheus metrics of every replica.
type Collector struct {
	reg *prometheus.Registry

	moves      *prometheus.CounterVec
	steps      *prometheus.GaugeVec
	energy     *prometheus.GaugeVec
	molecules  *prometheus.GaugeVec
	volume     *prometheus.GaugeVec
	acceptance *prometheus.GaugeVec
	singular   *prometheus.GaugeVec
}

// New registers the metrics in a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		reg: reg,

		// moves counts the proposed moves.
		// Labels: rank, kind (displace, insert, ...), outcome (accepted, rejected)
		moves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpmc",
			Subsystem: "chain",
			Name:      "moves_total",
			Help:      "Total proposed moves by type and outcome",
		}, []string{"rank", "kind", "outcome"}),

		steps: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mpmc",
			Subsystem: "chain",
			Name:      "step",
			Help:      "Last completed step",
		}, []string{"rank"}),

		energy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mpmc",
			Subsystem: "chain",
			Name:      "energy_kelvin",
			Help:      "Current potential energy",
		}, []string{"rank"}),

		molecules: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mpmc",
			Subsystem: "chain",
			Name:      "molecules",
			Help:      "Current number of movable molecules",
		}, []string{"rank"}),

		volume: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mpmc",
			Subsystem: "chain",
			Name:      "volume_cubic_angstroms",
			Help:      "Current box volume",
		}, []string{"rank"}),

		acceptance: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mpmc",
			Subsystem: "chain",
			Name:      "acceptance_ratio",
			Help:      "Overall acceptance rate at the last interval",
		}, []string{"rank"}),

		singular: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mpmc",
			Subsystem: "chain",
			Name:      "singular_moves",
			Help:      "Moves rejected on a non-finite energy",
		}, []string{"rank"}),
	}
}

// Step implements mc.Observer.
func (c *Collector) Step(rank, step int, kind mc.MoveKind, accepted bool, obs system.Observables) {
	r := strconv.Itoa(rank)
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	c.moves.WithLabelValues(r, kind.String(), outcome).Inc()
	c.steps.WithLabelValues(r).Set(float64(step))
	c.energy.WithLabelValues(r).Set(obs.Energy)
	c.molecules.WithLabelValues(r).Set(obs.N)
	c.volume.WithLabelValues(r).Set(obs.Volume)
}

// Interval implements mc.Observer.
func (c *Collector) Interval(rank, step int, s *system.System, snap stats.Snapshot) error {
	r := strconv.Itoa(rank)
	c.acceptance.WithLabelValues(r).Set(snap.Acceptance)
	c.singular.WithLabelValues(r).Set(float64(snap.Singular))
	return nil
}

// Registry returns the registry holding the metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Handler serves the metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}
