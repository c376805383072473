// Package kmetrics exports what a dataverse runtime does as Prometheus
// metrics.
package kmetrics

import (
	"time"

	"github.com/jo-chemla/theatre/dataverse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "theatre"

const subsystem = "dataverse"

// Collector implements dataverse.Observer.
type Collector struct {
	// Computations counts derivation computes. Labels: result (ok, error).
	Computations *prometheus.CounterVec

	// ComputeSeconds measures derivation compute time.
	ComputeSeconds prometheus.Histogram

	// PrismUses counts prism uses. Labels: result (hit, miss).
	PrismUses *prometheus.CounterVec

	// Flushes counts flush passes of the ticker.
	Flushes prometheus.Counter

	// ChangedAtoms counts atoms that changed, summed over flush passes.
	ChangedAtoms prometheus.Counter

	// Invalidations counts nodes marked Dirty by flushes.
	Invalidations prometheus.Counter

	// DeferredWrites counts writes queued while a computation was running.
	DeferredWrites prometheus.Counter
}

// New creates the collector and registers its metrics with reg. A nil reg
// leaves the metrics unregistered.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		Computations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "computations_total",
			Help:      "Derivation computes by result.",
		}, []string{"result"}),
		ComputeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compute_seconds",
			Help:      "Time spent computing derivations.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		PrismUses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "prism_uses_total",
			Help:      "Prism uses by cache result.",
		}, []string{"result"}),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flushes_total",
			Help:      "Ticker flush passes.",
		}),
		ChangedAtoms: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "changed_atoms_total",
			Help:      "Atoms changed per flush pass, summed.",
		}),
		Invalidations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invalidations_total",
			Help:      "Nodes marked dirty by flushes.",
		}),
		DeferredWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deferred_writes_total",
			Help:      "Writes deferred because a computation was running.",
		}),
	}
}

func (c *Collector) Computed(_ string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Computations.WithLabelValues(result).Inc()
	c.ComputeSeconds.Observe(elapsed.Seconds())
}

func (c *Collector) PrismEvaluated(_ string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.PrismUses.WithLabelValues(result).Inc()
}

func (c *Collector) Flushed(changed, invalidated int) {
	c.Flushes.Inc()
	c.ChangedAtoms.Add(float64(changed))
	c.Invalidations.Add(float64(invalidated))
}

func (c *Collector) WriteDeferred() {
	c.DeferredWrites.Inc()
}

var _ dataverse.Observer = (*Collector)(nil)
