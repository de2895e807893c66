package aggregator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes aggregator progress to Prometheus. A nil *Metrics discards everything.
type Metrics struct {
	outcomes       *prometheus.CounterVec
	networks       prometheus.Gauge
	resolveSeconds prometheus.Histogram
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netrange",
			Name:      "observations_total",
			Help:      "Observations processed, by outcome.",
		}, []string{"outcome"}),
		networks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netrange",
			Name:      "networks",
			Help:      "Networks discovered so far.",
		}),
		resolveSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "netrange",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent waiting on the resolver.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	registerer.MustRegister(metrics.outcomes, metrics.networks, metrics.resolveSeconds)
	return metrics
}

func (metrics *Metrics) observe(outcome Outcome) {
	if metrics != nil {
		metrics.outcomes.WithLabelValues(outcome.String()).Inc()
	}
}

func (metrics *Metrics) setNetworks(count int) {
	if metrics != nil {
		metrics.networks.Set(float64(count))
	}
}

func (metrics *Metrics) resolved(started time.Time) {
	if metrics != nil {
		metrics.resolveSeconds.Observe(time.Since(started).Seconds())
	}
}
