package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the allocation collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	divergences prometheus.Gauge
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ward",
			Name:      "allocation_operations_total",
			Help:      "Allocation operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ward",
			Name:      "allocation_duration_seconds",
			Help:      "Allocation operation latency including lock waits.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		divergences: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ward",
			Name:      "occupancy_divergences",
			Help:      "Rooms whose occupied flag disagrees with patient assignment at the last scan.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.divergences)
	}
	return m
}

func (m *Metrics) observe(op Op, err error, started time.Time) {
	if m == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.operations.WithLabelValues(string(op), outcome).Inc()
	m.duration.WithLabelValues(string(op)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) setDivergences(n int) {
	if m == nil {
		return
	}
	m.divergences.Set(float64(n))
}
