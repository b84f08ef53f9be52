package convert

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes conversion counters and latency.
type Metrics struct {
	conversions *prometheus.CounterVec
	retries     prometheus.Counter
	latency     *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bazi",
			Name:      "conversions_total",
			Help:      "Conversions handled, by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bazi",
			Name:      "upstream_retries_total",
			Help:      "Retried calls to the AI provider.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bazi",
			Name:      "conversion_duration_seconds",
			Help:      "Time spent producing a conversion.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.conversions, m.retries, m.latency)
	}
	return m
}

func (m *Metrics) observe(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.latency.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}
