package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	outcomes *prometheus.CounterVec
	attempts *prometheus.HistogramVec
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	factory := promauto.With(registerer)
	return &metrics{
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localshield_dispatch_outcomes_total",
				Help: "Emergency alert delivery outcomes by channel kind and status",
			},
			[]string{"channel", "status"},
		),
		attempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "localshield_dispatch_attempt_seconds",
				Help:    "Duration of a single delivery attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
	}
}

func (m *metrics) observe(outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	channel := string(outcome.Kind)
	if channel == "" {
		channel = "none"
	}
	m.outcomes.WithLabelValues(channel, string(outcome.Status)).Inc()
	if outcome.Status != StatusNoChannel {
		m.attempts.WithLabelValues(channel).Observe(elapsed.Seconds())
	}
}
